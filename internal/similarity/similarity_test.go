package similarity

import (
	"math"
	"strings"
	"testing"

	"github.com/leesh5000/picktrend/internal/textnorm"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

func TestSimilarityReflexive(t *testing.T) {
	e := New(nil)
	for _, s := range []string{"아이폰16", "갤럭시 S24 울트라", "x", "Nike Air Max 97"} {
		if got := e.Similarity(s, s); got != 1 {
			t.Errorf("Similarity(%q, %q) = %v, want 1", s, s, got)
		}
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	e := New(nil)
	pairs := [][2]string{
		{"martha", "marhta"},
		{"아이폰16 프로", "아이폰15"},
		{"dixon", "dicksonx"},
		{"갤럭시 버즈", "버즈 프로 2"},
		{"abc", "xyz"},
		{"crate", "trace"},
	}
	for _, p := range pairs {
		ab, ba := e.Similarity(p[0], p[1]), e.Similarity(p[1], p[0])
		if ab != ba {
			t.Errorf("Similarity not symmetric for %q/%q: %v vs %v", p[0], p[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Similarity(%q, %q) = %v out of range", p[0], p[1], ab)
		}
	}
}

func TestSpaceInsensitiveVariantsClear(t *testing.T) {
	e := New(nil)
	if got := e.Similarity("아이폰16", "아이폰 16"); got <= 0.7 {
		t.Fatalf("Similarity = %v, want > 0.7", got)
	}
}

func TestJaroWinklerKnownValues(t *testing.T) {
	e := New(nil)
	cases := []struct {
		a, b string
		want float64
	}{
		{"MARTHA", "MARHTA", 0.9611},
		{"DWAYNE", "DUANE", 0.84},
		{"DIXON", "DICKSONX", 0.8133},
		{"abc", "xyz", 0},
	}
	for _, c := range cases {
		if got := e.JaroWinkler(c.a, c.b); !approx(got, c.want) {
			t.Errorf("JaroWinkler(%q, %q) = %.4f, want %.4f", c.a, c.b, got, c.want)
		}
	}
}

func TestBlendWeighting(t *testing.T) {
	e := New(nil)
	// len 6: ngram weight 0.3, bigram jaccard 2/8.
	want := 0.9611*0.7 + 0.25*0.3
	if got := e.Similarity("martha", "marhta"); !approx(got, want) {
		t.Fatalf("Similarity = %.4f, want %.4f", got, want)
	}

	// Long strings cap the ngram weight at one half.
	a := strings.Repeat("가나다라마", 10)
	b := a + "바"
	jw := e.JaroWinkler(a, b)
	ra, rb := []rune(e.Normalize(a)), []rune(e.Normalize(b))
	ng := bigramJaccard(ra, rb)
	if got := e.Similarity(a, b); !approx(got, jw*0.5+ng*0.5) {
		t.Fatalf("capped blend = %.4f, want %.4f", got, jw*0.5+ng*0.5)
	}
}

func TestEmptyInput(t *testing.T) {
	e := New(nil)
	if got := e.Similarity("", ""); got != 0 {
		t.Fatalf("empty/empty = %v", got)
	}
	if got := e.Similarity("", "abc"); got != 0 {
		t.Fatalf("empty/abc = %v", got)
	}
	if got := e.Similarity("a", "b"); got != 0 {
		t.Fatalf("single runes = %v", got)
	}
}

func TestInjectedNormalizer(t *testing.T) {
	e := New(textnorm.Func(func(s string) string { return "same" }))
	if got := e.Similarity("foo", "bar"); got != 1 {
		t.Fatalf("Similarity with constant normalizer = %v, want 1", got)
	}
}
