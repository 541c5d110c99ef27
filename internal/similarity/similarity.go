// Package similarity scores how alike two keyword strings are.
package similarity

import (
	"math"

	"github.com/leesh5000/picktrend/internal/textnorm"
)

const (
	// NgramLengthScale and NgramWeightCap shape the bigram blend:
	// weight = min(avgLen/NgramLengthScale, NgramWeightCap).
	NgramLengthScale = 20.0
	NgramWeightCap   = 0.5

	winklerPrefixScale = 0.1
	winklerMaxPrefix   = 4
	winklerBoostAbove  = 0.7
)

// Engine computes blended similarity on normalized text.
type Engine struct {
	norm textnorm.Normalizer
}

// New creates an Engine. A nil normalizer selects textnorm.Default.
func New(n textnorm.Normalizer) *Engine {
	if n == nil {
		n = textnorm.Default
	}
	return &Engine{norm: n}
}

// Similarity returns a score in [0,1]. Identical normalized forms score 1,
// except two empty ones, which score 0.
func (e *Engine) Similarity(a, b string) float64 {
	na, nb := e.norm.Normalize(a), e.norm.Normalize(b)
	if na == nb {
		if na == "" {
			return 0
		}
		return 1
	}
	if na > nb {
		na, nb = nb, na
	}
	ra, rb := []rune(na), []rune(nb)
	jw := jaroWinkler(ra, rb)
	ng := bigramJaccard(ra, rb)

	avgLen := float64(len(ra)+len(rb)) / 2
	w := math.Min(avgLen/NgramLengthScale, NgramWeightCap)
	return clamp01(jw*(1-w) + ng*w)
}

// JaroWinkler returns only the character-level component on normalized text.
func (e *Engine) JaroWinkler(a, b string) float64 {
	na, nb := e.norm.Normalize(a), e.norm.Normalize(b)
	if na == nb {
		if na == "" {
			return 0
		}
		return 1
	}
	if na > nb {
		na, nb = nb, na
	}
	return jaroWinkler([]rune(na), []rune(nb))
}

// Normalize exposes the engine's normalizer.
func (e *Engine) Normalize(s string) string {
	return e.norm.Normalize(s)
}

func jaro(a, b []rune) float64 {
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}

	matchedA := make([]bool, la)
	matchedB := make([]bool, lb)
	matches := 0
	for i := 0; i < la; i++ {
		lo := max(0, i-window)
		hi := min(lb-1, i+window)
		for j := lo; j <= hi; j++ {
			if matchedB[j] || a[i] != b[j] {
				continue
			}
			matchedA[i], matchedB[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !matchedA[i] {
			continue
		}
		for !matchedB[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(la) + m/float64(lb) + (m-t)/m) / 3
}

func jaroWinkler(a, b []rune) float64 {
	j := jaro(a, b)
	if j <= winklerBoostAbove {
		return j
	}
	prefix := 0
	for i := 0; i < min(len(a), len(b), winklerMaxPrefix); i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*winklerPrefixScale*(1-j)
}

func bigrams(r []rune) map[string]struct{} {
	set := make(map[string]struct{}, len(r))
	for i := 0; i+1 < len(r); i++ {
		set[string(r[i:i+2])] = struct{}{}
	}
	return set
}

func bigramJaccard(a, b []rune) float64 {
	sa, sb := bigrams(a), bigrams(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for g := range sa {
		if _, ok := sb[g]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
