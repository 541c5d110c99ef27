package matcher

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/leesh5000/picktrend/internal/textnorm"
)

// brand is a dictionary term split into tokens; multi-word brands like
// "new balance" have more than one.
type brand struct {
	name   string
	tokens []string
}

// BrandDictionary maps a product category to the brand terms known in it.
// Built once and shared read-only.
type BrandDictionary struct {
	byCategory map[string][]brand
	categories []string
}

// NewBrandDictionary tokenizes and indexes the given terms. Terms with no
// token longer than one rune are dropped.
func NewBrandDictionary(raw map[string][]string) BrandDictionary {
	d := BrandDictionary{byCategory: make(map[string][]brand, len(raw))}
	for cat, terms := range raw {
		seen := make(map[string]bool, len(terms))
		var brands []brand
		for _, t := range terms {
			toks := textnorm.Tokens(t)
			name := strings.Join(toks, " ")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			brands = append(brands, brand{name: name, tokens: toks})
		}
		d.byCategory[cat] = brands
		d.categories = append(d.categories, cat)
	}
	sort.Strings(d.categories)
	return d
}

// LoadBrands reads a JSON object of category -> []brand.
func LoadBrands(path string) (BrandDictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BrandDictionary{}, fmt.Errorf("read brands %s: %w", path, err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return BrandDictionary{}, fmt.Errorf("parse brands %s: %w", path, err)
	}
	return NewBrandDictionary(raw), nil
}

// DefaultBrands is the built-in dictionary used when no file is configured.
func DefaultBrands() BrandDictionary {
	return NewBrandDictionary(map[string][]string{
		"digital": {"애플", "apple", "삼성", "samsung", "엘지", "lg", "소니", "sony", "샤오미", "xiaomi", "닌텐도", "nintendo", "로지텍", "logitech"},
		"fashion": {"나이키", "nike", "아디다스", "adidas", "뉴발란스", "new balance", "노스페이스", "north face", "유니클로", "uniqlo"},
		"beauty":  {"이니스프리", "설화수", "라네즈", "에스티로더", "estee lauder", "랑콤", "lancome"},
		"food":    {"농심", "오뚜기", "cj", "비비고", "풀무원", "스타벅스", "starbucks"},
		"living":  {"다이슨", "dyson", "이케아", "ikea", "쿠쿠", "cuckoo", "필립스", "philips"},
	})
}

// Len reports the number of categories.
func (d BrandDictionary) Len() int { return len(d.categories) }

// mentions returns the brands from the dictionary found in text. A brand
// is mentioned when its tokens appear as a run of whole tokens in text.
// The category list is searched first; an unknown or empty category falls
// back to every category.
func (d BrandDictionary) mentions(text, category string) map[string]bool {
	toks := textnorm.Tokens(text)
	found := make(map[string]bool)
	scan := func(brands []brand) {
		for _, b := range brands {
			if containsRun(toks, b.tokens) {
				found[b.name] = true
			}
		}
	}
	if terms, ok := d.byCategory[category]; ok && category != "" {
		scan(terms)
		if len(found) > 0 {
			return found
		}
	}
	for _, cat := range d.categories {
		scan(d.byCategory[cat])
	}
	return found
}

func containsRun(toks, run []string) bool {
	for i := 0; i+len(run) <= len(toks); i++ {
		match := true
		for j, r := range run {
			if toks[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
