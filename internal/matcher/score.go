package matcher

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/leesh5000/picktrend/internal/similarity"
	"github.com/leesh5000/picktrend/internal/textnorm"
	"github.com/leesh5000/picktrend/internal/trend"
)

// Tier constants. Empirical; kept stable so stored scores stay comparable.
const (
	exactScore = 100.0

	similarityMin       = 0.85
	similarityHigh      = 0.92
	similarityBase      = 60.0
	similaritySlope     = 233.33
	similarityMaxScore  = 95.0
	productContainsBase = 50.0
	productContainsSpan = 30.0
	productContainsHigh = 0.5
	keywordContainsBase = 45.0
	keywordContainsSpan = 25.0
	keywordContainsMed  = 0.6
	brandBase           = 30.0
	brandSpan           = 20.0
	brandMedium         = 0.3
	categoryMinOverlap  = 0.2
	categoryBase        = 20.0
	categorySpan        = 20.0
)

// Result is a scored keyword–product pairing.
type Result struct {
	Score      float64          `json:"score"`
	Type       trend.MatchType  `json:"match_type"`
	Confidence trend.Confidence `json:"confidence"`
}

// input carries both sides in the forms the tiers need.
type input struct {
	keyword, product         string // raw
	normKeyword, normProduct string
	category                 string
}

type tierFunc func(sc *Scorer, in input) (Result, bool)

type tier struct {
	kind  trend.MatchType
	score tierFunc
}

// tiers are evaluated in order; the first that applies wins.
var tiers = []tier{
	{trend.MatchExact, exactTier},
	{trend.MatchSimilarity, similarityTier},
	{trend.MatchPartial, partialTier},
	{trend.MatchBrand, brandTier},
	{trend.MatchCategory, categoryTier},
}

// Scorer applies the tiered policy to one keyword–product pair.
type Scorer struct {
	sim    *similarity.Engine
	brands BrandDictionary
}

// NewScorer builds a Scorer. A nil engine selects similarity.New(nil).
func NewScorer(sim *similarity.Engine, brands BrandDictionary) *Scorer {
	if sim == nil {
		sim = similarity.New(nil)
	}
	return &Scorer{sim: sim, brands: brands}
}

// MatchScore scores keyword against p. ok is false when no tier applies.
func (sc *Scorer) MatchScore(keyword string, p trend.Product) (Result, bool) {
	in := input{
		keyword:     keyword,
		product:     p.Name,
		normKeyword: sc.sim.Normalize(keyword),
		normProduct: p.Normalized,
		category:    p.Category,
	}
	if in.normProduct == "" {
		in.normProduct = sc.sim.Normalize(p.Name)
	}
	if in.normKeyword == "" || in.normProduct == "" {
		return Result{}, false
	}
	for _, t := range tiers {
		if r, ok := t.score(sc, in); ok {
			r.Type = t.kind
			r.Score = round2(r.Score)
			return r, true
		}
	}
	return Result{}, false
}

func exactTier(_ *Scorer, in input) (Result, bool) {
	if in.normKeyword != in.normProduct {
		return Result{}, false
	}
	return Result{Score: exactScore, Confidence: trend.ConfidenceHigh}, true
}

func similarityTier(sc *Scorer, in input) (Result, bool) {
	s := sc.sim.JaroWinkler(in.normKeyword, in.normProduct)
	if s < similarityMin {
		return Result{}, false
	}
	conf := trend.ConfidenceMedium
	if s >= similarityHigh {
		conf = trend.ConfidenceHigh
	}
	score := math.Min(similarityBase+(s-similarityMin)*similaritySlope, similarityMaxScore)
	return Result{Score: score, Confidence: conf}, true
}

// partialTier compares case-folded text with word spacing kept, so lengths
// count the spaces and containment respects word boundaries.
func partialTier(_ *Scorer, in input) (Result, bool) {
	keyword, product := textnorm.Collapse(in.keyword), textnorm.Collapse(in.product)
	if keyword == "" || product == "" {
		return Result{}, false
	}
	kl := float64(utf8.RuneCountInString(keyword))
	pl := float64(utf8.RuneCountInString(product))

	if strings.Contains(product, keyword) {
		ratio := kl / pl
		conf := trend.ConfidenceMedium
		if ratio >= productContainsHigh {
			conf = trend.ConfidenceHigh
		}
		return Result{Score: productContainsBase + ratio*productContainsSpan, Confidence: conf}, true
	}
	if strings.Contains(keyword, product) {
		ratio := pl / kl
		conf := trend.ConfidenceLow
		if ratio >= keywordContainsMed {
			conf = trend.ConfidenceMedium
		}
		return Result{Score: keywordContainsBase + ratio*keywordContainsSpan, Confidence: conf}, true
	}
	return Result{}, false
}

func brandTier(sc *Scorer, in input) (Result, bool) {
	if sc.brands.Len() == 0 {
		return Result{}, false
	}
	kb := sc.brands.mentions(in.keyword, in.category)
	if len(kb) == 0 {
		return Result{}, false
	}
	pb := sc.brands.mentions(in.product, in.category)
	shared := false
	for b := range kb {
		if pb[b] {
			shared = true
			break
		}
	}
	if !shared {
		return Result{}, false
	}

	overlap := jaccard(textnorm.Tokens(in.keyword), textnorm.Tokens(in.product))
	conf := trend.ConfidenceLow
	if overlap >= brandMedium {
		conf = trend.ConfidenceMedium
	}
	return Result{Score: brandBase + overlap*brandSpan, Confidence: conf}, true
}

func categoryTier(_ *Scorer, in input) (Result, bool) {
	overlap := jaccard(textnorm.Tokens(in.keyword), textnorm.Tokens(in.product))
	if overlap < categoryMinOverlap {
		return Result{}, false
	}
	return Result{Score: categoryBase + overlap*categorySpan, Confidence: trend.ConfidenceLow}, true
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]bool, len(a))
	for _, t := range a {
		sa[t] = true
	}
	sb := make(map[string]bool, len(b))
	for _, t := range b {
		sb[t] = true
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(sa)+len(sb)-inter)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
