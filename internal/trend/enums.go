package trend

import "fmt"

// MatchType is the tier that produced a keyword–product match.
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchSimilarity MatchType = "similarity"
	MatchPartial    MatchType = "partial"
	MatchBrand      MatchType = "brand"
	MatchCategory   MatchType = "category"
)

// MatchTypes lists match tiers in evaluation order.
func MatchTypes() []MatchType {
	return []MatchType{MatchExact, MatchSimilarity, MatchPartial, MatchBrand, MatchCategory}
}

// ParseMatchType converts a stored value back into a MatchType.
func ParseMatchType(s string) (MatchType, error) {
	switch MatchType(s) {
	case MatchExact, MatchSimilarity, MatchPartial, MatchBrand, MatchCategory:
		return MatchType(s), nil
	}
	return "", fmt.Errorf("unknown match type %q", s)
}

// Confidence grades a match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// PeriodKind is the granularity of a ranking period.
type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodMonthly PeriodKind = "monthly"
	PeriodYearly  PeriodKind = "yearly"
)

// ParsePeriodKind converts user or stored input into a PeriodKind.
func ParsePeriodKind(s string) (PeriodKind, error) {
	switch PeriodKind(s) {
	case PeriodDaily, PeriodMonthly, PeriodYearly:
		return PeriodKind(s), nil
	}
	return "", fmt.Errorf("unknown period kind %q", s)
}
