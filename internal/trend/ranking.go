package trend

import "time"

// PeriodKey identifies a calendar bucket. Month and Day are zero when
// the period kind does not use them.
type PeriodKey struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

// RankingPeriod is a time bucket keywords are ranked over.
type RankingPeriod struct {
	ID      int64      `json:"id"`
	Kind    PeriodKind `json:"kind"`
	Key     PeriodKey  `json:"key"`
	StartAt time.Time  `json:"start_at"`
	EndAt   time.Time  `json:"end_at"`
}

// RankingEntry is one keyword's position within a period.
type RankingEntry struct {
	PeriodID     int64   `json:"period_id"`
	KeywordID    int64   `json:"keyword_id"`
	Keyword      string  `json:"keyword,omitempty"`
	Rank         int     `json:"rank"`
	PreviousRank *int    `json:"previous_rank"`
	Score        float64 `json:"score"`
	Signal       float64 `json:"signal"`
	ProductCount int     `json:"product_count"`
}

// IsNew reports whether the keyword was absent from the previous period.
func (e RankingEntry) IsNew() bool {
	return e.PreviousRank == nil
}

// RankChange is previous rank minus current rank; positive means the
// keyword moved up. Zero for new entries.
func (e RankingEntry) RankChange() int {
	if e.PreviousRank == nil {
		return 0
	}
	return *e.PreviousRank - e.Rank
}
