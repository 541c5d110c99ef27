package trend

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Source identifies where a keyword or metric was collected.
type Source string

const (
	SourceManual        Source = "manual"
	SourceGoogleTrends  Source = "google_trends"
	SourceNaverDataLab  Source = "naver_datalab"
	SourceNaverShopping Source = "naver_shopping"
	SourceYouTube       Source = "youtube"
	SourceDCInside      Source = "dcinside"
	SourceFMKorea       Source = "fmkorea"
	SourceTheqoo        Source = "theqoo"
	SourceRuliweb       Source = "ruliweb"
	SourcePpomppu       Source = "ppomppu"
	SourceClien         Source = "clien"
)

// Sources lists every known source in a stable order.
func Sources() []Source {
	return []Source{
		SourceManual, SourceGoogleTrends, SourceNaverDataLab, SourceNaverShopping, SourceYouTube,
		SourceDCInside, SourceFMKorea, SourceTheqoo, SourceRuliweb, SourcePpomppu, SourceClien,
	}
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceGoogleTrends, SourceNaverDataLab, SourceNaverShopping, SourceYouTube,
		SourceDCInside, SourceFMKorea, SourceTheqoo, SourceRuliweb, SourcePpomppu, SourceClien:
		return true
	}
	return false
}

// Community reports whether s is a community hot-post board.
func (s Source) Community() bool {
	switch s {
	case SourceDCInside, SourceFMKorea, SourceTheqoo, SourceRuliweb, SourcePpomppu, SourceClien:
		return true
	}
	return false
}

// Keyword is a tracked trend topic.
type Keyword struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	Normalized string    `json:"normalized"`
	Category   string    `json:"category,omitempty"`
	Source     Source    `json:"source"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Metric is one observation of a keyword's signal strength.
type Metric struct {
	ID          int64     `json:"id"`
	KeywordID   int64     `json:"keyword_id"`
	Source      Source    `json:"source"`
	CollectedAt time.Time `json:"collected_at"`
	Value       float64   `json:"value"`
	SourceRank  *int      `json:"source_rank,omitempty"`
}

// Cluster groups keywords that denote the same topic.
type Cluster struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Normalized string    `json:"normalized"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Membership joins a keyword to a cluster.
type Membership struct {
	ClusterID  int64   `json:"cluster_id"`
	KeywordID  int64   `json:"keyword_id"`
	Similarity float64 `json:"similarity"`
}

// Member is a membership together with the keyword it points at.
type Member struct {
	Membership
	Keyword Keyword `json:"keyword"`
}

// Product is a catalog entry. Owned by the catalog; read-only here.
type Product struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Normalized string `json:"normalized"`
	Category   string `json:"category,omitempty"`
	Active     bool   `json:"active"`
}

// ProductMatch associates a keyword with a product.
type ProductMatch struct {
	KeywordID int64     `json:"keyword_id"`
	ProductID int64     `json:"product_id"`
	Score     float64   `json:"score"`
	Type      MatchType `json:"match_type"`
	Manual    bool      `json:"is_manual"`
}
