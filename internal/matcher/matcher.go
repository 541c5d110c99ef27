// Package matcher links trend keywords to catalog products.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/leesh5000/picktrend/internal/throttle"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

// ErrKeywordNotFound is returned when matching an unknown keyword id.
var ErrKeywordNotFound = errors.New("keyword not found")

const (
	DefaultMinScore = 30.0
	DefaultLimit    = 20
)

// Store is the persistence the matcher needs.
type Store interface {
	GetKeyword(ctx context.Context, id int64) (trend.Keyword, error)
	ActiveKeywords(ctx context.Context) ([]trend.Keyword, error)
	ActiveProducts(ctx context.Context, category string) ([]trend.Product, error)
	MatchesForKeyword(ctx context.Context, keywordID int64) ([]trend.ProductMatch, error)
	// ApplyMatches runs as one atomic unit: optional removal of the
	// keyword's non-manual matches, then the upserts.
	ApplyMatches(ctx context.Context, keywordID int64, clearAuto bool, upserts []trend.ProductMatch) error
}

// Config tunes matching.
type Config struct {
	MinScore float64
	Limit    int
	// RatePerSecond paces MatchAll; zero means unpaced.
	RatePerSecond float64
}

// Candidate is a product that scored above the threshold.
type Candidate struct {
	Product trend.Product `json:"product"`
	Result
}

// FindOptions narrows FindMatchingProducts.
type FindOptions struct {
	Category string
	Limit    int
	MinScore float64
}

// MatchOptions controls how MatchKeywordToProducts treats existing rows.
type MatchOptions struct {
	ClearExisting  bool
	PreserveManual bool
}

// MatchResult counts the rows written for one keyword.
type MatchResult struct {
	Matched int `json:"matched"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// AllResult summarizes MatchAll.
type AllResult struct {
	Processed int      `json:"processed"`
	Matched   int      `json:"matched"`
	Updated   int      `json:"updated"`
	Errors    []string `json:"errors"`
}

// Matcher scores keywords against the active catalog and persists matches.
type Matcher struct {
	store  Store
	scorer *Scorer
	cfg    Config
	logger *zap.Logger
}

// New creates a Matcher.
func New(store Store, scorer *Scorer, cfg Config, logger *zap.Logger) *Matcher {
	if scorer == nil {
		scorer = NewScorer(nil, DefaultBrands())
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Matcher{
		store:  store,
		scorer: scorer,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "matcher")),
	}
}

// FindMatchingProducts scores every active product (in opts.Category when
// set) and returns those at or above MinScore, best first, at most Limit.
func (m *Matcher) FindMatchingProducts(ctx context.Context, keyword string, opts FindOptions) ([]Candidate, error) {
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	if opts.Limit <= 0 {
		opts.Limit = m.cfg.Limit
	}

	products, err := m.store.ActiveProducts(ctx, opts.Category)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	var out []Candidate
	for _, p := range products {
		r, ok := m.scorer.MatchScore(keyword, p)
		if !ok || r.Score < opts.MinScore {
			continue
		}
		out = append(out, Candidate{Product: p, Result: r})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// MatchKeywordToProducts finds products for the keyword (scoped to its own
// category) and writes them as matches in a single atomic step.
func (m *Matcher) MatchKeywordToProducts(ctx context.Context, keywordID int64, opts MatchOptions) (MatchResult, error) {
	kw, err := m.store.GetKeyword(ctx, keywordID)
	if errors.Is(err, trend.ErrNotFound) {
		return MatchResult{}, ErrKeywordNotFound
	}
	if err != nil {
		return MatchResult{}, fmt.Errorf("get keyword %d: %w", keywordID, err)
	}

	candidates, err := m.FindMatchingProducts(ctx, kw.Text, FindOptions{
		Category: kw.Category,
		Limit:    m.cfg.Limit,
		MinScore: m.cfg.MinScore,
	})
	if err != nil {
		return MatchResult{}, err
	}

	current, err := m.store.MatchesForKeyword(ctx, kw.ID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("existing matches: %w", err)
	}
	existing := make(map[int64]trend.ProductMatch, len(current))
	for _, pm := range current {
		if opts.ClearExisting && !pm.Manual {
			continue
		}
		existing[pm.ProductID] = pm
	}

	var res MatchResult
	upserts := make([]trend.ProductMatch, 0, len(candidates))
	for _, c := range candidates {
		if prev, ok := existing[c.Product.ID]; ok {
			if prev.Manual && opts.PreserveManual {
				res.Skipped++
				continue
			}
			res.Updated++
		} else {
			res.Matched++
		}
		upserts = append(upserts, trend.ProductMatch{
			KeywordID: kw.ID,
			ProductID: c.Product.ID,
			Score:     c.Score,
			Type:      c.Type,
		})
	}

	if len(upserts) == 0 && !opts.ClearExisting {
		return res, nil
	}
	if err := m.store.ApplyMatches(ctx, kw.ID, opts.ClearExisting, upserts); err != nil {
		return MatchResult{}, fmt.Errorf("apply matches for %d: %w", kw.ID, err)
	}
	return res, nil
}

// MatchAll matches every active keyword, paced by Config.RatePerSecond.
// A failure on one keyword is logged and collected; the scan continues.
func (m *Matcher) MatchAll(ctx context.Context, opts MatchOptions) (AllResult, error) {
	kws, err := m.store.ActiveKeywords(ctx)
	if err != nil {
		return AllResult{}, fmt.Errorf("list keywords: %w", err)
	}
	m.logger.Info("Matching started", zap.Int("keywords", len(kws)))

	res := AllResult{Errors: []string{}}
	it := throttle.New(kws, m.cfg.RatePerSecond, 1)
	for it.Next(ctx) {
		kw := it.Item()
		r, err := m.MatchKeywordToProducts(ctx, kw.ID, opts)
		res.Processed++
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("keyword %d: %v", kw.ID, err))
			m.logger.Warn("match keyword failed", zap.Int64("keyword_id", kw.ID), zap.Error(err))
			continue
		}
		res.Matched += r.Matched
		res.Updated += r.Updated
	}
	if err := it.Err(); err != nil {
		return res, err
	}

	m.logger.Info("Matching finished",
		zap.Int("processed", res.Processed),
		zap.Int("matched", res.Matched),
		zap.Int("updated", res.Updated),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}
