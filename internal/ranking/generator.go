// Package ranking builds per-period keyword leaderboards with rank deltas.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

// consistencyWindow is how many recent metrics count toward consistency.
const consistencyWindow = 30

// maxBase caps the signal component; bonuses add at most 25 on top.
const maxBase = 100.0

// Store is the persistence the generator needs.
type Store interface {
	FindPeriod(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (trend.RankingPeriod, error)
	EnsurePeriod(ctx context.Context, p trend.RankingPeriod) (trend.RankingPeriod, error)
	RankingEntries(ctx context.Context, periodID int64) ([]trend.RankingEntry, error)
	ActiveKeywords(ctx context.Context) ([]trend.Keyword, error)
	RecentMetrics(ctx context.Context, keywordID int64, before time.Time, limit int) ([]trend.Metric, error)
	ActiveMatchCount(ctx context.Context, keywordID int64) (int, error)
	// ReplaceRankingEntries swaps the period's entries in one atomic unit.
	ReplaceRankingEntries(ctx context.Context, periodID int64, entries []trend.RankingEntry) error
}

// Config tunes ranking.
type Config struct {
	Location        *time.Location
	ExcludedSources []trend.Source
}

// DefaultExcludedSources lists the community boards left out of rankings.
func DefaultExcludedSources() []trend.Source {
	var out []trend.Source
	for _, s := range trend.Sources() {
		if s.Community() {
			out = append(out, s)
		}
	}
	return out
}

// Result summarizes one generation.
type Result struct {
	PeriodID        int64    `json:"period_id"`
	RankingsCreated int      `json:"rankings_created"`
	Errors          []string `json:"errors"`
}

// Generator computes ranking snapshots.
type Generator struct {
	store    Store
	loc      *time.Location
	excluded map[trend.Source]bool
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a Generator. A nil Location means UTC.
func New(store Store, cfg Config, logger *zap.Logger) *Generator {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	excluded := make(map[trend.Source]bool, len(cfg.ExcludedSources))
	for _, s := range cfg.ExcludedSources {
		excluded[s] = true
	}
	return &Generator{
		store:    store,
		loc:      loc,
		excluded: excluded,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "ranking")),
	}
}

// SetClock overrides the generator's time source.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// Location returns the zone periods are computed in.
func (g *Generator) Location() *time.Location { return g.loc }

// RecencyBonus tiers the hours since a keyword's latest metric.
func RecencyBonus(hours float64) float64 {
	switch {
	case hours <= 6:
		return 10
	case hours <= 24:
		return 7
	case hours <= 72:
		return 4
	case hours <= 168:
		return 2
	}
	return 0
}

// ConsistencyBonus tiers the number of recent metrics.
func ConsistencyBonus(n int) float64 {
	switch {
	case n >= 20:
		return 10
	case n >= 10:
		return 7
	case n >= 5:
		return 4
	case n >= 2:
		return 2
	}
	return 0
}

// ProductBonus tiers the number of active matched products.
func ProductBonus(n int) float64 {
	switch {
	case n >= 5:
		return 5
	case n >= 3:
		return 3
	case n >= 1:
		return 1
	}
	return 0
}

type scored struct {
	kw       trend.Keyword
	total    float64
	signal   float64
	products int
}

// Generate resolves the period, scores every eligible keyword, assigns
// dense ranks with deltas against the previous period and replaces the
// period's entries. A keyword that fails to score is left out and its
// error collected.
func (g *Generator) Generate(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (Result, error) {
	key, start, end, err := Bounds(kind, key, g.loc)
	if err != nil {
		return Result{}, err
	}

	period, err := g.store.EnsurePeriod(ctx, trend.RankingPeriod{Kind: kind, Key: key, StartAt: start, EndAt: end})
	if err != nil {
		return Result{}, fmt.Errorf("resolve period: %w", err)
	}
	res := Result{PeriodID: period.ID, Errors: []string{}}

	prevRanks, err := g.previousRanks(ctx, kind, key)
	if err != nil {
		return res, err
	}

	ref := g.now()
	if !ref.Before(period.EndAt) {
		ref = period.EndAt.Add(-time.Nanosecond)
	}

	kws, err := g.store.ActiveKeywords(ctx)
	if err != nil {
		return res, fmt.Errorf("list keywords: %w", err)
	}
	g.logger.Info("Ranking started",
		zap.String("kind", string(kind)),
		zap.Int("year", key.Year), zap.Int("month", key.Month), zap.Int("day", key.Day),
		zap.Int("keywords", len(kws)))

	var rows []scored
	for _, kw := range kws {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if g.excluded[kw.Source] {
			continue
		}
		s, ok, err := g.score(ctx, kw, ref)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("keyword %d: %v", kw.ID, err))
			g.logger.Warn("score keyword failed", zap.Int64("keyword_id", kw.ID), zap.Error(err))
			continue
		}
		if ok {
			rows = append(rows, s)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].total != rows[j].total {
			return rows[i].total > rows[j].total
		}
		if rows[i].signal != rows[j].signal {
			return rows[i].signal > rows[j].signal
		}
		return rows[i].kw.ID < rows[j].kw.ID
	})

	entries := make([]trend.RankingEntry, len(rows))
	for i, r := range rows {
		e := trend.RankingEntry{
			PeriodID:     period.ID,
			KeywordID:    r.kw.ID,
			Keyword:      r.kw.Text,
			Rank:         i + 1,
			Score:        round2(r.total),
			Signal:       r.signal,
			ProductCount: r.products,
		}
		if prev, ok := prevRanks[r.kw.ID]; ok {
			p := prev
			e.PreviousRank = &p
		}
		entries[i] = e
	}

	if err := g.store.ReplaceRankingEntries(ctx, period.ID, entries); err != nil {
		return res, fmt.Errorf("replace entries for period %d: %w", period.ID, err)
	}
	res.RankingsCreated = len(entries)

	g.logger.Info("Ranking finished",
		zap.Int64("period_id", period.ID),
		zap.Int("rankings_created", res.RankingsCreated),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (g *Generator) previousRanks(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (map[int64]int, error) {
	ranks := make(map[int64]int)
	prevKey, ok := Previous(kind, key)
	if !ok {
		return ranks, nil
	}
	prev, err := g.store.FindPeriod(ctx, kind, prevKey)
	if errors.Is(err, trend.ErrNotFound) {
		return ranks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find previous period: %w", err)
	}
	entries, err := g.store.RankingEntries(ctx, prev.ID)
	if err != nil {
		return nil, fmt.Errorf("load previous entries: %w", err)
	}
	for _, e := range entries {
		ranks[e.KeywordID] = e.Rank
	}
	return ranks, nil
}

func (g *Generator) score(ctx context.Context, kw trend.Keyword, ref time.Time) (scored, bool, error) {
	metrics, err := g.store.RecentMetrics(ctx, kw.ID, ref, consistencyWindow)
	if err != nil {
		return scored{}, false, fmt.Errorf("recent metrics: %w", err)
	}
	if len(metrics) == 0 {
		return scored{}, false, nil
	}
	products, err := g.store.ActiveMatchCount(ctx, kw.ID)
	if err != nil {
		return scored{}, false, fmt.Errorf("match count: %w", err)
	}

	latest := metrics[0]
	hours := ref.Sub(latest.CollectedAt).Hours()
	total := math.Min(latest.Value, maxBase) +
		RecencyBonus(hours) +
		ConsistencyBonus(len(metrics)) +
		ProductBonus(products)

	return scored{
		kw:       kw,
		total:    total,
		signal:   latest.Value,
		products: products,
	}, true, nil
}

// Leaderboard returns a stored period and its entries by rank.
func (g *Generator) Leaderboard(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (trend.RankingPeriod, []trend.RankingEntry, error) {
	key, _, _, err := Bounds(kind, key, g.loc)
	if err != nil {
		return trend.RankingPeriod{}, nil, err
	}
	p, err := g.store.FindPeriod(ctx, kind, key)
	if err != nil {
		return trend.RankingPeriod{}, nil, err
	}
	entries, err := g.store.RankingEntries(ctx, p.ID)
	if err != nil {
		return p, nil, fmt.Errorf("load entries: %w", err)
	}
	return p, entries, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
