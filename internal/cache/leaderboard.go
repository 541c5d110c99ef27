package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leesh5000/picktrend/internal/trend"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "picktrend:leaderboard:"

// Source loads a stored leaderboard when the cache misses.
type Source interface {
	Leaderboard(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (trend.RankingPeriod, []trend.RankingEntry, error)
}

// Snapshot is one period's complete ranking as cached.
type Snapshot struct {
	Period  trend.RankingPeriod  `json:"period"`
	Entries []trend.RankingEntry `json:"entries"`
}

// Connect opens a Redis client from a redis:// URL and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Leaderboard caches generated leaderboards in Redis, one key per period.
type Leaderboard struct {
	rdb    *redis.Client
	source Source
	ttl    time.Duration
	logger *zap.Logger
}

func NewLeaderboard(rdb *redis.Client, source Source, ttl time.Duration, logger *zap.Logger) *Leaderboard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Leaderboard{
		rdb:    rdb,
		source: source,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "leaderboard-cache")),
	}
}

func cacheKey(kind trend.PeriodKind, key trend.PeriodKey) string {
	switch kind {
	case trend.PeriodDaily:
		return fmt.Sprintf("%s%s:%04d-%02d-%02d", keyPrefix, kind, key.Year, key.Month, key.Day)
	case trend.PeriodMonthly:
		return fmt.Sprintf("%s%s:%04d-%02d", keyPrefix, kind, key.Year, key.Month)
	}
	return fmt.Sprintf("%s%s:%04d", keyPrefix, kind, key.Year)
}

func encode(p trend.RankingPeriod, entries []trend.RankingEntry) ([]byte, error) {
	if entries == nil {
		entries = []trend.RankingEntry{}
	}
	return json.Marshal(Snapshot{Period: p, Entries: entries})
}

// Put replaces the cached snapshot of a period with a single SET.
func (c *Leaderboard) Put(ctx context.Context, p trend.RankingPeriod, entries []trend.RankingEntry) error {
	data, err := encode(p, entries)
	if err != nil {
		return err
	}
	key := cacheKey(p.Kind, p.Key)
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	return nil
}

// fill caches a snapshot read from the source only if nothing was
// published in the meantime; Put always wins over a miss fill.
func (c *Leaderboard) fill(ctx context.Context, p trend.RankingPeriod, entries []trend.RankingEntry) error {
	data, err := encode(p, entries)
	if err != nil {
		return err
	}
	key := cacheKey(p.Kind, p.Key)
	if err := c.rdb.SetNX(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	return nil
}

// Get returns the cached snapshot, loading and caching it from the source
// on a miss. Redis failures degrade to a source read.
func (c *Leaderboard) Get(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (Snapshot, error) {
	ck := cacheKey(kind, key)
	raw, err := c.rdb.Get(ctx, ck).Bytes()
	switch {
	case err == nil:
		var snap Snapshot
		if jerr := json.Unmarshal(raw, &snap); jerr == nil {
			return snap, nil
		}
		c.logger.Warn("corrupt leaderboard cache entry", zap.String("key", ck))
		c.rdb.Del(ctx, ck)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("leaderboard cache read failed", zap.String("key", ck), zap.Error(err))
	}

	p, entries, err := c.source.Leaderboard(ctx, kind, key)
	if err != nil {
		return Snapshot{}, err
	}
	if err := c.fill(ctx, p, entries); err != nil {
		c.logger.Warn("leaderboard cache write failed", zap.String("key", ck), zap.Error(err))
	}
	if entries == nil {
		entries = []trend.RankingEntry{}
	}
	return Snapshot{Period: p, Entries: entries}, nil
}

// Leaderboard is Get in the Source shape, so the cache can stand in for
// the generator wherever a leaderboard is read.
func (c *Leaderboard) Leaderboard(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (trend.RankingPeriod, []trend.RankingEntry, error) {
	snap, err := c.Get(ctx, kind, key)
	return snap.Period, snap.Entries, err
}

// Invalidate drops a period's cached snapshot.
func (c *Leaderboard) Invalidate(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) error {
	return c.rdb.Del(ctx, cacheKey(kind, key)).Err()
}
