// Package memstore keeps trend data in process memory. It satisfies the same
// ports as the PostgreSQL store and is used by tests and by the service when
// no database is configured.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leesh5000/picktrend/internal/textnorm"
	"github.com/leesh5000/picktrend/internal/trend"
)

type matchKey struct{ keywordID, productID int64 }

type metricKey struct {
	keywordID int64
	source    trend.Source
	at        int64
}

// Store is an in-memory trend store. Safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	seq int64
	now func() time.Time

	keywords  map[int64]trend.Keyword
	kwByNorm  map[string]int64
	metrics   map[metricKey]trend.Metric
	clusters  map[int64]trend.Cluster
	clByNorm  map[string]int64
	members   map[int64]trend.Membership // by keyword id
	products  map[int64]trend.Product
	matches   map[matchKey]trend.ProductMatch
	periods   map[int64]trend.RankingPeriod
	entries   map[int64][]trend.RankingEntry
	normalize func(string) string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		now:       time.Now,
		keywords:  make(map[int64]trend.Keyword),
		kwByNorm:  make(map[string]int64),
		metrics:   make(map[metricKey]trend.Metric),
		clusters:  make(map[int64]trend.Cluster),
		clByNorm:  make(map[string]int64),
		members:   make(map[int64]trend.Membership),
		products:  make(map[int64]trend.Product),
		matches:   make(map[matchKey]trend.ProductMatch),
		periods:   make(map[int64]trend.RankingPeriod),
		entries:   make(map[int64][]trend.RankingEntry),
		normalize: textnorm.Normalize,
	}
}

// SetClock overrides the time used for default creation timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// --- keywords & metrics ---

// UpsertKeyword inserts k unless a keyword with the same normalized text
// exists, in which case the existing row is returned.
func (s *Store) UpsertKeyword(_ context.Context, k trend.Keyword) (trend.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.Normalized == "" {
		k.Normalized = s.normalize(k.Text)
	}
	if k.Normalized == "" {
		return trend.Keyword{}, fmt.Errorf("keyword %q normalizes to empty", k.Text)
	}
	if id, ok := s.kwByNorm[k.Normalized]; ok {
		return s.keywords[id], nil
	}
	k.ID = s.nextID()
	k.Active = true
	if k.CreatedAt.IsZero() {
		k.CreatedAt = s.now()
	}
	s.keywords[k.ID] = k
	s.kwByNorm[k.Normalized] = k.ID
	return k, nil
}

func (s *Store) GetKeyword(_ context.Context, id int64) (trend.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keywords[id]
	if !ok {
		return trend.Keyword{}, trend.ErrNotFound
	}
	return k, nil
}

func (s *Store) DeactivateKeyword(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keywords[id]
	if !ok {
		return trend.ErrNotFound
	}
	k.Active = false
	s.keywords[id] = k
	return nil
}

func newestFirst(kws []trend.Keyword) {
	sort.Slice(kws, func(i, j int) bool {
		if !kws[i].CreatedAt.Equal(kws[j].CreatedAt) {
			return kws[i].CreatedAt.After(kws[j].CreatedAt)
		}
		return kws[i].ID > kws[j].ID
	})
}

func (s *Store) ActiveKeywords(_ context.Context) ([]trend.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]trend.Keyword, 0, len(s.keywords))
	for _, k := range s.keywords {
		if k.Active {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UnclusteredKeywords(_ context.Context, limit int) ([]trend.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trend.Keyword
	for _, k := range s.keywords {
		if _, ok := s.members[k.ID]; !ok && k.Active {
			out = append(out, k)
		}
	}
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordMetric stores m, overwriting an observation with the same keyword,
// source and timestamp.
func (s *Store) RecordMetric(_ context.Context, m trend.Metric) (trend.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keywords[m.KeywordID]; !ok {
		return trend.Metric{}, trend.ErrNotFound
	}
	key := metricKey{m.KeywordID, m.Source, m.CollectedAt.UnixNano()}
	if old, ok := s.metrics[key]; ok {
		m.ID = old.ID
	} else {
		m.ID = s.nextID()
	}
	s.metrics[key] = m
	return m, nil
}

// RecentMetrics returns up to limit metrics collected at or before the
// given instant, newest first. limit <= 0 returns all.
func (s *Store) RecentMetrics(_ context.Context, keywordID int64, before time.Time, limit int) ([]trend.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trend.Metric
	for _, m := range s.metrics {
		if m.KeywordID == keywordID && !m.CollectedAt.After(before) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].CollectedAt.After(out[j].CollectedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- clusters ---

func (s *Store) MembershipOf(_ context.Context, keywordID int64) (trend.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[keywordID]
	if !ok {
		return trend.Membership{}, trend.ErrNotFound
	}
	return m, nil
}

func (s *Store) ActiveClusters(_ context.Context) ([]trend.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trend.Cluster
	for _, c := range s.clusters {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetCluster(_ context.Context, id int64) (trend.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return trend.Cluster{}, trend.ErrNotFound
	}
	return c, nil
}

func (s *Store) ClusterByNormalized(_ context.Context, normalized string) (trend.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.clByNorm[normalized]
	if !ok {
		return trend.Cluster{}, trend.ErrNotFound
	}
	return s.clusters[id], nil
}

// TopMembers returns a cluster's members by similarity, highest first.
// limit <= 0 returns all.
func (s *Store) TopMembers(_ context.Context, clusterID int64, limit int) ([]trend.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trend.Member
	for kid, m := range s.members {
		if m.ClusterID == clusterID {
			out = append(out, trend.Member{Membership: m, Keyword: s.keywords[kid]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].KeywordID < out[j].KeywordID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountMembers(_ context.Context, clusterID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.members {
		if m.ClusterID == clusterID {
			n++
		}
	}
	return n, nil
}

// CreateCluster inserts c with its initial members in one step.
func (s *Store) CreateCluster(_ context.Context, c trend.Cluster, members []trend.Membership) (trend.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clByNorm[c.Normalized]; ok {
		return trend.Cluster{}, fmt.Errorf("cluster %q already exists", c.Normalized)
	}
	for _, m := range members {
		if _, ok := s.members[m.KeywordID]; ok {
			return trend.Cluster{}, fmt.Errorf("keyword %d already clustered", m.KeywordID)
		}
	}
	c.ID = s.nextID()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.clusters[c.ID] = c
	s.clByNorm[c.Normalized] = c.ID
	for _, m := range members {
		m.ClusterID = c.ID
		s.members[m.KeywordID] = m
	}
	return c, nil
}

// AddMemberships adds members, skipping keywords that already belong to a
// cluster. Returns how many were added.
func (s *Store) AddMemberships(_ context.Context, clusterID int64, members []trend.Membership) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[clusterID]; !ok {
		return 0, trend.ErrNotFound
	}
	added := 0
	for _, m := range members {
		if _, ok := s.members[m.KeywordID]; ok {
			continue
		}
		m.ClusterID = clusterID
		s.members[m.KeywordID] = m
		added++
	}
	return added, nil
}

// RemoveMembership deletes a keyword's membership and returns the cluster
// it belonged to.
func (s *Store) RemoveMembership(_ context.Context, keywordID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[keywordID]
	if !ok {
		return 0, trend.ErrNotFound
	}
	delete(s.members, keywordID)
	return m.ClusterID, nil
}

func (s *Store) SetClusterActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok {
		return trend.ErrNotFound
	}
	c.Active = active
	s.clusters[id] = c
	return nil
}

func (s *Store) ResetClusters(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = make(map[int64]trend.Membership)
	for id, c := range s.clusters {
		c.Active = false
		s.clusters[id] = c
	}
	return nil
}

// --- products & matches ---

// SaveProduct inserts p when its ID is zero, otherwise replaces it.
func (s *Store) SaveProduct(_ context.Context, p trend.Product) (trend.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Normalized == "" {
		p.Normalized = s.normalize(p.Name)
	}
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) ActiveProducts(_ context.Context, category string) ([]trend.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trend.Product
	for _, p := range s.products {
		if p.Active && (category == "" || p.Category == category) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MatchesForKeyword(_ context.Context, keywordID int64) ([]trend.ProductMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trend.ProductMatch
	for k, m := range s.matches {
		if k.keywordID == keywordID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ApplyMatches optionally clears the keyword's automatic matches and then
// upserts the given rows, all under one lock.
func (s *Store) ApplyMatches(_ context.Context, keywordID int64, clearAuto bool, upserts []trend.ProductMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keywords[keywordID]; !ok {
		return trend.ErrNotFound
	}
	for _, m := range upserts {
		if _, ok := s.products[m.ProductID]; !ok {
			return fmt.Errorf("product %d: %w", m.ProductID, trend.ErrNotFound)
		}
	}
	if clearAuto {
		for k, m := range s.matches {
			if k.keywordID == keywordID && !m.Manual {
				delete(s.matches, k)
			}
		}
	}
	for _, m := range upserts {
		m.KeywordID = keywordID
		s.matches[matchKey{keywordID, m.ProductID}] = m
	}
	return nil
}

func (s *Store) ActiveMatchCount(_ context.Context, keywordID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.matches {
		if k.keywordID == keywordID && s.products[k.productID].Active {
			n++
		}
	}
	return n, nil
}

// --- rankings ---

func (s *Store) FindPeriod(_ context.Context, kind trend.PeriodKind, key trend.PeriodKey) (trend.RankingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.periods {
		if p.Kind == kind && p.Key == key {
			return p, nil
		}
	}
	return trend.RankingPeriod{}, trend.ErrNotFound
}

// EnsurePeriod returns the stored period for p's kind and key, creating it
// from p when absent.
func (s *Store) EnsurePeriod(_ context.Context, p trend.RankingPeriod) (trend.RankingPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.periods {
		if existing.Kind == p.Kind && existing.Key == p.Key {
			return existing, nil
		}
	}
	p.ID = s.nextID()
	s.periods[p.ID] = p
	return p, nil
}

// RankingEntries returns a period's entries ordered by rank.
func (s *Store) RankingEntries(_ context.Context, periodID int64) ([]trend.RankingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.entries[periodID]
	out := make([]trend.RankingEntry, len(src))
	copy(out, src)
	for i := range out {
		out[i].Keyword = s.keywords[out[i].KeywordID].Text
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// ReplaceRankingEntries swaps a period's full entry set.
func (s *Store) ReplaceRankingEntries(_ context.Context, periodID int64, entries []trend.RankingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.periods[periodID]; !ok {
		return trend.ErrNotFound
	}
	seen := make(map[int64]bool, len(entries))
	cp := make([]trend.RankingEntry, len(entries))
	for i, e := range entries {
		if seen[e.KeywordID] {
			return fmt.Errorf("duplicate ranking entry for keyword %d", e.KeywordID)
		}
		seen[e.KeywordID] = true
		e.PeriodID = periodID
		cp[i] = e
	}
	s.entries[periodID] = cp
	return nil
}
