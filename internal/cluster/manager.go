// Package cluster groups keywords from different sources into topic clusters.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/leesh5000/picktrend/internal/similarity"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

// ErrKeywordNotFound is returned when the keyword to assign does not exist.
var ErrKeywordNotFound = errors.New("keyword not found")

// sampleSize bounds how many members represent a cluster during assignment.
const sampleSize = 5

// Store is the persistence the manager needs.
type Store interface {
	GetKeyword(ctx context.Context, id int64) (trend.Keyword, error)
	UnclusteredKeywords(ctx context.Context, limit int) ([]trend.Keyword, error)
	MembershipOf(ctx context.Context, keywordID int64) (trend.Membership, error)
	ActiveClusters(ctx context.Context) ([]trend.Cluster, error)
	GetCluster(ctx context.Context, id int64) (trend.Cluster, error)
	ClusterByNormalized(ctx context.Context, normalized string) (trend.Cluster, error)
	TopMembers(ctx context.Context, clusterID int64, limit int) ([]trend.Member, error)
	CountMembers(ctx context.Context, clusterID int64) (int, error)
	CreateCluster(ctx context.Context, c trend.Cluster, members []trend.Membership) (trend.Cluster, error)
	AddMemberships(ctx context.Context, clusterID int64, members []trend.Membership) (int, error)
	RemoveMembership(ctx context.Context, keywordID int64) (int64, error)
	SetClusterActive(ctx context.Context, id int64, active bool) error
	ResetClusters(ctx context.Context) error
	RecentMetrics(ctx context.Context, keywordID int64, before time.Time, limit int) ([]trend.Metric, error)
}

// Config tunes clustering.
type Config struct {
	SimilarityThreshold float64
	// MinClusterSize is checked when a cluster is founded only.
	MinClusterSize int
	MaxClusterSize int
	BatchSize      int
}

// DefaultConfig returns the standard clustering parameters.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.7,
		MinClusterSize:      2,
		MaxClusterSize:      50,
		BatchSize:           1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = d.MinClusterSize
	}
	if c.MaxClusterSize <= 0 {
		c.MaxClusterSize = d.MaxClusterSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// Result summarizes one clustering batch.
type Result struct {
	ClustersCreated  int      `json:"clusters_created"`
	KeywordsAssigned int      `json:"keywords_assigned"`
	Errors           []string `json:"errors"`
}

// Manager assigns keywords to clusters and scores clusters.
type Manager struct {
	store   Store
	sim     *similarity.Engine
	weights SourceWeights
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a Manager. A nil engine selects similarity.New(nil).
func New(store Store, sim *similarity.Engine, weights SourceWeights, logger *zap.Logger) *Manager {
	if sim == nil {
		sim = similarity.New(nil)
	}
	if weights == nil {
		weights = DefaultSourceWeights()
	}
	return &Manager{
		store:   store,
		sim:     sim,
		weights: weights,
		window:  DefaultScoreWindow,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "cluster")),
	}
}

// SetClock overrides the time source used for scoring.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetScoreWindow sets how old a member's latest metric may be and still count.
func (m *Manager) SetScoreWindow(d time.Duration) {
	if d > 0 {
		m.window = d
	}
}

// AssignToExisting puts the keyword into the most similar active cluster
// whose sampled average similarity reaches the threshold. A keyword that
// already has a membership keeps it; clustered keywords are never moved.
// Inactive keywords are left unassigned.
func (m *Manager) AssignToExisting(ctx context.Context, keywordID int64, cfg Config) (int64, bool, error) {
	kw, err := m.store.GetKeyword(ctx, keywordID)
	if errors.Is(err, trend.ErrNotFound) {
		return 0, false, ErrKeywordNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("get keyword %d: %w", keywordID, err)
	}
	if !kw.Active {
		return 0, false, nil
	}
	return m.assign(ctx, kw, cfg.withDefaults())
}

func (m *Manager) assign(ctx context.Context, kw trend.Keyword, cfg Config) (int64, bool, error) {
	ms, err := m.store.MembershipOf(ctx, kw.ID)
	if err == nil {
		return ms.ClusterID, true, nil
	}
	if !errors.Is(err, trend.ErrNotFound) {
		return 0, false, fmt.Errorf("membership of %d: %w", kw.ID, err)
	}

	clusters, err := m.store.ActiveClusters(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("list clusters: %w", err)
	}

	var bestID int64
	bestScore := -1.0
	for _, c := range clusters {
		sample, err := m.store.TopMembers(ctx, c.ID, sampleSize)
		if err != nil {
			return 0, false, fmt.Errorf("sample cluster %d: %w", c.ID, err)
		}
		if len(sample) == 0 {
			continue
		}
		var sum float64
		for _, mem := range sample {
			sum += m.sim.Similarity(kw.Text, mem.Keyword.Text)
		}
		avg := sum / float64(len(sample))
		if avg >= cfg.SimilarityThreshold && avg > bestScore {
			bestID, bestScore = c.ID, avg
		}
	}
	if bestScore < 0 {
		return 0, false, nil
	}

	added, err := m.store.AddMemberships(ctx, bestID, []trend.Membership{{
		ClusterID:  bestID,
		KeywordID:  kw.ID,
		Similarity: round2(bestScore),
	}})
	if err != nil {
		return 0, false, fmt.Errorf("add membership: %w", err)
	}
	if added == 0 {
		// lost a race with another writer; report whatever it stored
		ms, err := m.store.MembershipOf(ctx, kw.ID)
		if err != nil {
			return 0, false, fmt.Errorf("membership of %d: %w", kw.ID, err)
		}
		return ms.ClusterID, true, nil
	}
	return bestID, true, nil
}

type sibling struct {
	kw  trend.Keyword
	sim float64
}

// ClusterUnassigned processes up to BatchSize unclustered active keywords,
// newest first. Each keyword either joins an existing cluster or founds a
// new one with its similar unclustered peers. Per-candidate failures are
// collected in Result.Errors; only a failed batch read is returned as error.
func (m *Manager) ClusterUnassigned(ctx context.Context, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	res := Result{Errors: []string{}}

	kws, err := m.store.UnclusteredKeywords(ctx, cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list unclustered keywords: %w", err)
	}
	m.logger.Info("Clustering started", zap.Int("candidates", len(kws)))

	minSiblings := max(1, cfg.MinClusterSize-1)
	processed := make(map[int64]bool, len(kws))

	for i, kw := range kws {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if processed[kw.ID] {
			continue
		}

		_, ok, err := m.assign(ctx, kw, cfg)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("keyword %d: %v", kw.ID, err))
			m.logger.Warn("assign failed", zap.Int64("keyword_id", kw.ID), zap.Error(err))
			continue
		}
		if ok {
			processed[kw.ID] = true
			res.KeywordsAssigned++
			continue
		}

		var siblings []sibling
		for j, other := range kws {
			if j == i || processed[other.ID] {
				continue
			}
			s := m.sim.Similarity(kw.Text, other.Text)
			if s >= cfg.SimilarityThreshold {
				siblings = append(siblings, sibling{kw: other, sim: s})
			}
		}
		if len(siblings) < minSiblings {
			continue
		}

		processed[kw.ID] = true
		for _, s := range siblings {
			processed[s.kw.ID] = true
		}
		sort.SliceStable(siblings, func(a, b int) bool {
			return siblings[a].sim > siblings[b].sim
		})

		created, assigned, err := m.persist(ctx, kw, siblings, cfg)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("cluster %q: %v", kw.Text, err))
			m.logger.Warn("persist cluster failed", zap.String("keyword", kw.Text), zap.Error(err))
			continue
		}
		if created {
			res.ClustersCreated++
		}
		res.KeywordsAssigned += assigned
	}

	m.logger.Info("Clustering finished",
		zap.Int("clusters_created", res.ClustersCreated),
		zap.Int("keywords_assigned", res.KeywordsAssigned),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// persist founds a cluster for rep or merges into the cluster that already
// owns rep's normalized name.
func (m *Manager) persist(ctx context.Context, rep trend.Keyword, siblings []sibling, cfg Config) (bool, int, error) {
	normalized := m.sim.Normalize(rep.Text)

	existing, err := m.store.ClusterByNormalized(ctx, normalized)
	switch {
	case err == nil:
		added, err := m.merge(ctx, existing, rep, siblings, cfg)
		return false, added, err
	case !errors.Is(err, trend.ErrNotFound):
		return false, 0, fmt.Errorf("lookup cluster: %w", err)
	}

	members := make([]trend.Membership, 0, min(len(siblings)+1, cfg.MaxClusterSize))
	members = append(members, trend.Membership{KeywordID: rep.ID, Similarity: 1.0})
	for _, s := range siblings {
		if len(members) >= cfg.MaxClusterSize {
			break
		}
		members = append(members, trend.Membership{KeywordID: s.kw.ID, Similarity: round2(s.sim)})
	}

	c, err := m.store.CreateCluster(ctx, trend.Cluster{
		Name:       rep.Text,
		Normalized: normalized,
		Active:     true,
	}, members)
	if err != nil {
		return false, 0, fmt.Errorf("create cluster: %w", err)
	}
	m.logger.Debug("Cluster created", zap.Int64("cluster_id", c.ID), zap.String("name", c.Name), zap.Int("members", len(members)))
	return true, len(members), nil
}

func (m *Manager) merge(ctx context.Context, c trend.Cluster, rep trend.Keyword, siblings []sibling, cfg Config) (int, error) {
	count, err := m.store.CountMembers(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	room := cfg.MaxClusterSize - count
	if room <= 0 {
		return 0, nil
	}

	members := []trend.Membership{{ClusterID: c.ID, KeywordID: rep.ID, Similarity: 1.0}}
	for _, s := range siblings {
		if len(members) >= room {
			break
		}
		members = append(members, trend.Membership{ClusterID: c.ID, KeywordID: s.kw.ID, Similarity: round2(s.sim)})
	}

	added, err := m.store.AddMemberships(ctx, c.ID, members)
	if err != nil {
		return 0, fmt.Errorf("merge into cluster %d: %w", c.ID, err)
	}
	if !c.Active && added > 0 {
		if err := m.store.SetClusterActive(ctx, c.ID, true); err != nil {
			return added, fmt.Errorf("reactivate cluster %d: %w", c.ID, err)
		}
	}
	m.logger.Debug("Merged into existing cluster", zap.Int64("cluster_id", c.ID), zap.Int("added", added))
	return added, nil
}
