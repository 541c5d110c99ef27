package cluster

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

const (
	crossSourceBonus = 5.0
	maxClusterScore  = 125.0

	// DefaultScoreWindow is how recent a member's latest metric must be.
	DefaultScoreWindow = 7 * 24 * time.Hour
)

// SourceWeights maps a source to its trust multiplier. Treat as read-only
// once handed to a Manager.
type SourceWeights map[trend.Source]float64

// DefaultSourceWeights returns a fresh copy of the standard weight table.
func DefaultSourceWeights() SourceWeights {
	return SourceWeights{
		trend.SourceGoogleTrends:  1.2,
		trend.SourceNaverDataLab:  1.1,
		trend.SourceNaverShopping: 1.1,
		trend.SourceYouTube:       1.0,
		trend.SourceManual:        1.0,
		trend.SourceClien:         0.8,
		trend.SourceRuliweb:       0.7,
		trend.SourcePpomppu:       0.7,
		trend.SourceTheqoo:        0.6,
		trend.SourceFMKorea:       0.6,
		trend.SourceDCInside:      0.5,
	}
}

// Merge returns a copy of w with overrides applied.
func (w SourceWeights) Merge(overrides map[string]float64) SourceWeights {
	out := make(SourceWeights, len(w)+len(overrides))
	for k, v := range w {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[trend.Source(k)] = v
		}
	}
	return out
}

// Weight returns the weight for s, 1.0 when unknown.
func (w SourceWeights) Weight(s trend.Source) float64 {
	if v, ok := w[s]; ok {
		return v
	}
	return 1.0
}

// Score is the read-time aggregate for one cluster.
type Score struct {
	ClusterID   int64   `json:"cluster_id"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Members     int     `json:"members"`
	Scored      int     `json:"scored_members"`
	SourceCount int     `json:"source_count"`
}

// Score computes the weighted signal of a cluster's members plus a bonus
// for being seen on several sources. Members without a recent metric are
// left out.
func (m *Manager) Score(ctx context.Context, clusterID int64) (Score, error) {
	c, err := m.store.GetCluster(ctx, clusterID)
	if err != nil {
		return Score{}, fmt.Errorf("get cluster %d: %w", clusterID, err)
	}
	return m.score(ctx, c)
}

func (m *Manager) score(ctx context.Context, c trend.Cluster) (Score, error) {
	members, err := m.store.TopMembers(ctx, c.ID, 0)
	if err != nil {
		return Score{}, fmt.Errorf("members of %d: %w", c.ID, err)
	}

	now := m.now()
	cutoff := now.Add(-m.window)
	out := Score{ClusterID: c.ID, Name: c.Name, Members: len(members)}

	var num, den float64
	sources := make(map[trend.Source]struct{})
	for _, mem := range members {
		metrics, err := m.store.RecentMetrics(ctx, mem.KeywordID, now, 1)
		if err != nil {
			return Score{}, fmt.Errorf("latest metric of %d: %w", mem.KeywordID, err)
		}
		if len(metrics) == 0 || metrics[0].CollectedAt.Before(cutoff) {
			continue
		}
		latest := metrics[0]
		w := m.weights.Weight(latest.Source) * mem.Similarity
		num += latest.Value * w
		den += w
		sources[latest.Source] = struct{}{}
		out.Scored++
	}
	out.SourceCount = len(sources)
	if den == 0 {
		return out, nil
	}

	total := num / den
	if n := len(sources); n > 1 {
		total += crossSourceBonus * float64(n-1)
	}
	out.Score = round2(math.Min(total, maxClusterScore))
	return out, nil
}

// Scores scores every active cluster, highest first.
func (m *Manager) Scores(ctx context.Context) ([]Score, error) {
	clusters, err := m.store.ActiveClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	out := make([]Score, 0, len(clusters))
	for _, c := range clusters {
		s, err := m.score(ctx, c)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			m.logger.Warn("score cluster failed", zap.Int64("cluster_id", c.ID), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
