package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

// maxRebuildPasses bounds Rebuild when every pass keeps assigning.
const maxRebuildPasses = 100

// Rebuild drops every membership, deactivates all clusters and clusters
// the keyword set again. Clusters whose normalized name reappears are
// reactivated rather than duplicated.
func (m *Manager) Rebuild(ctx context.Context, cfg Config) (Result, error) {
	if err := m.store.ResetClusters(ctx); err != nil {
		return Result{}, fmt.Errorf("reset clusters: %w", err)
	}
	m.logger.Info("Clusters reset, rebuilding")

	total := Result{Errors: []string{}}
	for pass := 0; pass < maxRebuildPasses; pass++ {
		res, err := m.ClusterUnassigned(ctx, cfg)
		total.ClustersCreated += res.ClustersCreated
		total.KeywordsAssigned += res.KeywordsAssigned
		total.Errors = append(total.Errors, res.Errors...)
		if err != nil {
			return total, err
		}
		if res.KeywordsAssigned == 0 {
			break
		}
	}
	return total, nil
}

// RemoveKeyword detaches a keyword from its cluster. The cluster is
// deactivated when no members remain. Reports whether that happened.
func (m *Manager) RemoveKeyword(ctx context.Context, keywordID int64) (bool, error) {
	clusterID, err := m.store.RemoveMembership(ctx, keywordID)
	if errors.Is(err, trend.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove membership of %d: %w", keywordID, err)
	}

	n, err := m.store.CountMembers(ctx, clusterID)
	if err != nil {
		return false, fmt.Errorf("count members: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := m.store.SetClusterActive(ctx, clusterID, false); err != nil {
		return false, fmt.Errorf("deactivate cluster %d: %w", clusterID, err)
	}
	m.logger.Info("Cluster deactivated", zap.Int64("cluster_id", clusterID))
	return true, nil
}

// Siblings lists the other members of the keyword's cluster by
// similarity. A keyword without a cluster has no siblings.
func (m *Manager) Siblings(ctx context.Context, keywordID int64, limit int) ([]trend.Member, error) {
	if _, err := m.store.GetKeyword(ctx, keywordID); err != nil {
		if errors.Is(err, trend.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrKeywordNotFound, keywordID)
		}
		return nil, err
	}
	ms, err := m.store.MembershipOf(ctx, keywordID)
	if errors.Is(err, trend.ErrNotFound) {
		return []trend.Member{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("membership of %d: %w", keywordID, err)
	}

	members, err := m.store.TopMembers(ctx, ms.ClusterID, 0)
	if err != nil {
		return nil, fmt.Errorf("members of cluster %d: %w", ms.ClusterID, err)
	}
	out := make([]trend.Member, 0, len(members))
	for _, mb := range members {
		if mb.KeywordID == keywordID {
			continue
		}
		out = append(out, mb)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
