package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/leesh5000/picktrend/internal/trend"
)

const clusterColumns = `id, name, normalized, is_active, created_at`

func scanCluster(row pgx.Row) (trend.Cluster, error) {
	var c trend.Cluster
	err := row.Scan(&c.ID, &c.Name, &c.Normalized, &c.Active, &c.CreatedAt)
	return c, err
}

// MembershipOf returns the keyword's cluster membership.
func (s *Store) MembershipOf(ctx context.Context, keywordID int64) (trend.Membership, error) {
	var m trend.Membership
	err := s.db.QueryRow(ctx, `
		SELECT cluster_id, keyword_id, similarity
		FROM cluster_memberships WHERE keyword_id = $1`, keywordID,
	).Scan(&m.ClusterID, &m.KeywordID, &m.Similarity)
	if err != nil {
		return trend.Membership{}, notFound(err)
	}
	return m, nil
}

// ActiveClusters lists active clusters by id.
func (s *Store) ActiveClusters(ctx context.Context) ([]trend.Cluster, error) {
	rows, err := s.db.Query(ctx, `SELECT `+clusterColumns+` FROM keyword_clusters WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []trend.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCluster(ctx context.Context, id int64) (trend.Cluster, error) {
	c, err := scanCluster(s.db.QueryRow(ctx, `SELECT `+clusterColumns+` FROM keyword_clusters WHERE id = $1`, id))
	if err != nil {
		return trend.Cluster{}, notFound(err)
	}
	return c, nil
}

func (s *Store) ClusterByNormalized(ctx context.Context, normalized string) (trend.Cluster, error) {
	c, err := scanCluster(s.db.QueryRow(ctx, `SELECT `+clusterColumns+` FROM keyword_clusters WHERE normalized = $1`, normalized))
	if err != nil {
		return trend.Cluster{}, notFound(err)
	}
	return c, nil
}

// TopMembers returns a cluster's members by similarity, highest first.
// limit <= 0 returns all.
func (s *Store) TopMembers(ctx context.Context, clusterID int64, limit int) ([]trend.Member, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, `
		SELECT m.cluster_id, m.keyword_id, m.similarity,
		       k.id, k.text, k.normalized, k.category, k.source, k.is_active, k.created_at
		FROM cluster_memberships m
		JOIN keywords k ON k.id = m.keyword_id
		WHERE m.cluster_id = $1
		ORDER BY m.similarity DESC, m.keyword_id
		LIMIT $2`, clusterID, lim)
	if err != nil {
		return nil, fmt.Errorf("members of cluster %d: %w", clusterID, err)
	}
	defer rows.Close()

	var out []trend.Member
	for rows.Next() {
		var m trend.Member
		var src string
		if err := rows.Scan(
			&m.ClusterID, &m.KeywordID, &m.Similarity,
			&m.Keyword.ID, &m.Keyword.Text, &m.Keyword.Normalized, &m.Keyword.Category,
			&src, &m.Keyword.Active, &m.Keyword.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Keyword.Source = trend.Source(src)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMembers(ctx context.Context, clusterID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM cluster_memberships WHERE cluster_id = $1`, clusterID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members of %d: %w", clusterID, err)
	}
	return n, nil
}

// CreateCluster inserts the cluster and its initial members in one
// transaction. The unique normalized name rejects a concurrent duplicate.
func (s *Store) CreateCluster(ctx context.Context, c trend.Cluster, members []trend.Membership) (trend.Cluster, error) {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO keyword_clusters (name, normalized, is_active)
			VALUES ($1, $2, $3)
			RETURNING `+clusterColumns,
			c.Name, c.Normalized, c.Active,
		)
		created, err := scanCluster(row)
		if err != nil {
			return fmt.Errorf("insert cluster: %w", err)
		}
		c = created

		batch := &pgx.Batch{}
		for _, m := range members {
			batch.Queue(`
				INSERT INTO cluster_memberships (cluster_id, keyword_id, similarity)
				VALUES ($1, $2, $3)`, c.ID, m.KeywordID, m.Similarity)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return trend.Cluster{}, fmt.Errorf("create cluster %q: %w", c.Normalized, err)
	}
	return c, nil
}

// AddMemberships adds members to an existing cluster, skipping keywords
// that already belong to one. Returns how many rows were inserted.
func (s *Store) AddMemberships(ctx context.Context, clusterID int64, members []trend.Membership) (int, error) {
	added := 0
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, m := range members {
			tag, err := tx.Exec(ctx, `
				INSERT INTO cluster_memberships (cluster_id, keyword_id, similarity)
				VALUES ($1, $2, $3)
				ON CONFLICT (keyword_id) DO NOTHING`, clusterID, m.KeywordID, m.Similarity)
			if err != nil {
				return err
			}
			added += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add memberships to %d: %w", clusterID, err)
	}
	return added, nil
}

// RemoveMembership deletes a keyword's membership and returns its cluster.
func (s *Store) RemoveMembership(ctx context.Context, keywordID int64) (int64, error) {
	var clusterID int64
	err := s.db.QueryRow(ctx, `
		DELETE FROM cluster_memberships WHERE keyword_id = $1
		RETURNING cluster_id`, keywordID).Scan(&clusterID)
	if err != nil {
		return 0, notFound(err)
	}
	return clusterID, nil
}

func (s *Store) SetClusterActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE keyword_clusters SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set cluster %d active=%v: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return trend.ErrNotFound
	}
	return nil
}

// ResetClusters drops every membership and deactivates all clusters.
func (s *Store) ResetClusters(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM cluster_memberships`); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE keyword_clusters SET is_active = FALSE`); err != nil {
			return fmt.Errorf("deactivate clusters: %w", err)
		}
		return nil
	})
}
