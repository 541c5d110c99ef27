package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/leesh5000/picktrend/internal/trend"
)

const keywordColumns = `id, text, normalized, category, source, is_active, created_at`

func scanKeyword(row pgx.Row) (trend.Keyword, error) {
	var k trend.Keyword
	var src string
	err := row.Scan(&k.ID, &k.Text, &k.Normalized, &k.Category, &src, &k.Active, &k.CreatedAt)
	k.Source = trend.Source(src)
	return k, err
}

func collectKeywords(rows pgx.Rows) ([]trend.Keyword, error) {
	defer rows.Close()
	var out []trend.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpsertKeyword inserts a keyword or returns the one already stored under
// the same normalized text.
func (s *Store) UpsertKeyword(ctx context.Context, k trend.Keyword) (trend.Keyword, error) {
	if k.Normalized == "" {
		k.Normalized = normalize(k.Text)
	}
	if k.Normalized == "" {
		return trend.Keyword{}, fmt.Errorf("keyword %q normalizes to empty", k.Text)
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now()
	}
	// DO UPDATE on a no-op column so RETURNING yields the existing row.
	row := s.db.QueryRow(ctx, `
		INSERT INTO keywords (text, normalized, category, source, is_active, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (normalized) DO UPDATE SET normalized = EXCLUDED.normalized
		RETURNING `+keywordColumns,
		k.Text, k.Normalized, k.Category, string(k.Source), k.CreatedAt,
	)
	out, err := scanKeyword(row)
	if err != nil {
		return trend.Keyword{}, fmt.Errorf("upsert keyword %q: %w", k.Text, err)
	}
	return out, nil
}

// GetKeyword retrieves a single keyword by ID.
func (s *Store) GetKeyword(ctx context.Context, id int64) (trend.Keyword, error) {
	k, err := scanKeyword(s.db.QueryRow(ctx, `SELECT `+keywordColumns+` FROM keywords WHERE id = $1`, id))
	if err != nil {
		return trend.Keyword{}, notFound(err)
	}
	return k, nil
}

// DeactivateKeyword retires a keyword. Keywords are never deleted.
func (s *Store) DeactivateKeyword(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE keywords SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate keyword %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return trend.ErrNotFound
	}
	return nil
}

// ActiveKeywords returns all active keywords ordered by id.
func (s *Store) ActiveKeywords(ctx context.Context) ([]trend.Keyword, error) {
	rows, err := s.db.Query(ctx, `SELECT `+keywordColumns+` FROM keywords WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return collectKeywords(rows)
}

// UnclusteredKeywords returns active keywords without a membership, newest first.
func (s *Store) UnclusteredKeywords(ctx context.Context, limit int) ([]trend.Keyword, error) {
	rows, err := s.db.Query(ctx, `
		SELECT k.id, k.text, k.normalized, k.category, k.source, k.is_active, k.created_at
		FROM keywords k
		LEFT JOIN cluster_memberships m ON m.keyword_id = k.id
		WHERE k.is_active AND m.keyword_id IS NULL
		ORDER BY k.created_at DESC, k.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclustered keywords: %w", err)
	}
	return collectKeywords(rows)
}

// RecordMetric stores an observation, overwriting one with the same
// keyword, source and timestamp.
func (s *Store) RecordMetric(ctx context.Context, m trend.Metric) (trend.Metric, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO keyword_metrics (keyword_id, source, collected_at, value, source_rank)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (keyword_id, source, collected_at) DO UPDATE SET
			value = EXCLUDED.value,
			source_rank = EXCLUDED.source_rank
		RETURNING id`,
		m.KeywordID, string(m.Source), m.CollectedAt, m.Value, m.SourceRank,
	).Scan(&m.ID)
	if err != nil {
		return trend.Metric{}, fmt.Errorf("record metric for %d: %w", m.KeywordID, err)
	}
	return m, nil
}

// RecentMetrics returns up to limit metrics collected at or before the
// given instant, newest first. limit <= 0 returns all.
func (s *Store) RecentMetrics(ctx context.Context, keywordID int64, before time.Time, limit int) ([]trend.Metric, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, keyword_id, source, collected_at, value, source_rank
		FROM keyword_metrics
		WHERE keyword_id = $1 AND collected_at <= $2
		ORDER BY collected_at DESC, id DESC
		LIMIT $3`, keywordID, before, lim)
	if err != nil {
		return nil, fmt.Errorf("recent metrics for %d: %w", keywordID, err)
	}
	defer rows.Close()

	var out []trend.Metric
	for rows.Next() {
		var m trend.Metric
		var src string
		if err := rows.Scan(&m.ID, &m.KeywordID, &src, &m.CollectedAt, &m.Value, &m.SourceRank); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Source = trend.Source(src)
		out = append(out, m)
	}
	return out, rows.Err()
}
