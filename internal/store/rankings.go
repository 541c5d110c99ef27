package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/leesh5000/picktrend/internal/trend"
)

const periodColumns = `id, kind, year, month, day, start_at, end_at`

func scanPeriod(row pgx.Row) (trend.RankingPeriod, error) {
	var p trend.RankingPeriod
	var kind string
	err := row.Scan(&p.ID, &kind, &p.Key.Year, &p.Key.Month, &p.Key.Day, &p.StartAt, &p.EndAt)
	p.Kind = trend.PeriodKind(kind)
	return p, err
}

// FindPeriod looks up a period without creating it.
func (s *Store) FindPeriod(ctx context.Context, kind trend.PeriodKind, key trend.PeriodKey) (trend.RankingPeriod, error) {
	p, err := scanPeriod(s.db.QueryRow(ctx, `
		SELECT `+periodColumns+`
		FROM ranking_periods
		WHERE kind = $1 AND year = $2 AND month = $3 AND day = $4`,
		string(kind), key.Year, key.Month, key.Day))
	if err != nil {
		return trend.RankingPeriod{}, notFound(err)
	}
	return p, nil
}

// EnsurePeriod returns the stored period for p's kind and key, creating it
// when absent. Concurrent callers converge on one row.
func (s *Store) EnsurePeriod(ctx context.Context, p trend.RankingPeriod) (trend.RankingPeriod, error) {
	out, err := scanPeriod(s.db.QueryRow(ctx, `
		INSERT INTO ranking_periods (kind, year, month, day, start_at, end_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, year, month, day) DO UPDATE SET kind = EXCLUDED.kind
		RETURNING `+periodColumns,
		string(p.Kind), p.Key.Year, p.Key.Month, p.Key.Day, p.StartAt, p.EndAt))
	if err != nil {
		return trend.RankingPeriod{}, fmt.Errorf("ensure period %s %+v: %w", p.Kind, p.Key, err)
	}
	return out, nil
}

// RankingEntries returns a period's entries ordered by rank.
func (s *Store) RankingEntries(ctx context.Context, periodID int64) ([]trend.RankingEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT e.period_id, e.keyword_id, k.text, e.rank, e.previous_rank, e.score, e.signal, e.product_count
		FROM ranking_entries e
		JOIN keywords k ON k.id = e.keyword_id
		WHERE e.period_id = $1
		ORDER BY e.rank`, periodID)
	if err != nil {
		return nil, fmt.Errorf("entries of period %d: %w", periodID, err)
	}
	defer rows.Close()

	var out []trend.RankingEntry
	for rows.Next() {
		var e trend.RankingEntry
		if err := rows.Scan(&e.PeriodID, &e.KeywordID, &e.Keyword, &e.Rank, &e.PreviousRank, &e.Score, &e.Signal, &e.ProductCount); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceRankingEntries deletes a period's entries and inserts the new set
// in one transaction; readers see the old or the new snapshot only.
func (s *Store) ReplaceRankingEntries(ctx context.Context, periodID int64, entries []trend.RankingEntry) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ranking_entries WHERE period_id = $1`, periodID); err != nil {
			return fmt.Errorf("delete entries: %w", err)
		}
		rows := make([][]any, len(entries))
		for i, e := range entries {
			rows[i] = []any{periodID, e.KeywordID, e.Rank, e.PreviousRank, e.Score, e.Signal, e.ProductCount}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"ranking_entries"},
			[]string{"period_id", "keyword_id", "rank", "previous_rank", "score", "signal", "product_count"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert entries: %w", err)
		}
		return nil
	})
}
