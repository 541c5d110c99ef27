package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/leesh5000/picktrend/internal/trend"
)

// SaveProduct inserts p when its ID is zero, otherwise updates it. The
// catalog is owned elsewhere; this exists for imports and fixtures.
func (s *Store) SaveProduct(ctx context.Context, p trend.Product) (trend.Product, error) {
	if p.Normalized == "" {
		p.Normalized = normalize(p.Name)
	}
	var err error
	if p.ID == 0 {
		err = s.db.QueryRow(ctx, `
			INSERT INTO products (name, normalized, category, is_active)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, p.Name, p.Normalized, p.Category, p.Active).Scan(&p.ID)
	} else {
		_, err = s.db.Exec(ctx, `
			INSERT INTO products (id, name, normalized, category, is_active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				normalized = EXCLUDED.normalized,
				category = EXCLUDED.category,
				is_active = EXCLUDED.is_active`,
			p.ID, p.Name, p.Normalized, p.Category, p.Active)
	}
	if err != nil {
		return trend.Product{}, fmt.Errorf("save product %q: %w", p.Name, err)
	}
	return p, nil
}

// ActiveProducts lists active products, optionally within one category.
func (s *Store) ActiveProducts(ctx context.Context, category string) ([]trend.Product, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, normalized, category, is_active
		FROM products
		WHERE is_active AND ($1 = '' OR category = $1)
		ORDER BY id`, category)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []trend.Product
	for rows.Next() {
		var p trend.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Normalized, &p.Category, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MatchesForKeyword returns every stored match of a keyword.
func (s *Store) MatchesForKeyword(ctx context.Context, keywordID int64) ([]trend.ProductMatch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT keyword_id, product_id, score, match_type, is_manual
		FROM keyword_product_matches
		WHERE keyword_id = $1
		ORDER BY product_id`, keywordID)
	if err != nil {
		return nil, fmt.Errorf("matches for %d: %w", keywordID, err)
	}
	defer rows.Close()

	var out []trend.ProductMatch
	for rows.Next() {
		var m trend.ProductMatch
		var mt string
		if err := rows.Scan(&m.KeywordID, &m.ProductID, &m.Score, &mt, &m.Manual); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if m.Type, err = trend.ParseMatchType(mt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ApplyMatches removes the keyword's automatic matches when clearAuto is
// set and upserts the given rows, all in one transaction.
func (s *Store) ApplyMatches(ctx context.Context, keywordID int64, clearAuto bool, upserts []trend.ProductMatch) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if clearAuto {
			if _, err := tx.Exec(ctx, `
				DELETE FROM keyword_product_matches
				WHERE keyword_id = $1 AND NOT is_manual`, keywordID); err != nil {
				return fmt.Errorf("clear matches for %d: %w", keywordID, err)
			}
		}
		for _, m := range upserts {
			if _, err := tx.Exec(ctx, `
				INSERT INTO keyword_product_matches (keyword_id, product_id, score, match_type, is_manual, updated_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
				ON CONFLICT (keyword_id, product_id) DO UPDATE SET
					score = EXCLUDED.score,
					match_type = EXCLUDED.match_type,
					is_manual = EXCLUDED.is_manual,
					updated_at = EXCLUDED.updated_at`,
				keywordID, m.ProductID, m.Score, string(m.Type), m.Manual,
			); err != nil {
				return fmt.Errorf("upsert match %d/%d: %w", keywordID, m.ProductID, err)
			}
		}
		return nil
	})
}

// ActiveMatchCount counts a keyword's matches to active products.
func (s *Store) ActiveMatchCount(ctx context.Context, keywordID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM keyword_product_matches m
		JOIN products p ON p.id = m.product_id
		WHERE m.keyword_id = $1 AND p.is_active`, keywordID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("match count for %d: %w", keywordID, err)
	}
	return n, nil
}
