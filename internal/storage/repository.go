// Package storage keeps the price-check audit log in Postgres.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/neexbeast/tour-search/internal/tour"
)

// DefaultListLimit caps price-check history queries.
const DefaultListLimit = 50

// Querier abstracts the subset of pgxpool.Pool used by Repository.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository stores price checks.
type Repository struct {
	q Querier
}

// NewRepository constructs a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// NewRepositoryWithQuerier constructs a Repository with a custom Querier (for tests).
func NewRepositoryWithQuerier(q Querier) *Repository {
	return &Repository{q: q}
}

// Record inserts a price check, assigning an id and timestamp when unset.
func (r *Repository) Record(ctx context.Context, c tour.PriceCheck) (tour.PriceCheck, error) {
	tokenJSON, err := json.Marshal(c.Token)
	if err != nil {
		return c, fmt.Errorf("marshaling token for offer %s: %w", c.OfferID, err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CheckedAt.IsZero() {
		c.CheckedAt = time.Now()
	}
	c.CheckedAt = c.CheckedAt.UTC()

	const q = `
		INSERT INTO price_checks (id, offer_id, source_id, price, currency, is_available, token, checked_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`

	if _, err := r.q.Exec(ctx, q,
		c.ID,
		c.OfferID,
		c.SourceID,
		c.Price.String(),
		c.Currency,
		c.IsAvailable,
		tokenJSON,
		c.CheckedAt,
	); err != nil {
		return c, fmt.Errorf("inserting price check for offer %s: %w", c.OfferID, err)
	}

	return c, nil
}

// ListByOffer returns the most recent checks for offerID, newest first.
// A non-positive limit uses DefaultListLimit.
func (r *Repository) ListByOffer(ctx context.Context, offerID string, limit int) ([]tour.PriceCheck, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	const q = `
		SELECT id::text, offer_id, source_id, price::text, currency, is_available, token, checked_at
		FROM price_checks
		WHERE offer_id = $1
		ORDER BY checked_at DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, q, offerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying price checks for offer %s: %w", offerID, err)
	}
	defer rows.Close()

	results := []tour.PriceCheck{}
	for rows.Next() {
		var c tour.PriceCheck
		var price string
		var tokenJSON []byte

		if err := rows.Scan(
			&c.ID,
			&c.OfferID,
			&c.SourceID,
			&price,
			&c.Currency,
			&c.IsAvailable,
			&tokenJSON,
			&c.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning price check row: %w", err)
		}

		if c.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing price %q of check %s: %w", price, c.ID, err)
		}
		if err := json.Unmarshal(tokenJSON, &c.Token); err != nil {
			return nil, fmt.Errorf("unmarshaling token of check %s: %w", c.ID, err)
		}

		results = append(results, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating price check rows: %w", err)
	}

	return results, nil
}
