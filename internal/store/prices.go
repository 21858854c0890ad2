package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/keyforge/keyforge/internal/model"
)

// GetPrice returns the unit price configured for a validity tier, or
// ErrNotFound when the tier has no row.
func (s *Store) GetPrice(ctx context.Context, validityDays int) (model.Money, error) {
	var price model.Money
	q := s.db.Rebind("SELECT price_cents FROM prices WHERE validity_days = ?")
	if err := s.db.GetContext(ctx, &price, q, validityDays); err != nil {
		return 0, errNoRows(err, "get price")
	}
	return price, nil
}

// ListPrices returns every configured tier ordered by validity.
func (s *Store) ListPrices(ctx context.Context) ([]model.Price, error) {
	var prices []model.Price
	if err := s.db.SelectContext(ctx, &prices, "SELECT validity_days, price_cents FROM prices ORDER BY validity_days"); err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return prices, nil
}

// UpsertPrices inserts or replaces the given tiers in one transaction.
func (s *Store) UpsertPrices(ctx context.Context, prices []model.Price) error {
	const q = `INSERT INTO prices (validity_days, price_cents)
		VALUES (:validity_days, :price_cents)
		ON CONFLICT (validity_days) DO UPDATE SET price_cents = excluded.price_cents`

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, p := range prices {
			if _, err := tx.NamedExecContext(ctx, q, p); err != nil {
				return fmt.Errorf("upsert price %d: %w", p.ValidityDays, err)
			}
		}
		return nil
	})
}
