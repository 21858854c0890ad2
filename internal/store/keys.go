package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keyforge/keyforge/internal/model"
)

// Charge is a debt increment applied to a moderator account together with a
// key insert. The zero value charges nobody.
type Charge struct {
	AccountID string
	Amount    model.Money
}

const keyColumns = `license_key, prefix, validity_days, price_cents, activation_date, expires, is_active, created_by, created_at`

// CreateKeys inserts a batch of new, inactive keys. When charge names an
// account, the account's debt is incremented in the same transaction; if the
// account no longer exists nothing is written and ErrNotFound is returned. A
// key colliding with an existing one aborts the batch with ErrConflict.
func (s *Store) CreateKeys(ctx context.Context, keys []model.Key, charge Charge) error {
	now := time.Now().UTC()
	for i := range keys {
		keys[i].CreatedAt = now
		keys[i].IsActive = false
		keys[i].ActivationDate = nil
		keys[i].Expires = nil
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if charge.AccountID != "" {
			if err := addDebt(ctx, tx, charge.AccountID, charge.Amount); err != nil {
				return err
			}
		}

		const q = `INSERT INTO license_keys (` + keyColumns + `)
			VALUES
			(:license_key, :prefix, :validity_days, :price_cents, :activation_date, :expires, :is_active, :created_by, :created_at)`

		for i := range keys {
			if _, err := tx.NamedExecContext(ctx, q, keys[i]); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("insert key %s: %w", keys[i].Key, ErrConflict)
				}
				return fmt.Errorf("insert key: %w", err)
			}
		}
		return nil
	})
}

// GetKey returns a key record by its key string.
func (s *Store) GetKey(ctx context.Context, key string) (*model.Key, error) {
	var k model.Key
	q := s.db.Rebind("SELECT " + keyColumns + " FROM license_keys WHERE license_key = ?")
	if err := s.db.GetContext(ctx, &k, q, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get key: %w", err)
	}
	return &k, nil
}

// ListKeys returns keys matching filter, newest first.
func (s *Store) ListKeys(ctx context.Context, filter model.KeyFilter) ([]model.Key, error) {
	where, args := keyFilterClause(filter)
	q := s.db.Rebind("SELECT " + keyColumns + " FROM license_keys" + where + " ORDER BY created_at DESC, license_key")

	var keys []model.Key
	if err := s.db.SelectContext(ctx, &keys, q, args...); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// ActivateKey marks an inactive key active with the given calendar dates. The
// update is conditional on the key still being inactive, so of two concurrent
// activations exactly one succeeds; the other gets ErrAlreadyActive.
func (s *Store) ActivateKey(ctx context.Context, key, activationDate, expires string) error {
	q := s.db.Rebind(`UPDATE license_keys SET activation_date = ?, expires = ?, is_active = ?
		WHERE license_key = ? AND is_active = ?`)
	result, err := s.db.ExecContext(ctx, q, activationDate, expires, true, key, false)
	if err != nil {
		return fmt.Errorf("activate key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate key rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either someone else activated it first or it is gone.
	if _, err := s.GetKey(ctx, key); err != nil {
		return err
	}
	return ErrAlreadyActive
}

// DeleteKey removes a single key. When createdBy is non-empty only a key
// created by that user is removed. Returns the number of rows removed.
func (s *Store) DeleteKey(ctx context.Context, key, createdBy string) (int64, error) {
	q := "DELETE FROM license_keys WHERE license_key = ?"
	args := []interface{}{key}
	if createdBy != "" {
		q += " AND created_by = ?"
		args = append(args, createdBy)
	}
	return s.execCount(ctx, "delete key", q, args...)
}

// DeleteKeysByPrefix removes every key whose prefix field equals prefix
// exactly. When createdBy is non-empty the delete is restricted to that
// user's keys. Returns the number of rows removed.
func (s *Store) DeleteKeysByPrefix(ctx context.Context, prefix, createdBy string) (int64, error) {
	q := "DELETE FROM license_keys WHERE prefix = ?"
	args := []interface{}{prefix}
	if createdBy != "" {
		q += " AND created_by = ?"
		args = append(args, createdBy)
	}
	return s.execCount(ctx, "delete keys by prefix", q, args...)
}

// CountKeys returns the total and active key counts matching filter.
func (s *Store) CountKeys(ctx context.Context, filter model.KeyFilter) (total, active int64, err error) {
	where, args := keyFilterClause(filter)
	var row struct {
		Total  int64         `db:"total"`
		Active sql.NullInt64 `db:"active"`
	}
	q := s.db.Rebind("SELECT COUNT(*) AS total, SUM(CASE WHEN is_active THEN 1 ELSE 0 END) AS active FROM license_keys" + where)
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		return 0, 0, fmt.Errorf("count keys: %w", err)
	}
	return row.Total, row.Active.Int64, nil
}

func keyFilterClause(filter model.KeyFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Prefix != "" {
		conds = append(conds, "prefix = ?")
		args = append(args, filter.Prefix)
	}
	if filter.CreatedBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) execCount(ctx context.Context, op, q string, args ...interface{}) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n, nil
}

// errNoRows normalizes sql.ErrNoRows into ErrNotFound.
func errNoRows(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
