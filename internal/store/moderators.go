package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keyforge/keyforge/internal/model"
)

const moderatorColumns = `id, username, password_hash, role, debt_cents, created_at`

// CreateModerator inserts a new moderator account. ID must already be set;
// CreatedAt is populated here. A duplicate username yields ErrConflict.
func (s *Store) CreateModerator(ctx context.Context, m *model.Moderator) error {
	m.CreatedAt = time.Now().UTC()
	if m.Role == "" {
		m.Role = "moderator"
	}

	const q = `INSERT INTO moderators (` + moderatorColumns + `)
		VALUES
		(:id, :username, :password_hash, :role, :debt_cents, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, m); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert moderator %q: %w", m.Username, ErrConflict)
		}
		return fmt.Errorf("insert moderator: %w", err)
	}
	return nil
}

// GetModerator returns a moderator by ID.
func (s *Store) GetModerator(ctx context.Context, id string) (*model.Moderator, error) {
	var m model.Moderator
	q := s.db.Rebind("SELECT " + moderatorColumns + " FROM moderators WHERE id = ?")
	if err := s.db.GetContext(ctx, &m, q, id); err != nil {
		return nil, errNoRows(err, "get moderator")
	}
	return &m, nil
}

// GetModeratorByUsername returns a moderator by its unique username.
func (s *Store) GetModeratorByUsername(ctx context.Context, username string) (*model.Moderator, error) {
	var m model.Moderator
	q := s.db.Rebind("SELECT " + moderatorColumns + " FROM moderators WHERE username = ?")
	if err := s.db.GetContext(ctx, &m, q, username); err != nil {
		return nil, errNoRows(err, "get moderator by username")
	}
	return &m, nil
}

// ListModerators returns all moderator accounts ordered by username.
func (s *Store) ListModerators(ctx context.Context) ([]model.Moderator, error) {
	var mods []model.Moderator
	if err := s.db.SelectContext(ctx, &mods, "SELECT "+moderatorColumns+" FROM moderators ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list moderators: %w", err)
	}
	return mods, nil
}

// DeleteModerator removes a moderator and every key it created, in one
// transaction. Returns the number of keys removed.
func (s *Store) DeleteModerator(ctx context.Context, id string) (int64, error) {
	var removed int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var username string
		if err := tx.GetContext(ctx, &username, tx.Rebind("SELECT username FROM moderators WHERE id = ?"), id); err != nil {
			return errNoRows(err, "get moderator")
		}

		result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM license_keys WHERE created_by = ?"), username)
		if err != nil {
			return fmt.Errorf("delete moderator keys: %w", err)
		}
		if removed, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("delete moderator keys rows affected: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM moderators WHERE id = ?"), id); err != nil {
			return fmt.Errorf("delete moderator: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// AddDebt atomically increments a moderator's debt by amount.
func (s *Store) AddDebt(ctx context.Context, id string, amount model.Money) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return addDebt(ctx, tx, id, amount)
	})
}

// ClearDebt sets a moderator's debt to exactly zero.
func (s *Store) ClearDebt(ctx context.Context, id string) error {
	n, err := s.execCount(ctx, "clear debt", "UPDATE moderators SET debt_cents = 0 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func addDebt(ctx context.Context, tx *sqlx.Tx, id string, amount model.Money) error {
	result, err := tx.ExecContext(ctx,
		tx.Rebind("UPDATE moderators SET debt_cents = debt_cents + ? WHERE id = ?"), amount, id)
	if err != nil {
		return fmt.Errorf("add debt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("add debt rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
