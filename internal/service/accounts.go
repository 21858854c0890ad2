package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyforge/keyforge/internal/model"
)

// CreateModeratorRequest is the input for a new moderator account.
type CreateModeratorRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,keyprefix"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// CreateModerator stores a new moderator with a bcrypt-hashed password.
func (l *LedgerService) CreateModerator(ctx context.Context, id Identity, req CreateModeratorRequest) (*model.Moderator, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	if err := validateStruct(l.validate, req); err != nil {
		return nil, err
	}
	if l.admin != "" && strings.EqualFold(req.Username, l.admin) {
		return nil, fmt.Errorf("username %q is reserved for the administrator: %w", req.Username, ErrConflict)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	accountID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate account id: %w", err)
	}

	m := &model.Moderator{
		ID:           accountID.String(),
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         string(RoleModerator),
	}
	if err := l.store.CreateModerator(ctx, m); err != nil {
		return nil, fromStore("create moderator", err)
	}
	l.logger.Info("moderator created", "by", id.Username, "username", m.Username, "account_id", m.ID)
	return m, nil
}

// ListModerators returns all moderator accounts.
func (l *LedgerService) ListModerators(ctx context.Context, id Identity) ([]model.Moderator, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	mods, err := l.store.ListModerators(ctx)
	if err != nil {
		return nil, fromStore("list moderators", err)
	}
	return mods, nil
}

// Moderator returns one account by ID.
func (l *LedgerService) Moderator(ctx context.Context, id Identity, accountID string) (*model.Moderator, error) {
	if !id.IsAdmin() && !(id.IsModerator() && id.AccountID == accountID) {
		return nil, ErrForbidden
	}
	m, err := l.store.GetModerator(ctx, accountID)
	if err != nil {
		return nil, fromStore("get moderator", err)
	}
	return m, nil
}

// ModeratorByUsername resolves a username to its account.
func (l *LedgerService) ModeratorByUsername(ctx context.Context, id Identity, username string) (*model.Moderator, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	m, err := l.store.GetModeratorByUsername(ctx, username)
	if err != nil {
		return nil, fromStore("get moderator", err)
	}
	return m, nil
}

// DeleteModerator removes an account and every key it created. Returns the
// number of keys removed.
func (l *LedgerService) DeleteModerator(ctx context.Context, id Identity, accountID string) (int64, error) {
	if err := requireAdmin(id); err != nil {
		return 0, err
	}
	n, err := l.store.DeleteModerator(ctx, accountID)
	if err != nil {
		return 0, fromStore("delete moderator", err)
	}
	l.logger.Info("moderator deleted", "by", id.Username, "account_id", accountID, "keys_removed", n)
	return n, nil
}
