package service

import (
	"context"

	"github.com/keyforge/keyforge/internal/model"
)

// Role distinguishes the two kinds of dashboard caller.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Identity is the authenticated caller of an operation. It is built per
// request and passed explicitly; nothing about the session lives in process
// state. AccountID is empty for the admin.
type Identity struct {
	Role      Role   `json:"role"`
	Username  string `json:"username"`
	AccountID string `json:"account_id,omitempty"`
}

// AdminIdentity returns the identity of the configured administrator.
func AdminIdentity(username string) Identity {
	return Identity{Role: RoleAdmin, Username: username}
}

// ModeratorIdentity returns the identity of a stored moderator account.
func ModeratorIdentity(id, username string) Identity {
	return Identity{Role: RoleModerator, Username: username, AccountID: id}
}

// IsAdmin reports whether the identity is the administrator.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IsModerator reports whether the identity is a moderator.
func (i Identity) IsModerator() bool {
	return i.Role == RoleModerator && i.AccountID != ""
}

// CanAccessKey reports whether the identity may see or delete k. Admins
// access every key; moderators only the keys they created.
func (i Identity) CanAccessKey(k *model.Key) bool {
	if i.IsAdmin() {
		return true
	}
	return i.IsModerator() && k.CreatedBy == i.Username
}

// ownerScope is the created_by restriction applied to key queries.
func (i Identity) ownerScope() string {
	if i.IsAdmin() {
		return ""
	}
	return i.Username
}

func requireAdmin(id Identity) error {
	if !id.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func requireAuthenticated(id Identity) error {
	if id.IsAdmin() || id.IsModerator() {
		return nil
	}
	return ErrForbidden
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the request's identity. ok is false for
// unauthenticated requests.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
