package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T, f *fixture, revoker Revoker) *AuthService {
	t.Helper()
	return NewAuthService(f.store, AuthConfig{
		AdminUsername: "admin",
		AdminPassword: "s3cret-admin",
		SessionSecret: "test-secret-key-for-jwt",
	}, revoker, quietLogger())
}

func newTestRevoker(t *testing.T) (*RedisRevoker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedisRevoker(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestLoginAdmin(t *testing.T) {
	f := newFixture(t)
	auth := newTestAuth(t, f, nil)
	ctx := context.Background()

	id, err := auth.Login(ctx, "admin", "s3cret-admin")
	require.NoError(t, err)
	assert.Equal(t, AdminIdentity("admin"), id)

	_, err = auth.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginModerator(t *testing.T) {
	f := newFixture(t)
	auth := newTestAuth(t, f, nil)
	ctx := context.Background()
	mod := f.moderator(t, "alice")

	id, err := auth.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, mod, id)

	_, err = auth.Login(ctx, "alice", "nope-nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAdminLoginDisabledWithoutPassword(t *testing.T) {
	f := newFixture(t)
	auth := NewAuthService(f.store, AuthConfig{AdminUsername: "admin", SessionSecret: "x"}, nil, quietLogger())

	_, err := auth.Login(context.Background(), "admin", "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionRoundTrip(t *testing.T) {
	f := newFixture(t)
	auth := newTestAuth(t, f, nil)
	ctx := context.Background()
	mod := f.moderator(t, "alice")

	for _, id := range []Identity{AdminIdentity("admin"), mod} {
		token, expires, err := auth.IssueSession(ctx, id)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), expires, time.Minute)

		got, err := auth.ValidateSession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestSessionRejected(t *testing.T) {
	f := newFixture(t)
	auth := newTestAuth(t, f, nil)
	ctx := context.Background()

	expired, _, err := auth.issue(AdminIdentity("admin"), -time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateSession(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.ValidateSession(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	other := NewAuthService(f.store, AuthConfig{AdminUsername: "admin", AdminPassword: "p", SessionSecret: "different"}, nil, quietLogger())
	forged, _, err := other.IssueSession(ctx, AdminIdentity("admin"))
	require.NoError(t, err)
	_, err = auth.ValidateSession(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionOfDeletedModerator(t *testing.T) {
	f := newFixture(t)
	auth := newTestAuth(t, f, nil)
	ctx := context.Background()
	mod := f.moderator(t, "alice")

	token, _, err := auth.IssueSession(ctx, mod)
	require.NoError(t, err)

	_, err = f.ledger.DeleteModerator(ctx, admin, mod.AccountID)
	require.NoError(t, err)

	_, err = auth.ValidateSession(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newFixture(t)
	revoker, mr := newTestRevoker(t)
	auth := newTestAuth(t, f, revoker)
	ctx := context.Background()

	token, _, err := auth.IssueSession(ctx, AdminIdentity("admin"))
	require.NoError(t, err)
	_, err = auth.ValidateSession(ctx, token)
	require.NoError(t, err)

	require.NoError(t, auth.Logout(ctx, token))
	_, err = auth.ValidateSession(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))

	// Once the revocation entry expires the token is expired as well.
	mr.FastForward(DefaultSessionTTL + time.Minute)
	assert.Empty(t, mr.Keys())

	assert.NoError(t, auth.Logout(ctx, "garbage"))
}

func TestRevokerUnavailable(t *testing.T) {
	f := newFixture(t)
	revoker, mr := newTestRevoker(t)
	auth := newTestAuth(t, f, revoker)
	ctx := context.Background()

	token, _, err := auth.IssueSession(ctx, AdminIdentity("admin"))
	require.NoError(t, err)

	mr.Close()
	_, err = auth.ValidateSession(ctx, token)
	assert.ErrorIs(t, err, ErrUnavailable)
}
