package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyforge/keyforge/internal/model"
	"github.com/keyforge/keyforge/internal/store"
)

var admin = AdminIdentity("admin")

type fixture struct {
	store   *store.Store
	ledger  *LedgerService
	license *LicenseService
	clock   *mutableClock
}

// mutableClock lets a test move the current date between calls.
type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now(context.Context) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) set(year int, month time.Month, day int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := &mutableClock{}
	clk.set(2025, time.January, 1)
	ledger := NewLedgerService(s, admin.Username, quietLogger())
	return &fixture{
		store:   s,
		ledger:  ledger,
		license: NewLicenseService(s, ledger, clk, nil, quietLogger()),
		clock:   clk,
	}
}

func (f *fixture) moderator(t *testing.T, username string) Identity {
	t.Helper()
	m, err := f.ledger.CreateModerator(context.Background(), admin, CreateModeratorRequest{Username: username, Password: "password123"})
	require.NoError(t, err)
	return ModeratorIdentity(m.ID, m.Username)
}

func (f *fixture) generate(t *testing.T, id Identity, prefix string, count, days int) []string {
	t.Helper()
	res, err := f.license.Generate(context.Background(), id, GenerateRequest{Prefix: prefix, Count: count, ValidityDays: days})
	require.NoError(t, err)
	keys := make([]string, len(res.Keys))
	for i, k := range res.Keys {
		keys[i] = k.Key
	}
	return keys
}

func TestGenerateCreatesInactiveKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keys := f.generate(t, admin, "PRO", 3, 30)
	require.Len(t, keys, 3)

	seen := map[string]bool{}
	for _, key := range keys {
		assert.Regexp(t, `^PRO-[0-9A-F]{32}$`, key)
		assert.False(t, seen[key])
		seen[key] = true

		k, err := f.store.GetKey(ctx, key)
		require.NoError(t, err)
		assert.False(t, k.IsActive)
		assert.Nil(t, k.ActivationDate)
		assert.Nil(t, k.Expires)
		assert.Equal(t, "admin", k.CreatedBy)
		assert.Equal(t, model.Money(0), k.Price)
	}
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   GenerateRequest
		field string
	}{
		{"empty prefix", GenerateRequest{Prefix: "", Count: 1, ValidityDays: 1}, "prefix"},
		{"bad prefix chars", GenerateRequest{Prefix: "A B", Count: 1, ValidityDays: 1}, "prefix"},
		{"long prefix", GenerateRequest{Prefix: "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456", Count: 1, ValidityDays: 1}, "prefix"},
		{"zero count", GenerateRequest{Prefix: "A", Count: 0, ValidityDays: 1}, "count"},
		{"large count", GenerateRequest{Prefix: "A", Count: 101, ValidityDays: 1}, "count"},
		{"zero validity", GenerateRequest{Prefix: "A", Count: 1, ValidityDays: 0}, "validity_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.license.Generate(ctx, admin, tt.req)
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	keys, err := f.store.ListKeys(ctx, model.KeyFilter{})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestGenerateRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.license.Generate(context.Background(), Identity{}, GenerateRequest{Prefix: "A", Count: 1, ValidityDays: 1})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestActivateComputesExpiration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := f.generate(t, admin, "M", 1, 30)[0]
	res, err := f.license.Activate(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "2025-01-31", res.Expires)

	k, err := f.store.GetKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, k.IsActive)
	assert.Equal(t, "2025-01-01", *k.ActivationDate)
	assert.Equal(t, "2025-01-31", *k.Expires)
}

func TestActivateClampsUnlimitedValidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, UnlimitedValidityDays).Format(model.DateLayout)

	for _, days := range []int{UnlimitedValidityDays, 99999} {
		key := f.generate(t, admin, "LIFE", 1, days)[0]
		res, err := f.license.Activate(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, res.Expires, "validity %d", days)
	}
}

func TestActivateTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := f.generate(t, admin, "T", 1, 7)[0]
	first, err := f.license.Activate(ctx, key)
	require.NoError(t, err)

	f.clock.set(2025, time.March, 1)
	_, err = f.license.Activate(ctx, key)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	k, err := f.store.GetKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.Expires, *k.Expires)
}

func TestActivateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.license.Activate(ctx, "NOPE-123")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.license.Activate(ctx, "  ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestActivateConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.generate(t, admin, "RACE", 1, 30)[0]

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.license.Activate(ctx, key)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyActive)
	}
	assert.Equal(t, 1, ok)
}

func TestTrialLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := f.generate(t, admin, "TRIAL", 1, 7)[0]

	_, err := f.license.Verify(ctx, key)
	assert.ErrorIs(t, err, ErrNotActivated)

	res, err := f.license.Activate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-08", res.Expires)

	f.clock.set(2025, time.January, 8)
	v, err := f.license.Verify(ctx, key)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "2025-01-08", v.Expires)

	// Verification is read-only and repeatable.
	v2, err := f.license.Verify(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, v, v2)

	f.clock.set(2025, time.January, 9)
	_, err = f.license.Verify(ctx, key)
	assert.ErrorIs(t, err, ErrExpired)

	k, err := f.store.GetKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, k.IsActive)
	assert.Equal(t, "2025-01-08", *k.Expires)
}

func TestVerifyUnknownKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.license.Verify(context.Background(), "UNKNOWN-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModeratorChargedForGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := f.moderator(t, "alice")

	_, err := f.ledger.UpsertPrices(ctx, admin, []PriceEntry{FormatPriceEntry(30, 2.5)})
	require.NoError(t, err)

	res, err := f.license.Generate(ctx, mod, GenerateRequest{Prefix: "AL", Count: 5, ValidityDays: 30})
	require.NoError(t, err)
	assert.Equal(t, model.MoneyFromFloat(12.5), res.TotalCost)
	for _, k := range res.Keys {
		assert.Equal(t, model.Money(250), k.Price)
	}

	debt, err := f.ledger.Debt(ctx, mod, mod.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "12.50", debt.String())

	// Unpriced tier is free.
	_, err = f.license.Generate(ctx, mod, GenerateRequest{Prefix: "AL", Count: 2, ValidityDays: 90})
	require.NoError(t, err)
	debt, _ = f.ledger.Debt(ctx, mod, mod.AccountID)
	assert.Equal(t, model.Money(1250), debt)

	// Admin generation costs nothing.
	res, err = f.license.Generate(ctx, admin, GenerateRequest{Prefix: "AD", Count: 5, ValidityDays: 30})
	require.NoError(t, err)
	assert.Equal(t, model.Money(0), res.TotalCost)

	require.NoError(t, f.ledger.ClearDebt(ctx, admin, mod.AccountID))
	debt, _ = f.ledger.Debt(ctx, admin, mod.AccountID)
	assert.Equal(t, model.Money(0), debt)
}

func TestConcurrentGenerationLosesNoCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := f.moderator(t, "bob")
	_, err := f.ledger.UpsertPrices(ctx, admin, []PriceEntry{FormatPriceEntry(7, 1.1)})
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.license.Generate(ctx, mod, GenerateRequest{Prefix: "B", Count: 3, ValidityDays: 7})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	debt, err := f.ledger.Debt(ctx, admin, mod.AccountID)
	require.NoError(t, err)
	assert.Equal(t, model.Money(workers*3*110), debt)
}

func TestModeratorScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.moderator(t, "alice")
	bob := f.moderator(t, "bob")

	aliceKeys := f.generate(t, alice, "SHARED", 2, 30)
	f.generate(t, bob, "SHARED", 3, 30)

	keys, err := f.license.ListKeys(ctx, alice, model.KeyFilter{CreatedBy: "bob"})
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	for _, k := range keys {
		assert.True(t, alice.CanAccessKey(&k))
		assert.False(t, bob.CanAccessKey(&k))
	}

	n, err := f.license.DeleteKey(ctx, bob, aliceKeys[0])
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.license.DeleteByPrefix(ctx, alice, "SHARED")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := f.license.ListKeys(ctx, admin, model.KeyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	export, err := f.license.ExportKeys(ctx, bob, model.KeyFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, len(splitLines(export)))
}

func TestDeleteByPrefixExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.generate(t, admin, "ABC", 2, 30)
	f.generate(t, admin, "ABCD", 2, 30)
	f.generate(t, admin, "XABC", 1, 30)

	n, err := f.license.DeleteByPrefix(ctx, admin, "ABC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.license.DeleteByPrefix(ctx, admin, "ABC")
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := f.license.ListKeys(ctx, admin, model.KeyFilter{})
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestDeleteModeratorRemovesTheirKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.moderator(t, "alice")
	bob := f.moderator(t, "bob")
	f.generate(t, alice, "A", 4, 30)
	f.generate(t, bob, "B", 2, 30)
	f.generate(t, admin, "C", 1, 30)

	_, err := f.ledger.DeleteModerator(ctx, bob, alice.AccountID)
	assert.ErrorIs(t, err, ErrForbidden)

	n, err := f.ledger.DeleteModerator(ctx, admin, alice.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	keys, err := f.license.ListKeys(ctx, admin, model.KeyFilter{})
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	for _, k := range keys {
		assert.NotEqual(t, "alice", k.CreatedBy)
	}

	_, err = f.ledger.DeleteModerator(ctx, admin, alice.AccountID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
