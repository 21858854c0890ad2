package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyforge/keyforge/internal/model"
)

func TestUpsertPricesSkipsBadRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var entries []PriceEntry
	require.NoError(t, json.Unmarshal([]byte(`[
		{"validity_days": 30, "price": 2.5},
		{"validity_days": "7", "price": "1.00"},
		{"validity_days": 90, "price": -1},
		{"validity_days": 0, "price": 5},
		{"validity_days": 365, "price": "free"},
		{"validity_days": "x", "price": 1}
	]`), &entries))

	res, err := f.ledger.UpsertPrices(ctx, admin, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	require.Len(t, res.Skipped, 4)
	assert.Equal(t, 2, res.Skipped[0].Index)
	assert.Equal(t, "price must not be negative", res.Skipped[0].Reason)
	assert.Equal(t, "validity_days must be positive", res.Skipped[1].Reason)
	assert.Equal(t, "price is not a number", res.Skipped[2].Reason)
	assert.Equal(t, "validity_days is not a whole number", res.Skipped[3].Reason)

	prices, err := f.ledger.ListPrices(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, []model.Price{{ValidityDays: 7, Price: 100}, {ValidityDays: 30, Price: 250}}, prices)

	assert.Equal(t, model.Money(250), f.ledger.PriceFor(ctx, 30))
	assert.Equal(t, model.Money(0), f.ledger.PriceFor(ctx, 90))
}

func TestUpsertPricesSkipsPriceAboveMaximum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var entries []PriceEntry
	require.NoError(t, json.Unmarshal([]byte(`[
		{"validity_days": 30, "price": 1e300},
		{"validity_days": 90, "price": 1000000000.01},
		{"validity_days": 365, "price": 1000000000}
	]`), &entries))

	res, err := f.ledger.UpsertPrices(ctx, admin, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, 0, res.Skipped[0].Index)
	assert.Equal(t, "price must not exceed 1000000000.00", res.Skipped[0].Reason)
	assert.Equal(t, 1, res.Skipped[1].Index)

	assert.Equal(t, model.Money(0), f.ledger.PriceFor(ctx, 30))
	assert.Equal(t, MaxPrice, f.ledger.PriceFor(ctx, 365))

	mod := f.moderator(t, "hank")
	result, err := f.license.Generate(ctx, mod, GenerateRequest{Prefix: "BIG", Count: MaxGenerateCount, ValidityDays: 365})
	require.NoError(t, err)
	assert.Equal(t, MaxPrice*MaxGenerateCount, result.TotalCost)

	debt, err := f.ledger.Debt(ctx, admin, mod.AccountID)
	require.NoError(t, err)
	assert.Equal(t, MaxPrice*MaxGenerateCount, debt)
	assert.Positive(t, int64(debt))
}

func TestUpsertPricesReplacesTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.UpsertPrices(ctx, admin, []PriceEntry{FormatPriceEntry(30, 2.5)})
	require.NoError(t, err)
	_, err = f.ledger.UpsertPrices(ctx, admin, []PriceEntry{FormatPriceEntry(30, 3)})
	require.NoError(t, err)

	assert.Equal(t, model.Money(300), f.ledger.PriceFor(ctx, 30))
}

func TestUpsertPricesAdminOnly(t *testing.T) {
	f := newFixture(t)
	mod := f.moderator(t, "carol")

	_, err := f.ledger.UpsertPrices(context.Background(), mod, []PriceEntry{FormatPriceEntry(30, 1)})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestClearDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mod := f.moderator(t, "dave")

	require.NoError(t, f.ledger.ChargeModerator(ctx, mod.AccountID, 999))
	require.NoError(t, f.ledger.ChargeModerator(ctx, mod.AccountID, 0))

	assert.ErrorIs(t, f.ledger.ClearDebt(ctx, mod, mod.AccountID), ErrForbidden)
	assert.ErrorIs(t, f.ledger.ClearDebt(ctx, admin, "missing"), ErrNotFound)

	require.NoError(t, f.ledger.ClearDebt(ctx, admin, mod.AccountID))
	debt, err := f.ledger.Debt(ctx, mod, mod.AccountID)
	require.NoError(t, err)
	assert.Equal(t, model.Money(0), debt)

	assert.ErrorIs(t, f.ledger.ChargeModerator(ctx, "missing", 1), ErrNotFound)
	assert.ErrorIs(t, f.ledger.ChargeModerator(ctx, mod.AccountID, -1), ErrValidation)
}

func TestDebtVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.moderator(t, "alice")
	bob := f.moderator(t, "bob")

	_, err := f.ledger.Debt(ctx, alice, bob.AccountID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.ledger.Debt(ctx, alice, alice.AccountID)
	assert.NoError(t, err)
}

func TestCreateModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.ledger.CreateModerator(ctx, admin, CreateModeratorRequest{Username: "erin", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.NotEqual(t, "password123", m.PasswordHash)
	assert.Equal(t, "moderator", m.Role)

	_, err = f.ledger.CreateModerator(ctx, admin, CreateModeratorRequest{Username: "erin", Password: "password456"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.ledger.CreateModerator(ctx, admin, CreateModeratorRequest{Username: "ab", Password: "password123"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.ledger.CreateModerator(ctx, admin, CreateModeratorRequest{Username: "frank", Password: "short"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.ledger.CreateModerator(ctx, ModeratorIdentity(m.ID, m.Username), CreateModeratorRequest{Username: "gina", Password: "password123"})
	assert.ErrorIs(t, err, ErrForbidden)

	mods, err := f.ledger.ListModerators(ctx, admin)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "erin", mods[0].Username)

	byName, err := f.ledger.ModeratorByUsername(ctx, admin, "erin")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byName.ID)
}

func TestCreateModeratorRejectsAdminUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.license.Generate(ctx, admin, GenerateRequest{Prefix: "ADM", Count: 3, ValidityDays: 30})
	require.NoError(t, err)

	for _, name := range []string{"admin", "ADMIN", "Admin"} {
		_, err := f.ledger.CreateModerator(ctx, admin, CreateModeratorRequest{Username: name, Password: "password123"})
		assert.ErrorIs(t, err, ErrConflict, name)
	}

	mods, err := f.ledger.ListModerators(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, mods)

	keys, err := f.license.ListKeys(ctx, admin, model.KeyFilter{CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}
