package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/keyforge/keyforge/internal/model"
	"github.com/keyforge/keyforge/internal/store"
)

// LedgerService owns the price table, moderator accounts and their debt.
type LedgerService struct {
	store    *store.Store
	admin    string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService. adminUsername is reserved: no
// moderator may take it, since key ownership is tracked by username.
func NewLedgerService(s *store.Store, adminUsername string, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{store: s, admin: adminUsername, validate: newValidator(), logger: logger}
}

// PriceFor returns the unit price of a validity tier. Unconfigured tiers and
// lookup failures price at zero.
func (l *LedgerService) PriceFor(ctx context.Context, validityDays int) model.Money {
	price, err := l.store.GetPrice(ctx, validityDays)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.Error("price lookup failed, pricing at zero", "validity_days", validityDays, "error", err)
		}
		return 0
	}
	return price
}

// ChargeModerator atomically adds amount to a moderator's debt.
func (l *LedgerService) ChargeModerator(ctx context.Context, accountID string, amount model.Money) error {
	if amount < 0 {
		return invalid("amount", "amount must not be negative")
	}
	return fromStore("charge moderator", l.store.AddDebt(ctx, accountID, amount))
}

// ClearDebt resets a moderator's debt to zero.
func (l *LedgerService) ClearDebt(ctx context.Context, id Identity, accountID string) error {
	if err := requireAdmin(id); err != nil {
		return err
	}
	if err := l.store.ClearDebt(ctx, accountID); err != nil {
		return fromStore("clear debt", err)
	}
	l.logger.Info("debt cleared", "by", id.Username, "account_id", accountID)
	return nil
}

// Debt returns a moderator's current debt. Moderators may only read their
// own balance.
func (l *LedgerService) Debt(ctx context.Context, id Identity, accountID string) (model.Money, error) {
	if !id.IsAdmin() && !(id.IsModerator() && id.AccountID == accountID) {
		return 0, ErrForbidden
	}
	m, err := l.store.GetModerator(ctx, accountID)
	if err != nil {
		return 0, fromStore("get moderator", err)
	}
	return m.Debt, nil
}

// ListPrices returns every configured tier.
func (l *LedgerService) ListPrices(ctx context.Context, id Identity) ([]model.Price, error) {
	if err := requireAuthenticated(id); err != nil {
		return nil, err
	}
	prices, err := l.store.ListPrices(ctx)
	if err != nil {
		return nil, fromStore("list prices", err)
	}
	return prices, nil
}

// MaxPrice is the largest unit price a tier accepts. It keeps a full batch
// charge far below the int64 range of a debt balance.
const MaxPrice model.Money = 100_000_000_000 // 1000000000.00

// NumericText holds a number as submitted, either as a JSON number or a
// string, so malformed entries can be reported instead of failing the whole
// request.
type NumericText string

// UnmarshalJSON accepts a JSON number, a string or null.
func (n *NumericText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = NumericText(s)
		return nil
	}
	if string(b) == "null" {
		*n = ""
		return nil
	}
	*n = NumericText(b)
	return nil
}

// PriceEntry is one submitted tier price.
type PriceEntry struct {
	ValidityDays NumericText `json:"validity_days" yaml:"validity_days"`
	Price        NumericText `json:"price" yaml:"price"`
}

// SkippedPrice reports an entry that was not applied.
type SkippedPrice struct {
	Index        int    `json:"index"`
	ValidityDays string `json:"validity_days"`
	Price        string `json:"price"`
	Reason       string `json:"reason"`
}

// UpsertResult summarizes a bulk price update.
type UpsertResult struct {
	Applied int            `json:"applied"`
	Skipped []SkippedPrice `json:"skipped"`
}

// UpsertPrices applies every well-formed entry in one transaction. Entries
// with a non-positive tier or a negative or non-numeric price are skipped
// and reported.
func (l *LedgerService) UpsertPrices(ctx context.Context, id Identity, entries []PriceEntry) (*UpsertResult, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}

	result := &UpsertResult{Skipped: []SkippedPrice{}}
	var valid []model.Price
	for i, e := range entries {
		p, reason := parsePriceEntry(e)
		if reason != "" {
			l.logger.Warn("skipping price entry", "index", i, "validity_days", string(e.ValidityDays), "price", string(e.Price), "reason", reason)
			result.Skipped = append(result.Skipped, SkippedPrice{
				Index:        i,
				ValidityDays: string(e.ValidityDays),
				Price:        string(e.Price),
				Reason:       reason,
			})
			continue
		}
		valid = append(valid, p)
	}

	if len(valid) > 0 {
		if err := l.store.UpsertPrices(ctx, valid); err != nil {
			return nil, fromStore("upsert prices", err)
		}
	}
	result.Applied = len(valid)
	l.logger.Info("prices updated", "by", id.Username, "applied", result.Applied, "skipped", len(result.Skipped))
	return result, nil
}

func parsePriceEntry(e PriceEntry) (model.Price, string) {
	days, err := strconv.Atoi(strings.TrimSpace(string(e.ValidityDays)))
	if err != nil {
		return model.Price{}, "validity_days is not a whole number"
	}
	if days <= 0 {
		return model.Price{}, "validity_days must be positive"
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(string(e.Price)), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return model.Price{}, "price is not a number"
	}
	if price < 0 {
		return model.Price{}, "price must not be negative"
	}
	if price > MaxPrice.Float() {
		return model.Price{}, fmt.Sprintf("price must not exceed %s", MaxPrice)
	}
	return model.Price{ValidityDays: days, Price: model.MoneyFromFloat(price)}, ""
}

// FormatPriceEntry builds a PriceEntry from typed values.
func FormatPriceEntry(validityDays int, price float64) PriceEntry {
	return PriceEntry{
		ValidityDays: NumericText(strconv.Itoa(validityDays)),
		Price:        NumericText(fmt.Sprint(price)),
	}
}
