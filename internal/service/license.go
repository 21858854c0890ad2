package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/keyforge/keyforge/internal/clock"
	"github.com/keyforge/keyforge/internal/metrics"
	"github.com/keyforge/keyforge/internal/model"
	"github.com/keyforge/keyforge/internal/store"
)

// UnlimitedValidityDays caps the validity applied at activation. Keys
// requested with a longer validity expire this many days after activation.
const UnlimitedValidityDays = 36500

// MaxGenerateCount is the largest batch a single Generate call accepts.
const MaxGenerateCount = 100

// suffixBytes is the amount of randomness in a key suffix (128 bits).
const suffixBytes = 16

// GenerateRequest describes a batch of keys to create.
type GenerateRequest struct {
	Prefix       string `json:"prefix" validate:"required,max=32,keyprefix"`
	Count        int    `json:"count" validate:"min=1,max=100"`
	ValidityDays int    `json:"validity_days" validate:"min=1"`
}

// GeneratedKey is one key from a generated batch.
type GeneratedKey struct {
	Key          string      `json:"key"`
	ValidityDays int         `json:"validity_days"`
	Price        model.Money `json:"price"`
}

// GenerateResult lists the created keys and what the caller was charged.
type GenerateResult struct {
	Keys      []GeneratedKey `json:"keys"`
	TotalCost model.Money    `json:"total_cost"`
}

// ActivateResult is returned by a successful activation.
type ActivateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Expires string `json:"expires"`
}

// VerifyResult describes a key's validity.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Expires string `json:"expires,omitempty"`
}

// LicenseService implements the key lifecycle: generation, one-time
// activation, verification and deletion. It holds no mutable state and is
// safe for concurrent use.
type LicenseService struct {
	store    *store.Store
	ledger   *LedgerService
	clock    clock.Source
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewLicenseService creates a LicenseService. m may be nil.
func NewLicenseService(s *store.Store, ledger *LedgerService, clk clock.Source, m *metrics.Metrics, logger *slog.Logger) *LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseService{
		store:    s,
		ledger:   ledger,
		clock:    clk,
		validate: newValidator(),
		metrics:  m,
		logger:   logger,
	}
}

// Generate creates req.Count new inactive keys. Moderators are charged
// Count times the tier price in the same transaction that stores the keys;
// the administrator is never charged.
func (s *LicenseService) Generate(ctx context.Context, id Identity, req GenerateRequest) (*GenerateResult, error) {
	if err := requireAuthenticated(id); err != nil {
		return nil, err
	}
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	var unitPrice model.Money
	var charge store.Charge
	if id.IsModerator() {
		unitPrice = s.ledger.PriceFor(ctx, req.ValidityDays)
		charge = store.Charge{AccountID: id.AccountID, Amount: unitPrice * model.Money(req.Count)}
	}

	keys := make([]model.Key, req.Count)
	for i := range keys {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		keys[i] = model.Key{
			Key:          req.Prefix + "-" + suffix,
			Prefix:       req.Prefix,
			ValidityDays: req.ValidityDays,
			Price:        unitPrice,
			CreatedBy:    id.Username,
		}
	}

	if err := s.store.CreateKeys(ctx, keys, charge); err != nil {
		return nil, fromStore("store keys", err)
	}

	result := &GenerateResult{Keys: make([]GeneratedKey, len(keys)), TotalCost: charge.Amount}
	for i, k := range keys {
		result.Keys[i] = GeneratedKey{Key: k.Key, ValidityDays: k.ValidityDays, Price: k.Price}
	}

	s.metrics.ObserveGenerated(string(id.Role), len(keys), int64(charge.Amount))
	s.logger.Info("keys generated",
		"by", id.Username, "role", id.Role, "prefix", req.Prefix,
		"count", req.Count, "validity_days", req.ValidityDays, "charged", charge.Amount.String())
	return result, nil
}

// Activate binds an inactive key to an expiration date computed from the
// current UTC date. A key can be activated at most once.
func (s *LicenseService) Activate(ctx context.Context, key string) (*ActivateResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("key", "key is required")
	}

	k, err := s.store.GetKey(ctx, key)
	if err != nil {
		err = fromStore("get key", err)
		s.metrics.ObserveActivation(outcome(err))
		return nil, err
	}
	if k.IsActive {
		s.metrics.ObserveActivation(outcome(ErrAlreadyActive))
		return nil, ErrAlreadyActive
	}

	today := clock.Today(ctx, s.clock)
	expires := today.AddDate(0, 0, effectiveValidity(k.ValidityDays))
	activationDate := today.Format(model.DateLayout)
	expiresDate := expires.Format(model.DateLayout)

	if err := s.store.ActivateKey(ctx, key, activationDate, expiresDate); err != nil {
		err = fromStore("activate key", err)
		s.metrics.ObserveActivation(outcome(err))
		return nil, err
	}

	s.metrics.ObserveActivation(outcome(nil))
	return &ActivateResult{
		Success: true,
		Message: "License key activated successfully",
		Expires: expiresDate,
	}, nil
}

// Verify reports whether an activated key is still within its validity. The
// expiration day itself is valid. Verify never changes stored state.
func (s *LicenseService) Verify(ctx context.Context, key string) (*VerifyResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, invalid("key", "key is required")
	}

	result, err := s.verify(ctx, key)
	s.metrics.ObserveVerification(outcome(err))
	return result, err
}

func (s *LicenseService) verify(ctx context.Context, key string) (*VerifyResult, error) {
	k, err := s.store.GetKey(ctx, key)
	if err != nil {
		return nil, fromStore("get key", err)
	}
	if !k.IsActive || k.Expires == nil {
		return nil, ErrNotActivated
	}

	expires, err := time.Parse(model.DateLayout, *k.Expires)
	if err != nil {
		return nil, fmt.Errorf("parse expiration date of %s: %w", key, err)
	}
	if clock.Today(ctx, s.clock).After(expires) {
		return &VerifyResult{Valid: false, Message: "License key has expired", Expires: *k.Expires}, ErrExpired
	}

	return &VerifyResult{Valid: true, Message: "License key is valid", Expires: *k.Expires}, nil
}

// ListKeys returns keys matching filter, newest first. Moderators only ever
// see their own keys.
func (s *LicenseService) ListKeys(ctx context.Context, id Identity, filter model.KeyFilter) ([]model.Key, error) {
	if err := requireAuthenticated(id); err != nil {
		return nil, err
	}
	if scope := id.ownerScope(); scope != "" {
		filter.CreatedBy = scope
	}
	keys, err := s.store.ListKeys(ctx, filter)
	if err != nil {
		return nil, fromStore("list keys", err)
	}
	return keys, nil
}

// ExportKeys renders the visible keys matching filter one per line.
func (s *LicenseService) ExportKeys(ctx context.Context, id Identity, filter model.KeyFilter) (string, error) {
	keys, err := s.ListKeys(ctx, id, filter)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k.Key)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// DeleteKey removes one key and returns the number removed (0 or 1). A
// moderator deleting someone else's key removes nothing.
func (s *LicenseService) DeleteKey(ctx context.Context, id Identity, key string) (int64, error) {
	if err := requireAuthenticated(id); err != nil {
		return 0, err
	}
	if strings.TrimSpace(key) == "" {
		return 0, invalid("key", "key is required")
	}
	n, err := s.store.DeleteKey(ctx, key, id.ownerScope())
	if err != nil {
		return 0, fromStore("delete key", err)
	}
	s.metrics.ObserveDeleted(n)
	s.logger.Info("key deleted", "by", id.Username, "key", key, "removed", n)
	return n, nil
}

// DeleteByPrefix removes every visible key whose prefix equals prefix
// exactly and returns how many were removed.
func (s *LicenseService) DeleteByPrefix(ctx context.Context, id Identity, prefix string) (int64, error) {
	if err := requireAuthenticated(id); err != nil {
		return 0, err
	}
	if strings.TrimSpace(prefix) == "" {
		return 0, invalid("prefix", "prefix is required")
	}
	n, err := s.store.DeleteKeysByPrefix(ctx, prefix, id.ownerScope())
	if err != nil {
		return 0, fromStore("delete keys by prefix", err)
	}
	s.metrics.ObserveDeleted(n)
	s.logger.Info("keys deleted by prefix", "by", id.Username, "prefix", prefix, "removed", n)
	return n, nil
}

func effectiveValidity(days int) int {
	if days > UnlimitedValidityDays {
		return UnlimitedValidityDays
	}
	return days
}

func randomSuffix() (string, error) {
	b := make([]byte, suffixBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// outcome is the metrics label for a lifecycle result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrNotActivated):
		return "not_activated"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
