package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/keyforge/keyforge/internal/clock"
	"github.com/keyforge/keyforge/internal/config"
	"github.com/keyforge/keyforge/internal/metrics"
	"github.com/keyforge/keyforge/internal/service"
	"github.com/keyforge/keyforge/internal/store"
)

// app bundles the store and services a command works with.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	metrics  *metrics.Metrics
	ledger   *service.LedgerService
	licenses *service.LicenseService
}

// loadConfig resolves the effective configuration from file, environment and
// flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if cfg.Database.DataDir == "" {
		cfg.Database.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// defaultDataDir returns ~/.keyforge.
func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keyforge")
}

// newLogger builds the process logger. dev forces debug level.
func newLogger(cfg config.LogConfig, dev bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp loads configuration, opens the key store and builds the services.
// Logs go to stderr so command output on stdout stays machine readable.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, false, os.Stderr)
	return newApp(cfg, logger)
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	s, err := store.Open(store.Options{
		Driver:  cfg.Database.Driver,
		DSN:     cfg.Database.PostgresDSN(),
		DataDir: cfg.Database.DataDir,
		Name:    cfg.Database.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}

	m := metrics.New()
	clk := clock.New(cfg.Clock.URL, cfg.Clock.Timeout, logger)
	ledger := service.NewLedgerService(s, cfg.Admin.Username, logger)
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		metrics:  m,
		ledger:   ledger,
		licenses: service.NewLicenseService(s, ledger, clk, m, logger),
	}, nil
}

// admin is the identity CLI commands act with.
func (a *app) admin() service.Identity {
	return service.AdminIdentity(a.cfg.Admin.Username)
}

func (a *app) Close() {
	a.store.Close()
}

// randomSecret returns a hex-encoded 256-bit secret.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// promptPassword reads a password twice from the terminal without echo.
func promptPassword(w io.Writer) (string, error) {
	fmt.Fprint(w, "Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(w)

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// orDash renders nil or empty strings as "-".
func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
