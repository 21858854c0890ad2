package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	kmcp "github.com/keyforge/keyforge/internal/mcp"
	"github.com/keyforge/keyforge/internal/server"
	"github.com/keyforge/keyforge/internal/service"
)

const banner = `
 _  __          _____
| |/ /___ _   _|  ___|__  _ __ __ _  ___
| ' // _ \ | | | |_ / _ \| '__/ _` + "`" + ` |/ _ \
| . \  __/ |_| |  _| (_) | | | (_| |  __/
|_|\_\___|\__, |_|  \___/|_|  \__, |\___|
          |___/               |___/
`

func newServeCmd() *cobra.Command {
	var (
		dev   bool
		noMCP bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the KeyForge API server",
		Long:  "Start the HTTP server exposing the public activation/verification API and the dashboard.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev, noMCP)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "Do not mount the MCP endpoint at /mcp")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev, noMCP bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, dev, os.Stderr)

	// 1. Key store and services
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("key store initialized", "driver", a.store.Driver(), "data_dir", cfg.Database.DataDir)
	if cfg.Clock.URL != "" {
		logger.Info("using external time source", "url", cfg.Clock.URL, "timeout", cfg.Clock.Timeout)
	}

	// 2. Session revocation (optional)
	var revoker service.Revoker
	if cfg.Redis.Addr != "" {
		r, err := service.NewRedisRevoker(context.Background(), service.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return err
		}
		defer r.Close()
		revoker = r
		logger.Info("session revocation enabled", "redis", cfg.Redis.Addr)
	}

	// 3. Auth service
	secret := cfg.Auth.SessionSecret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			a.Close()
			return fmt.Errorf("generate session secret: %w", err)
		}
		logger.Warn("auth.session_secret is not set; sessions will not survive a restart")
	}
	if cfg.Admin.Password == "" {
		logger.Warn("admin.password is not set; dashboard admin login is disabled")
	}
	authSvc := service.NewAuthService(a.store, service.AuthConfig{
		AdminUsername: cfg.Admin.Username,
		AdminPassword: cfg.Admin.Password,
		SessionSecret: secret,
		SessionTTL:    cfg.Auth.SessionTTL,
	}, revoker, logger)

	// 4. Build and start HTTP server
	deps := server.Deps{
		Store:    a.store,
		Auth:     authSvc,
		Licenses: a.licenses,
		Ledger:   a.ledger,
		Metrics:  a.metrics,
	}
	if !noMCP {
		deps.MCP = kmcp.NewMCPServer(a.licenses, a.ledger, a.admin(), versionString(), logger).HTTPHandler()
	}

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimit:       cfg.RateLimit.RequestsPerMinute,
		LoginRateLimit:  cfg.RateLimit.LoginPerMinute,
		CookieSecure:    cfg.Auth.CookieSecure,
		Version:         versionString(),
	}, deps, logger)

	host, port := cfg.Server.Host, cfg.Server.Port
	fmt.Printf("→ KeyForge %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Dashboard:  http://%s:%d/login\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
