package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/blogsmith/blogsmith/internal/checkout"
	"github.com/blogsmith/blogsmith/internal/content"
	"github.com/blogsmith/blogsmith/internal/gateway/toss"
	"github.com/blogsmith/blogsmith/internal/generator"
	"github.com/blogsmith/blogsmith/internal/httpapi"
	"github.com/blogsmith/blogsmith/internal/store/gormstore"
	"github.com/blogsmith/blogsmith/pkg/ledger"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagGeminiModel    = "gemini-model"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyGeminiModel    = "gemini_model"
	configKeyGeminiAPIKey   = "gemini_api_key"
	configKeyTossSecretKey  = "toss_secret_key"
	configKeyTossClientKey  = "toss_client_key"
	configKeySessionKey     = "session_signing_key"
	configKeySessionIssuer  = "session_issuer"
	configKeySessionCookie  = "session_cookie_name"

	defaultDatabaseURL = "sqlite:///tmp/blogsmith.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    string
	TossSecretKey     string
	TossClientKey     string
	GeminiAPIKey      string
	GeminiModel       string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "blogsmithd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "blogsmithd",
		Short:         "Blog content and credit API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagGeminiModel, "", "Gemini model name")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyGeminiModel:    "GEMINI_MODEL",
		configKeyGeminiAPIKey:   "GEMINI_API_KEY",
		configKeyTossSecretKey:  "TOSS_SECRET_KEY",
		configKeyTossClientKey:  "TOSS_CLIENT_KEY",
		configKeySessionKey:     "SESSION_SIGNING_KEY",
		configKeySessionIssuer:  "SESSION_ISSUER",
		configKeySessionCookie:  "SESSION_COOKIE_NAME",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyGeminiModel:    flagGeminiModel,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.TossSecretKey = viper.GetString(configKeyTossSecretKey)
	cfg.TossClientKey = viper.GetString(configKeyTossClientKey)
	cfg.GeminiAPIKey = viper.GetString(configKeyGeminiAPIKey)
	cfg.GeminiModel = viper.GetString(configKeyGeminiModel)
	cfg.SessionSigningKey = viper.GetString(configKeySessionKey)
	cfg.SessionIssuer = viper.GetString(configKeySessionIssuer)
	cfg.SessionCookieName = viper.GetString(configKeySessionCookie)

	if cfg.TossSecretKey == "" {
		return fmt.Errorf("TOSS_SECRET_KEY is required")
	}
	if cfg.TossClientKey == "" {
		return fmt.Errorf("TOSS_CLIENT_KEY is required")
	}
	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("SESSION_SIGNING_KEY is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	ledgerService, err := ledger.NewService(store, clock,
		ledger.WithOperationLogger(ledger.NewZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	gateway, err := toss.NewClient(cfg.TossSecretKey)
	if err != nil {
		return fmt.Errorf("payment gateway init: %w", err)
	}
	checkoutService, err := checkout.NewService(
		gormstore.NewIntentStore(gormDB), gateway, ledgerService, cfg.TossClientKey, logger)
	if err != nil {
		return fmt.Errorf("checkout service init: %w", err)
	}

	contentGenerator, closeGenerator, err := buildGenerator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("generator init: %w", err)
	}
	defer closeGenerator()

	contentService, err := content.NewService(contentGenerator, ledgerService, logger)
	if err != nil {
		return fmt.Errorf("content service init: %w", err)
	}

	apiConfig := httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
	}
	return httpapi.Run(ctx, apiConfig, httpapi.Services{
		Ledger:   ledgerService,
		Checkout: checkoutService,
		Content:  contentService,
	}, logger)
}

// buildGenerator picks the Gemini generator when an API key is configured and
// the templated fallback otherwise.
func buildGenerator(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (generator.Generator, func(), error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, serving templated drafts only")
		return generator.Fallback{}, func() {}, nil
	}
	gemini, err := generator.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, nil, err
	}
	return gemini, func() { _ = gemini.Close() }, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "blogsmith.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	err := db.AutoMigrate(
		&gormstore.UserCredit{},
		&gormstore.CreditTransaction{},
		&gormstore.ContentGeneration{},
		&gormstore.PaymentIntent{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
