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

	"github.com/MarkoPoloResearchLab/wallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/wallet/internal/walletapi"
	"github.com/MarkoPoloResearchLab/wallet/internal/zaplog"
	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagMachineKey        = "machine-signing-key"
	flagSessionKey        = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"
	flagAdminRole         = "admin-role"
	flagWarningThreshold  = "warning-threshold"
	flagMinimumThreshold  = "minimum-threshold"
	flagMinimumTopup      = "minimum-topup"
	configKeyDatabaseURL  = "database_url"
	configKeyListenAddr   = "listen_addr"
	configKeyOrigins      = "allowed_origins"
	configKeyMachineKey   = "machine_signing_key"
	configKeySessionKey   = "session_signing_key"
	configKeyIssuer       = "session_issuer"
	configKeyCookie       = "session_cookie"
	configKeyAdminRole    = "admin_role"
	configKeyWarning      = "warning_threshold"
	configKeyMinimum      = "minimum_threshold"
	configKeyMinimumTopup = "minimum_topup"
	defaultDatabaseURL    = "sqlite:///tmp/wallet.db"
	defaultListenAddr     = ":8090"
)

type runtimeConfig struct {
	DatabaseURL      string
	ListenAddr       string
	AllowedOrigins   string
	MachineKey       string
	SessionKey       string
	SessionIssuer    string
	SessionCookie    string
	AdminRole        string
	WarningThreshold int64
	MinimumThreshold int64
	MinimumTopup     int64
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Tenant wallet HTTP server",
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

	defaults := wallet.DefaultConfig()
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-delimited CORS origins")
	cmd.Flags().String(flagMachineKey, "", "HS256 signing key for machine bearer tokens")
	cmd.Flags().String(flagSessionKey, "", "HS256 signing key for admin session cookies")
	cmd.Flags().String(flagSessionIssuer, "", "Expected issuer of admin session cookies")
	cmd.Flags().String(flagSessionCookie, "", "Admin session cookie name")
	cmd.Flags().String(flagAdminRole, "", "Role required for admin endpoints")
	cmd.Flags().Int64(flagWarningThreshold, defaults.WarningThreshold, "Available balance below which status becomes warning")
	cmd.Flags().Int64(flagMinimumThreshold, defaults.MinimumThreshold, "Available balance below which status becomes minimum")
	cmd.Flags().Int64(flagMinimumTopup, defaults.MinimumTopup, "Smallest topup amount accepted")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]struct {
		flag string
		env  string
	}{
		configKeyDatabaseURL:  {flagDatabaseURL, "DATABASE_URL"},
		configKeyListenAddr:   {flagListenAddr, "LISTEN_ADDR"},
		configKeyOrigins:      {flagAllowedOrigins, "ALLOWED_ORIGINS"},
		configKeyMachineKey:   {flagMachineKey, "MACHINE_SIGNING_KEY"},
		configKeySessionKey:   {flagSessionKey, "SESSION_SIGNING_KEY"},
		configKeyIssuer:       {flagSessionIssuer, "SESSION_ISSUER"},
		configKeyCookie:       {flagSessionCookie, "SESSION_COOKIE"},
		configKeyAdminRole:    {flagAdminRole, "ADMIN_ROLE"},
		configKeyWarning:      {flagWarningThreshold, "WARNING_THRESHOLD"},
		configKeyMinimum:      {flagMinimumThreshold, "MINIMUM_THRESHOLD"},
		configKeyMinimumTopup: {flagMinimumTopup, "MINIMUM_TOPUP"},
	}
	for key, binding := range bindings {
		if err := viper.BindEnv(key, binding.env); err != nil {
			return err
		}
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(binding.flag)); err != nil {
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
	cfg.AllowedOrigins = viper.GetString(configKeyOrigins)
	cfg.MachineKey = viper.GetString(configKeyMachineKey)
	cfg.SessionKey = viper.GetString(configKeySessionKey)
	cfg.SessionIssuer = viper.GetString(configKeyIssuer)
	cfg.SessionCookie = viper.GetString(configKeyCookie)
	cfg.AdminRole = viper.GetString(configKeyAdminRole)
	cfg.WarningThreshold = viper.GetInt64(configKeyWarning)
	cfg.MinimumThreshold = viper.GetInt64(configKeyMinimum)
	cfg.MinimumTopup = viper.GetInt64(configKeyMinimumTopup)

	if cfg.MachineKey == "" {
		return fmt.Errorf("machine signing key is required")
	}
	if cfg.SessionKey == "" {
		return fmt.Errorf("session signing key is required")
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

	walletConfig := wallet.DefaultConfig()
	walletConfig.WarningThreshold = cfg.WarningThreshold
	walletConfig.MinimumThreshold = cfg.MinimumThreshold
	walletConfig.MinimumTopup = cfg.MinimumTopup

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	walletService, err := wallet.NewService(store, walletConfig, clock,
		wallet.WithOperationLogger(zaplog.New(logger)),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	apiConfig := walletapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    walletapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		MachineSigningKey: cfg.MachineKey,
		SessionSigningKey: cfg.SessionKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookie,
		AdminRole:         cfg.AdminRole,
	}
	return walletapi.Run(ctx, apiConfig, walletService)
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
			path = "wallet.db"
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
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
