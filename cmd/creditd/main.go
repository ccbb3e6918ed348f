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
	"github.com/hutom-io/creditledger/internal/bootstrap"
	"github.com/hutom-io/creditledger/internal/httpapi"
	"github.com/hutom-io/creditledger/internal/oplog"
	"github.com/hutom-io/creditledger/internal/store/gormstore"
	"github.com/hutom-io/creditledger/internal/store/pgstore"
	"github.com/hutom-io/creditledger/internal/sweep"
	"github.com/hutom-io/creditledger/pkg/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
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
	flagStoreEngine       = "store-engine"
	flagSweepInterval     = "sweep-interval"
	flagCreditCeiling     = "credit-ceiling"
	flagShortageThreshold = "shortage-threshold"
	flagSeedTotal         = "seed-total"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeyStoreEngine       = "store_engine"
	configKeySweepInterval     = "sweep_interval"
	configKeyCreditCeiling     = "credit_ceiling"
	configKeyShortageThreshold = "shortage_threshold"
	configKeySeedTotal         = "seed_total"

	defaultDatabaseURL = "sqlite:///tmp/creditledger.db"
	defaultListenAddr  = ":8080"

	storeEngineGorm = "gorm"
	storeEnginePgx  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	AllowedOrigins    []string
	StoreEngine       string
	SweepInterval     time.Duration
	CreditCeiling     int64
	ShortageThreshold int64
	SeedTotal         int64
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Credit ledger HTTP server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().StringSlice(flagAllowedOrigins, []string{"*"}, "CORS allowed origins")
	cmd.Flags().String(flagStoreEngine, storeEngineGorm, "persistence engine: gorm or pgx")
	cmd.Flags().Duration(flagSweepInterval, time.Minute, "shortage sweep interval, 0 disables")
	cmd.Flags().Int64(flagCreditCeiling, ledger.DefaultCreditCeiling, "maximum confirmed credit total")
	cmd.Flags().Int64(flagShortageThreshold, ledger.DefaultShortageThreshold, "shortage alert threshold")
	cmd.Flags().Int64(flagSeedTotal, -1, "observed legacy total to reconcile against, -1 disables")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:       "DATABASE_URL",
		configKeyListenAddr:        "LISTEN_ADDR",
		configKeyAllowedOrigins:    "ALLOWED_ORIGINS",
		configKeyStoreEngine:       "STORE_ENGINE",
		configKeySweepInterval:     "SWEEP_INTERVAL",
		configKeyCreditCeiling:     "CREDIT_CEILING",
		configKeyShortageThreshold: "SHORTAGE_THRESHOLD",
		configKeySeedTotal:         "SEED_TOTAL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:       flagDatabaseURL,
		configKeyListenAddr:        flagListenAddr,
		configKeyAllowedOrigins:    flagAllowedOrigins,
		configKeyStoreEngine:       flagStoreEngine,
		configKeySweepInterval:     flagSweepInterval,
		configKeyCreditCeiling:     flagCreditCeiling,
		configKeyShortageThreshold: flagShortageThreshold,
		configKeySeedTotal:         flagSeedTotal,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.StoreEngine = viper.GetString(configKeyStoreEngine)
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	cfg.CreditCeiling = viper.GetInt64(configKeyCreditCeiling)
	cfg.ShortageThreshold = viper.GetInt64(configKeyShortageThreshold)
	cfg.SeedTotal = viper.GetInt64(configKeySeedTotal)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen addr is required")
	}
	if cfg.StoreEngine != storeEngineGorm && cfg.StoreEngine != storeEnginePgx {
		return fmt.Errorf("unsupported store engine %q", cfg.StoreEngine)
	}
	if cfg.StoreEngine == storeEnginePgx && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store engine pgx requires a postgres database url")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	service, err := ledger.NewService(store,
		ledger.WithCreditCeiling(cfg.CreditCeiling),
		ledger.WithShortageThreshold(cfg.ShortageThreshold),
		ledger.WithOperationLogger(oplog.New(logger)),
	)
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}

	if cfg.SweepInterval > 0 {
		sweeper := sweep.New(store, cfg.ShortageThreshold, cfg.SweepInterval, logger)
		go sweeper.Run(ctx)
	}

	return httpapi.Run(ctx, httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, service, logger)
}

func openStore(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (ledger.Store, func() error, error) {
	if cfg.StoreEngine == storeEnginePgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	}

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := gormstore.Migrate(gormDB); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	if err := bootstrap.Reconcile(ctx, gormDB, cfg.SeedTotal, logger); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return gormstore.New(gormDB), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func resolveDriver(dsn string) (string, string, error) {
	if isPostgresURL(dsn) {
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
			path = "creditledger.db"
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
