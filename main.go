// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtruncate/internal/config"
	"github.com/arwahdevops/dbtruncate/internal/db"
	"github.com/arwahdevops/dbtruncate/internal/logger"
	"github.com/arwahdevops/dbtruncate/internal/metrics"
	"github.com/arwahdevops/dbtruncate/internal/secrets"
	"github.com/arwahdevops/dbtruncate/internal/server"
	"github.com/arwahdevops/dbtruncate/internal/truncate"
)

// Exit codes.
const (
	exitOK              = 0
	exitFailed          = 1
	exitUnreconstructed = 2 // committed, but some dependencies are still missing; never used in what-if mode
)

var (
	schemaNamesOverride     string
	tableNamesOverride      string
	allTablesOverride       bool
	thresholdOverride       int64
	batchSizeOverride       int
	whatIfOverride          bool
	continueOnErrorOverride bool
	encryptedPolicyOverride string
	runTimeoutOverride      time.Duration
	delimiterOverride       string
	exceptSchemasOverride   string
	exceptTablesOverride    string
	wildcardOverride        string
	reenableCDCOverride     bool
	recreateArticleOverride bool
	serveAfterRun           bool
)

func main() {
	flag.StringVar(&schemaNamesOverride, "schemas", "", "Override TRUNCATE_SCHEMA_NAMES (delimited list, paired with -tables)")
	flag.StringVar(&tableNamesOverride, "tables", "", "Override TRUNCATE_TABLE_NAMES (delimited list, paired with -schemas)")
	flag.BoolVar(&allTablesOverride, "all-tables", false, "Override TRUNCATE_ALL_TABLES")
	flag.Int64Var(&thresholdOverride, "row-threshold", -1, "Override ROW_COUNT_THRESHOLD (tables with more rows are truncated)")
	flag.IntVar(&batchSizeOverride, "batch-size", 0, "Override BATCH_SIZE (must be > 0)")
	flag.BoolVar(&whatIfOverride, "what-if", false, "Override WHAT_IF (print the plan, change nothing; exits 0 unless the plan itself fails)")
	flag.BoolVar(&continueOnErrorOverride, "continue-on-error", false, "Override CONTINUE_ON_ERROR (best-effort reconstruction)")
	flag.StringVar(&encryptedPolicyOverride, "encrypted-policy", "", "Override ENCRYPTED_POLICY (fail, warn)")
	flag.StringVar(&delimiterOverride, "delimiter", "", "Override LIST_DELIMITER")
	flag.StringVar(&exceptSchemasOverride, "except-schemas", "", "Override EXCEPTION_SCHEMA_NAMES (paired with -except-tables)")
	flag.StringVar(&exceptTablesOverride, "except-tables", "", "Override EXCEPTION_TABLE_NAMES (paired with -except-schemas)")
	flag.StringVar(&wildcardOverride, "wildcard", "", "Override WILDCARD_CHAR")
	flag.BoolVar(&reenableCDCOverride, "reenable-cdc", true, "Override REENABLE_CDC")
	flag.BoolVar(&recreateArticleOverride, "recreate-articles", true, "Override RECREATE_ARTICLES")
	flag.DurationVar(&runTimeoutOverride, "timeout", 0, "Override RUN_TIMEOUT")
	flag.BoolVar(&serveAfterRun, "serve", false, "Keep serving /metrics after the run until SIGINT/SIGTERM")
	flag.Parse()

	os.Exit(run())
}

func run() int {
	// 1. Load environment variables (.env overrides)
	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	// 2. Logger settings first so config errors are logged properly
	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Printf("Failed to parse pre-configuration for logger: %v", err)
		return exitFailed
	}
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Printf("Failed to initialize logger: %v", err)
		return exitFailed
	}
	defer func() { _ = logger.Log.Sync() }()

	// 3. Full configuration, then CLI overrides
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Error("Configuration loading error from environment", zap.Error(err))
		return exitFailed
	}
	applyCliOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		logger.Log.Error("Configuration invalid after CLI overrides", zap.Error(err))
		return exitFailed
	}
	logLoadedConfig(cfg)

	// 4. Signals and run timeout
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsStore := metrics.NewMetricsStore()

	// 5. Credentials
	vaultMgr, vaultErr := secrets.NewVaultManager(cfg, logger.Log)
	if vaultErr != nil {
		if cfg.VaultEnabled {
			logger.Log.Error("Failed to initialize Vault secret manager", zap.Error(vaultErr))
			metricsStore.ErrorsTotal.WithLabelValues("credentials").Inc()
			return exitFailed
		}
		logger.Log.Warn("Could not initialize Vault secret manager (Vault not enabled or config error)", zap.Error(vaultErr))
	}
	var secretManagers []secrets.SecretManager
	if vaultMgr != nil && vaultMgr.IsEnabled() {
		secretManagers = append(secretManagers, vaultMgr)
	}

	creds, err := loadCredentials(ctx, cfg, secretManagers)
	if err != nil {
		logger.Log.Error("Failed to load DB credentials", zap.Error(err))
		metricsStore.ErrorsTotal.WithLabelValues("credentials").Inc()
		return exitFailed
	}

	// 6. Connection
	conn, err := connectDBWithRetry(ctx, cfg, creds.Username, creds.Password, metricsStore)
	if err != nil {
		logger.Log.Error("Failed to establish DB connection", zap.Error(err))
		return exitFailed
	}
	defer func() {
		logger.Log.Info("Closing database connection...")
		if err := conn.Close(); err != nil {
			logger.Log.Error("Error closing DB", zap.Error(err))
		}
	}()
	if err := conn.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		logger.Log.Warn("Failed to optimize DB pool", zap.Error(err))
	}

	// 7. Optional metrics server
	if cfg.EnableMetricsServer {
		go server.RunHTTPServer(ctx, cfg.MetricsPort, server.NewHandler(metricsStore, conn, cfg.EnablePprof, logger.Log), logger.Log)
	}

	// 8. Run
	runCtx := ctx
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	log := logger.Log
	truncator := truncate.NewTruncator(
		truncate.NewMSSQLCatalog(conn.DB, log),
		truncate.NewGormEngine(conn.DB, conn.Dialect, log),
		truncate.OptionsFromConfig(cfg),
		log,
		metricsStore,
	)
	report, runErr := truncator.Run(runCtx)

	// 9. Output
	if report != nil {
		if report.WhatIf {
			if err := truncate.RenderPlan(os.Stdout, report); err != nil {
				log.Warn("Failed to write plan", zap.Error(err))
			}
		}
		if err := truncate.RenderSummary(os.Stdout, report); err != nil {
			log.Warn("Failed to write summary", zap.Error(err))
		}
	}
	exitCode := exitCodeFor(report, runErr)

	if serveAfterRun && cfg.EnableMetricsServer && ctx.Err() == nil {
		log.Info("Run finished. Serving metrics until shutdown signal (Ctrl+C or SIGTERM)...")
		<-ctx.Done()
	}
	log.Info("Shutdown complete. Exiting.", zap.Int("exit_code", exitCode))
	return exitCode
}

func exitCodeFor(report *truncate.Report, runErr error) int {
	switch {
	case runErr != nil:
		if !truncate.IsFatalKind(runErr) {
			logger.Log.Error("Run aborted by an unexpected error", zap.Error(runErr))
		}
		return exitFailed
	case report == nil:
		return exitFailed
	case report.WhatIf:
		// the plan and its simulated failures are in the summary; nothing changed
		if report.HasUnreconstructed() {
			logger.Log.Warn("Plan contains dependencies that could not be reconstructed",
				zap.Int("unreconstructed", len(report.Unreconstructed())))
		}
		return exitOK
	case report.HasUnreconstructed():
		logger.Log.Warn("Truncation committed, but some dependencies were not reconstructed",
			zap.Int("unreconstructed", len(report.Unreconstructed())))
		return exitUnreconstructed
	}
	return exitOK
}

// applyCliOverrides applies only the flags that were actually passed.
func applyCliOverrides(cfg *config.Config) {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if schemaNamesOverride != "" {
		logger.Log.Info("Overriding TRUNCATE_SCHEMA_NAMES with CLI flag", zap.String("env_value", cfg.SchemaNames), zap.String("cli_value", schemaNamesOverride))
		cfg.SchemaNames = schemaNamesOverride
	}
	if tableNamesOverride != "" {
		logger.Log.Info("Overriding TRUNCATE_TABLE_NAMES with CLI flag", zap.String("env_value", cfg.TableNames), zap.String("cli_value", tableNamesOverride))
		cfg.TableNames = tableNamesOverride
	}
	if set["all-tables"] {
		logger.Log.Info("Overriding TRUNCATE_ALL_TABLES with CLI flag", zap.Bool("env_value", cfg.TruncateAllTables), zap.Bool("cli_value", allTablesOverride))
		cfg.TruncateAllTables = allTablesOverride
	}
	if delimiterOverride != "" {
		logger.Log.Info("Overriding LIST_DELIMITER with CLI flag", zap.String("env_value", cfg.ListDelimiter), zap.String("cli_value", delimiterOverride))
		cfg.ListDelimiter = delimiterOverride
	}
	if exceptSchemasOverride != "" {
		logger.Log.Info("Overriding EXCEPTION_SCHEMA_NAMES with CLI flag", zap.String("env_value", cfg.ExceptionSchemaNames), zap.String("cli_value", exceptSchemasOverride))
		cfg.ExceptionSchemaNames = exceptSchemasOverride
	}
	if exceptTablesOverride != "" {
		logger.Log.Info("Overriding EXCEPTION_TABLE_NAMES with CLI flag", zap.String("env_value", cfg.ExceptionTableNames), zap.String("cli_value", exceptTablesOverride))
		cfg.ExceptionTableNames = exceptTablesOverride
	}
	if wildcardOverride != "" {
		logger.Log.Info("Overriding WILDCARD_CHAR with CLI flag", zap.String("env_value", cfg.WildcardChar), zap.String("cli_value", wildcardOverride))
		cfg.WildcardChar = wildcardOverride
	}
	if set["reenable-cdc"] {
		logger.Log.Info("Overriding REENABLE_CDC with CLI flag", zap.Bool("env_value", cfg.ReenableCDC), zap.Bool("cli_value", reenableCDCOverride))
		cfg.ReenableCDC = reenableCDCOverride
	}
	if set["recreate-articles"] {
		logger.Log.Info("Overriding RECREATE_ARTICLES with CLI flag", zap.Bool("env_value", cfg.RecreateArticles), zap.Bool("cli_value", recreateArticleOverride))
		cfg.RecreateArticles = recreateArticleOverride
	}
	if thresholdOverride >= 0 {
		logger.Log.Info("Overriding ROW_COUNT_THRESHOLD with CLI flag", zap.Int64("env_value", cfg.RowCountThreshold), zap.Int64("cli_value", thresholdOverride))
		cfg.RowCountThreshold = thresholdOverride
	}
	if batchSizeOverride > 0 {
		logger.Log.Info("Overriding BATCH_SIZE with CLI flag", zap.Int("env_value", cfg.BatchSize), zap.Int("cli_value", batchSizeOverride))
		cfg.BatchSize = batchSizeOverride
	}
	if set["what-if"] {
		logger.Log.Info("Overriding WHAT_IF with CLI flag", zap.Bool("env_value", cfg.WhatIf), zap.Bool("cli_value", whatIfOverride))
		cfg.WhatIf = whatIfOverride
	}
	if set["continue-on-error"] {
		logger.Log.Info("Overriding CONTINUE_ON_ERROR with CLI flag", zap.Bool("env_value", cfg.ContinueOnError), zap.Bool("cli_value", continueOnErrorOverride))
		cfg.ContinueOnError = continueOnErrorOverride
	}
	if encryptedPolicyOverride != "" {
		policy := config.EncryptedPolicy(strings.ToLower(encryptedPolicyOverride))
		switch policy {
		case config.EncryptedPolicyFail, config.EncryptedPolicyWarn:
			logger.Log.Info("Overriding ENCRYPTED_POLICY with CLI flag", zap.String("env_value", string(cfg.EncryptedPolicy)), zap.String("cli_value", string(policy)))
			cfg.EncryptedPolicy = policy
		default:
			logger.Log.Warn("Invalid value provided for -encrypted-policy flag, ignoring override.",
				zap.String("invalid_value", encryptedPolicyOverride),
				zap.String("allowed_values", fmt.Sprintf("%s, %s", config.EncryptedPolicyFail, config.EncryptedPolicyWarn)))
		}
	}
	if runTimeoutOverride > 0 {
		logger.Log.Info("Overriding RUN_TIMEOUT with CLI flag", zap.Duration("env_value", cfg.RunTimeout), zap.Duration("cli_value", runTimeoutOverride))
		cfg.RunTimeout = runTimeoutOverride
	}
}

func logLoadedConfig(cfg *config.Config) {
	passSource := "not set"
	if cfg.DB.Password != "" {
		passSource = "env var"
	} else if cfg.VaultEnabled && cfg.DBSecretPath != "" {
		passSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.String("schema_names", cfg.SchemaNames), zap.String("table_names", cfg.TableNames), zap.Bool("all_tables", cfg.TruncateAllTables),
		zap.String("exception_schema_names", cfg.ExceptionSchemaNames), zap.String("exception_table_names", cfg.ExceptionTableNames),
		zap.String("list_delimiter", cfg.ListDelimiter), zap.String("wildcard", cfg.WildcardChar),
		zap.Int64("row_count_threshold", cfg.RowCountThreshold), zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("what_if", cfg.WhatIf), zap.Bool("continue_on_error", cfg.ContinueOnError),
		zap.Bool("reenable_cdc", cfg.ReenableCDC), zap.Bool("recreate_articles", cfg.RecreateArticles),
		zap.String("encrypted_policy", string(cfg.EncryptedPolicy)), zap.Duration("run_timeout", cfg.RunTimeout),
		zap.String("dialect", cfg.DB.Dialect), zap.String("host", cfg.DB.Host), zap.Int("port", cfg.DB.Port), zap.String("user", cfg.DB.User),
		zap.String("password_source", passSource), zap.String("dbname", cfg.DB.DBName), zap.String("encrypt", cfg.DB.Encrypt),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Int("conn_pool_size", cfg.ConnPoolSize), zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("enable_pprof", cfg.EnablePprof),
		zap.Bool("metrics_server", cfg.EnableMetricsServer), zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("debug_mode", cfg.DebugMode),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr), zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("db_secret_path", cfg.DBSecretPath), zap.String("db_username_key", cfg.DBUsernameKey), zap.String("db_password_key", cfg.DBPasswordKey),
	)
}

// loadCredentials reads credentials from DB_USER/DB_PASSWORD or, when the
// password is not set, from the enabled secret managers.
func loadCredentials(ctx context.Context, cfg *config.Config, secretManagers []secrets.SecretManager) (*secrets.Credentials, error) {
	log := logger.Log.With(zap.String("db", cfg.DB.DBName))
	dbCfg := cfg.DB

	if dbCfg.Password != "" {
		log.Info("Using password directly from environment variable for DB.")
		if dbCfg.User == "" {
			return nil, fmt.Errorf("password provided via DB_PASSWORD, but DB_USER is missing")
		}
		return &secrets.Credentials{Username: dbCfg.User, Password: dbCfg.Password}, nil
	}
	log.Info("Password not found in environment. Checking secret managers...")

	if cfg.DBSecretPath == "" {
		return nil, fmt.Errorf("could not load credentials: set DB_PASSWORD, or VAULT_ENABLED=true with DB_SECRET_PATH")
	}
	if len(secretManagers) == 0 {
		log.Warn("Secret path is configured, but no secret managers are active/enabled.")
	}
	for _, sm := range secretManagers {
		log.Info("Attempting to retrieve credentials from configured secret manager",
			zap.String("manager_type", fmt.Sprintf("%T", sm)),
			zap.String("path_or_id", cfg.DBSecretPath))
		getCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		creds, err := sm.GetCredentials(getCtx, cfg.DBSecretPath, cfg.DBUsernameKey, cfg.DBPasswordKey)
		cancel()
		if err != nil || creds == nil {
			log.Warn("Failed to retrieve credentials from secret manager. Trying next if available.",
				zap.String("manager_type", fmt.Sprintf("%T", sm)), zap.Error(err))
			continue
		}
		if creds.Password == "" {
			return nil, fmt.Errorf("retrieved credentials from %T, but password field is empty", sm)
		}
		if creds.Username == "" {
			log.Warn("Username field empty in retrieved secret. Falling back to DB_USER.", zap.String("db_config_user", dbCfg.User))
			creds.Username = dbCfg.User
			if creds.Username == "" {
				return nil, fmt.Errorf("password retrieved, but username is missing in both secret and DB_USER")
			}
		}
		return creds, nil
	}
	return nil, fmt.Errorf("no enabled secret manager returned credentials for %s", cfg.DBSecretPath)
}

// connectDBWithRetry opens and pings the target database, retrying up to
// MAX_RETRIES times.
func connectDBWithRetry(ctx context.Context, cfg *config.Config, username, password string, metricsStore *metrics.Store) (*db.Connector, error) {
	dbCfg := cfg.DB
	dsn, err := db.BuildDSN(dbCfg, username, password)
	if err != nil {
		metricsStore.ErrorsTotal.WithLabelValues("connection").Inc()
		return nil, err
	}

	gl := logger.GetGormLogger()
	var lastErr error
	for i := 0; i <= cfg.MaxRetries; i++ {
		attemptStart := time.Now()
		if i > 0 {
			logger.Log.Warn("Retrying database connection",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Duration("wait_interval", cfg.RetryInterval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(cfg.RetryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				metricsStore.ErrorsTotal.WithLabelValues("connection_cancelled").Inc()
				return nil, fmt.Errorf("context cancelled while waiting to retry connection (attempt %d): %w; last error: %v", i+1, ctx.Err(), lastErr)
			}
		}

		logger.Log.Info("Attempting to connect",
			zap.String("dialect", dbCfg.Dialect),
			zap.String("host", dbCfg.Host),
			zap.Int("port", dbCfg.Port),
			zap.String("dbname", dbCfg.DBName),
			zap.String("user", username),
			zap.Int("attempt", i+1))

		conn, err := db.New(dbCfg.Dialect, dsn, gl)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed: %w", i+1, cfg.MaxRetries+1, err)
			continue
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := conn.Ping(pingCtx)
		pingCancel()
		if pingErr != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed: %w", i+1, cfg.MaxRetries+1, pingErr)
			_ = conn.Close()
			continue
		}

		logger.Log.Info("Database connection successful", zap.Duration("connect_duration", time.Since(attemptStart)))
		return conn, nil
	}

	metricsStore.ErrorsTotal.WithLabelValues("connection_failed").Inc()
	return nil, fmt.Errorf("failed to connect to %s at %s:%d after %d attempts: %w", dbCfg.Dialect, dbCfg.Host, dbCfg.Port, cfg.MaxRetries+1, lastErr)
}
