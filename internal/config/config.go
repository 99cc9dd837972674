package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

// EncryptedPolicy decides what happens when a dependent object's definition
// is encrypted and therefore cannot be captured for reconstruction.
type EncryptedPolicy string

const (
	EncryptedPolicyFail EncryptedPolicy = "fail" // Default, abort before any mutation
	EncryptedPolicyWarn EncryptedPolicy = "warn" // Record the error and skip reconstruction of that object
)

type Config struct {
	// Selectors
	SchemaNames          string `env:"TRUNCATE_SCHEMA_NAMES"`
	TableNames           string `env:"TRUNCATE_TABLE_NAMES"`
	TruncateAllTables    bool   `env:"TRUNCATE_ALL_TABLES" envDefault:"false"`
	ListDelimiter        string `env:"LIST_DELIMITER" envDefault:","`
	ExceptionSchemaNames string `env:"EXCEPTION_SCHEMA_NAMES"`
	ExceptionTableNames  string `env:"EXCEPTION_TABLE_NAMES"`
	WildcardChar         string `env:"WILDCARD_CHAR" envDefault:"*"`
	RowCountThreshold    int64  `env:"ROW_COUNT_THRESHOLD" envDefault:"0"`
	BatchSize            int    `env:"BATCH_SIZE" envDefault:"100"` // Tables per row-count probe

	// Execution policy
	WhatIf           bool            `env:"WHAT_IF" envDefault:"false"`
	ContinueOnError  bool            `env:"CONTINUE_ON_ERROR" envDefault:"false"` // Best-effort reconstruction
	ReenableCDC      bool            `env:"REENABLE_CDC" envDefault:"true"`
	RecreateArticles bool            `env:"RECREATE_ARTICLES" envDefault:"true"`
	EncryptedPolicy  EncryptedPolicy `env:"ENCRYPTED_POLICY" envDefault:"fail"`
	RunTimeout       time.Duration   `env:"RUN_TIMEOUT" envDefault:"0s"` // 0 disables the timeout

	// Retry Logic (connection establishment)
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`

	// Connection Pool
	ConnPoolSize    int           `env:"CONN_POOL_SIZE" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`

	// Observability & Debugging
	EnableJsonLogging   bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	EnablePprof         bool `env:"ENABLE_PPROF" envDefault:"false"`
	EnableMetricsServer bool `env:"ENABLE_METRICS_SERVER" envDefault:"false"`
	MetricsPort         int  `env:"METRICS_PORT" envDefault:"9091"`
	DebugMode           bool `env:"DEBUG_MODE" envDefault:"false"`

	// Secrets (HashiCorp Vault KV v2)
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:"http://127.0.0.1:8200"`
	VaultToken      string `env:"VAULT_TOKEN"`
	VaultCACert     string `env:"VAULT_CACERT"`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	VaultMountPath  string `env:"VAULT_MOUNT_PATH" envDefault:"secret"`
	DBSecretPath    string `env:"DB_SECRET_PATH"`
	DBUsernameKey   string `env:"DB_USERNAME_KEY" envDefault:"username"`
	DBPasswordKey   string `env:"DB_PASSWORD_KEY" envDefault:"password"`

	// Target database
	DB DatabaseConfig `envPrefix:"DB_"`
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT" envDefault:"sqlserver"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"1433"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"` // Leave empty to read credentials from Vault
	DBName   string `env:"DBNAME,required,notEmpty"`
	Encrypt  string `env:"ENCRYPT" envDefault:"disable"` // disable, false, true, strict
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that env parsing cannot. Selector semantics
// (exclusivity, exception pairing, wildcard usage) are validated by the
// truncate package so that they hold for library callers too.
func Validate(cfg *Config) error {
	// sqlite is only a test backend for the transaction layer; the
	// dependency catalog exists for SQL Server alone.
	allowedDialects := map[string]bool{
		"sqlserver": true,
	}
	if !allowedDialects[strings.ToLower(cfg.DB.Dialect)] {
		return fmt.Errorf("invalid database dialect: %s. Valid options: %v",
			cfg.DB.Dialect, getMapKeys(allowedDialects))
	}

	policy := EncryptedPolicy(strings.ToLower(string(cfg.EncryptedPolicy)))
	if policy != EncryptedPolicyFail && policy != EncryptedPolicyWarn {
		return fmt.Errorf("invalid encrypted definition policy: %s. Valid options: %s, %s",
			cfg.EncryptedPolicy, EncryptedPolicyFail, EncryptedPolicyWarn)
	}
	cfg.EncryptedPolicy = policy

	validatePort := func(port int, name string) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
		return nil
	}
	if strings.ToLower(cfg.DB.Dialect) == "sqlserver" {
		if strings.TrimSpace(cfg.DB.Host) == "" {
			return fmt.Errorf("database host cannot be empty")
		}
		if err := validatePort(cfg.DB.Port, "database"); err != nil {
			return err
		}
	}
	if err := validatePort(cfg.MetricsPort, "metrics"); err != nil {
		return err
	}

	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if cfg.RowCountThreshold < 0 {
		return fmt.Errorf("row count threshold cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive")
	}
	if cfg.RunTimeout < 0 {
		return fmt.Errorf("run timeout cannot be negative")
	}
	if len([]rune(cfg.ListDelimiter)) != 1 {
		return fmt.Errorf("list delimiter must be exactly one character, got %q", cfg.ListDelimiter)
	}
	if len([]rune(cfg.WildcardChar)) != 1 {
		return fmt.Errorf("wildcard character must be exactly one character, got %q", cfg.WildcardChar)
	}
	if cfg.ListDelimiter == cfg.WildcardChar {
		return fmt.Errorf("list delimiter and wildcard character must differ (both %q)", cfg.ListDelimiter)
	}

	validEncrypt := map[string]bool{
		"disable": true,
		"false":   true,
		"true":    true,
		"strict":  true,
	}
	if strings.ToLower(cfg.DB.Dialect) == "sqlserver" && !validEncrypt[strings.ToLower(cfg.DB.Encrypt)] {
		return fmt.Errorf("invalid encrypt mode for database: %s. Valid options: %v", cfg.DB.Encrypt, getMapKeys(validEncrypt))
	}

	if cfg.VaultEnabled && cfg.VaultAddr == "" {
		return fmt.Errorf("VAULT_ADDR is required when VAULT_ENABLED=true")
	}

	return nil
}

func getMapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Sort for consistent error messages
	return keys
}
