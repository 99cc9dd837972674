package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/dbtruncate/internal/config"
	"github.com/arwahdevops/dbtruncate/internal/logger"
)

type Connector struct {
	DB      *gorm.DB
	Dialect string
}

func New(dialect, dsn string, gl gormlogger.Interface) (*Connector, error) {
	var dialector gorm.Dialector

	lcDialect := strings.ToLower(dialect)
	switch lcDialect {
	case "sqlserver":
		dialector = sqlserver.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gl,
		// Generated DDL runs inside an explicit transaction; gorm must not
		// wrap single statements in its own.
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database (%s): %w", lcDialect, err)
	}

	return &Connector{
		DB:      db,
		Dialect: lcDialect,
	}, nil
}

// BuildDSN renders a connection string for the configured dialect.
func BuildDSN(cfg config.DatabaseConfig, username, password string) (string, error) {
	switch strings.ToLower(cfg.Dialect) {
	case "sqlserver":
		// Reference: https://github.com/microsoft/go-mssqldb#connection-parameters-and-dsn
		query := url.Values{}
		query.Add("database", cfg.DBName)
		query.Add("encrypt", strings.ToLower(cfg.Encrypt))
		query.Add("app name", "dbtruncate")
		query.Add("connection timeout", "30")
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(username, password),
			Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			RawQuery: query.Encode(),
		}
		return u.String(), nil
	case "sqlite":
		return fmt.Sprintf("file:%s?cache=shared&_foreign_keys=1&_busy_timeout=5000", cfg.DBName), nil
	default:
		return "", fmt.Errorf("cannot build DSN: unsupported database dialect %q", cfg.Dialect)
	}
}

// Optimize configures the underlying connection pool. The truncation run
// itself is single-connection; the extra slot serves readiness pings.
func (c *Connector) Optimize(poolSize int, maxLifetime time.Duration) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for optimization: %w", err)
	}

	if poolSize <= 0 {
		poolSize = 2
	}
	if maxLifetime <= 0 {
		maxLifetime = time.Hour
	}

	switch c.Dialect {
	case "sqlserver":
		sqlDB.SetMaxIdleConns(poolSize)
		sqlDB.SetMaxOpenConns(poolSize)
		sqlDB.SetConnMaxLifetime(maxLifetime)
	case "sqlite":
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	return nil
}

func (c *Connector) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for ping: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

func (c *Connector) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		logger.Log.Warn("Failed to get sql.DB for closing", zap.Error(err))
		return fmt.Errorf("failed to get sql.DB handle to close: %w", err)
	}
	logger.Log.Info("Closing database connection pool", zap.String("dialect", c.Dialect))
	return sqlDB.Close()
}
