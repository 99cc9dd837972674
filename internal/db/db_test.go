package db

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/dbtruncate/internal/config"
)

func TestBuildDSN(t *testing.T) {
	t.Run("SQL Server", func(t *testing.T) {
		dsn, err := BuildDSN(config.DatabaseConfig{
			Dialect: "sqlserver", Host: "db.local", Port: 1433, DBName: "Sales", Encrypt: "Disable",
		}, "sa", "p@ss;word")
		require.NoError(t, err)

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "sqlserver", u.Scheme)
		assert.Equal(t, "db.local:1433", u.Host)
		assert.Equal(t, "sa", u.User.Username())
		pass, _ := u.User.Password()
		assert.Equal(t, "p@ss;word", pass)
		assert.Equal(t, "Sales", u.Query().Get("database"))
		assert.Equal(t, "disable", u.Query().Get("encrypt"))
	})

	t.Run("SQLite", func(t *testing.T) {
		dsn, err := BuildDSN(config.DatabaseConfig{Dialect: "sqlite", DBName: "/tmp/x.db"}, "", "")
		require.NoError(t, err)
		assert.Contains(t, dsn, "file:/tmp/x.db?")
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := BuildDSN(config.DatabaseConfig{Dialect: "oracle"}, "", "")
		assert.Error(t, err)
	})
}

func TestNewSQLiteConnector(t *testing.T) {
	conn, err := New("SQLite", "file::memory:", gormlogger.Discard)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "sqlite", conn.Dialect)
	require.NoError(t, conn.Optimize(4, 0))
	assert.NoError(t, conn.Ping(context.Background()))
}

func TestNewUnsupportedDialect(t *testing.T) {
	_, err := New("mysql", "whatever", gormlogger.Discard)
	assert.ErrorContains(t, err, "unsupported dialect")
}
