package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DBNAME", "Sales")
	t.Setenv("ENCRYPTED_POLICY", "WARN")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", cfg.DB.Dialect)
	assert.Equal(t, 1433, cfg.DB.Port)
	assert.Equal(t, ",", cfg.ListDelimiter)
	assert.Equal(t, "*", cfg.WildcardChar)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.True(t, cfg.ReenableCDC)
	assert.True(t, cfg.RecreateArticles)
	assert.False(t, cfg.WhatIf)
	assert.Equal(t, EncryptedPolicyWarn, cfg.EncryptedPolicy)
}

func TestLoadRequiresDBName(t *testing.T) {
	t.Setenv("DB_DBNAME", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ListDelimiter:   ",",
			WildcardChar:    "*",
			BatchSize:       100,
			EncryptedPolicy: EncryptedPolicyFail,
			ConnPoolSize:    2,
			MetricsPort:     9091,
			DB: DatabaseConfig{
				Dialect: "sqlserver",
				Host:    "localhost",
				Port:    1433,
				DBName:  "Sales",
				Encrypt: "disable",
			},
		}
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"dialect", func(c *Config) { c.DB.Dialect = "oracle" }, "invalid database dialect"},
		{"sqlite target", func(c *Config) { c.DB.Dialect = "sqlite" }, "invalid database dialect"},
		{"policy", func(c *Config) { c.EncryptedPolicy = "ignore" }, "invalid encrypted definition policy"},
		{"db host", func(c *Config) { c.DB.Host = " " }, "database host cannot be empty"},
		{"db port", func(c *Config) { c.DB.Port = 0 }, "invalid database port"},
		{"batch size", func(c *Config) { c.BatchSize = 0 }, "batch size must be positive"},
		{"threshold", func(c *Config) { c.RowCountThreshold = -1 }, "row count threshold"},
		{"delimiter length", func(c *Config) { c.ListDelimiter = ";;" }, "list delimiter"},
		{"same chars", func(c *Config) { c.WildcardChar = "," }, "must differ"},
		{"encrypt", func(c *Config) { c.DB.Encrypt = "maybe" }, "invalid encrypt mode"},
		{"vault addr", func(c *Config) { c.VaultEnabled = true; c.VaultAddr = "" }, "VAULT_ADDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, Validate(cfg), tt.errMsg)
		})
	}

	t.Run("dialect is case-insensitive", func(t *testing.T) {
		cfg := valid()
		cfg.DB.Dialect = "SQLServer"
		assert.NoError(t, Validate(cfg))
	})
}
