//go:build integration

package truncate

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/dbtruncate/internal/config"
	"github.com/arwahdevops/dbtruncate/internal/db"
	"github.com/arwahdevops/dbtruncate/internal/metrics"
)

const (
	mssqlImage    = "mcr.microsoft.com/mssql/server:2022-latest"
	mssqlPassword = "Truncate!Test2024"
	testDatabase  = "TruncateIT"
)

type mssqlInstance struct {
	Container testcontainers.Container
	Conn      *db.Connector
	Host      string
	Port      nat.Port
}

func mustPortInt(t *testing.T, port nat.Port) int {
	t.Helper()
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Failed to convert port %s to int: %v", port.Port(), err)
	}
	return p
}

func startMSSQLContainer(ctx context.Context, t *testing.T) *mssqlInstance {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        mssqlImage,
		ExposedPorts: []string{"1433/tcp"},
		Env: map[string]string{
			"ACCEPT_EULA":       "Y",
			"MSSQL_SA_PASSWORD": mssqlPassword,
			"MSSQL_PID":         "Developer",
		},
		WaitingFor: wait.ForLog("SQL Server is now ready for client connections").
			WithStartupTimeout(180 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start mssql container: %s", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mssql container host: %s", err)
	}
	mappedPort, err := container.MappedPort(ctx, "1433/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port for mssql: %s", err)
	}

	master := connectMSSQL(ctx, t, host, mappedPort, "master")
	if err := master.DB.Exec("CREATE DATABASE " + testDatabase + ";").Error; err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to create test database: %s", err)
	}
	_ = master.Close()

	t.Logf("SQL Server container started. Host: %s, Port: %s", host, mappedPort.Port())
	return &mssqlInstance{
		Container: container,
		Conn:      connectMSSQL(ctx, t, host, mappedPort, testDatabase),
		Host:      host,
		Port:      mappedPort,
	}
}

func connectMSSQL(ctx context.Context, t *testing.T, host string, port nat.Port, database string) *db.Connector {
	t.Helper()
	dsn, err := db.BuildDSN(config.DatabaseConfig{
		Dialect: "sqlserver",
		Host:    host,
		Port:    mustPortInt(t, port),
		DBName:  database,
		Encrypt: "disable",
	}, "sa", mssqlPassword)
	require.NoError(t, err)

	var conn *db.Connector
	var connErr error
	for i := 0; i < 15; i++ {
		conn, connErr = db.New("sqlserver", dsn, gormlogger.Discard)
		if connErr == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			connErr = conn.Ping(pingCtx)
			cancel()
			if connErr == nil {
				return conn
			}
			_ = conn.Close()
		}
		t.Logf("SQL Server connection attempt %d failed: %v. Retrying in 2s...", i+1, connErr)
		time.Sleep(2 * time.Second)
	}
	t.Fatalf("Failed to connect to test mssql instance after retries: %s", connErr)
	return nil
}

func execAll(t *testing.T, conn *db.Connector, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		require.NoError(t, conn.DB.Exec(s).Error, s)
	}
}

func TestMSSQLTruncateRoundTrip(t *testing.T) {
	ctx := context.Background()
	inst := startMSSQLContainer(ctx, t)
	defer func() {
		_ = inst.Conn.Close()
		if err := inst.Container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate mssql container: %s", err)
		}
	}()

	execAll(t, inst.Conn,
		"CREATE TABLE dbo.Customers (ID INT NOT NULL PRIMARY KEY, Name NVARCHAR(50) NOT NULL);",
		"CREATE TABLE dbo.Orders (ID INT NOT NULL PRIMARY KEY, CustomerID INT NOT NULL CONSTRAINT FK_Orders_Customers REFERENCES dbo.Customers(ID) ON DELETE CASCADE);",
		"CREATE TABLE dbo.Keep (ID INT NOT NULL PRIMARY KEY);",
		"CREATE VIEW dbo.vOrderCount WITH SCHEMABINDING AS SELECT CustomerID, COUNT_BIG(*) AS Cnt FROM dbo.Orders GROUP BY CustomerID;",
		"CREATE UNIQUE CLUSTERED INDEX CIX_vOrderCount ON dbo.vOrderCount (CustomerID);",
		"EXEC sys.sp_addextendedproperty @name = N'MS_Description', @value = N'orders per customer', @level0type = N'SCHEMA', @level0name = N'dbo', @level1type = N'VIEW', @level1name = N'vOrderCount';",
		"INSERT INTO dbo.Customers VALUES (1, N'a'), (2, N'b');",
		"INSERT INTO dbo.Orders VALUES (10, 1), (11, 1), (12, 2);",
		"INSERT INTO dbo.Keep VALUES (1);",
	)

	log := zaptest.NewLogger(t)
	opts := Options{
		Selector: Selector{
			SchemaNames:          "dbo,dbo,dbo",
			TableNames:           "Customers,Orders,Keep",
			ExceptionSchemaNames: "dbo",
			ExceptionTableNames:  "Keep",
			BatchSize:            100,
		},
		ReenableCDC:      true,
		RecreateArticles: true,
	}
	tr := NewTruncator(NewMSSQLCatalog(inst.Conn.DB, log), NewGormEngine(inst.Conn.DB, inst.Conn.Dialect, log), opts, log, metrics.NewMetricsStore())

	report, err := tr.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunCommitted, report.State)
	assert.False(t, report.HasUnreconstructed())
	assert.Equal(t, 1, report.Ledger.Tally(KindForeignKey).Recreated)
	assert.Equal(t, 1, report.Ledger.Tally(KindSchemaBoundView).Recreated)

	var counts struct {
		Customers int64 `gorm:"column:customers"`
		Orders    int64 `gorm:"column:orders"`
		Keep      int64 `gorm:"column:keep"`
	}
	require.NoError(t, inst.Conn.DB.Raw("SELECT (SELECT COUNT(*) FROM dbo.Customers) AS customers, (SELECT COUNT(*) FROM dbo.Orders) AS orders, (SELECT COUNT(*) FROM dbo.Keep) AS keep;").Scan(&counts).Error)
	assert.Equal(t, int64(0), counts.Customers)
	assert.Equal(t, int64(0), counts.Orders)
	assert.Equal(t, int64(1), counts.Keep)

	var restored struct {
		FKs     int64 `gorm:"column:fks"`
		Indexes int64 `gorm:"column:indexes"`
		Props   int64 `gorm:"column:props"`
	}
	require.NoError(t, inst.Conn.DB.Raw(`SELECT
		(SELECT COUNT(*) FROM sys.foreign_keys WHERE name = 'FK_Orders_Customers' AND delete_referential_action_desc = 'CASCADE' AND is_not_trusted = 0) AS fks,
		(SELECT COUNT(*) FROM sys.indexes WHERE object_id = OBJECT_ID(N'dbo.vOrderCount') AND name = 'CIX_vOrderCount') AS indexes,
		(SELECT COUNT(*) FROM sys.extended_properties WHERE major_id = OBJECT_ID(N'dbo.vOrderCount') AND name = 'MS_Description') AS props;`).Scan(&restored).Error)
	assert.Equal(t, int64(1), restored.FKs)
	assert.Equal(t, int64(1), restored.Indexes)
	assert.Equal(t, int64(1), restored.Props)

	// what-if leaves the data alone
	execAll(t, inst.Conn, "INSERT INTO dbo.Customers VALUES (3, N'c');", "INSERT INTO dbo.Orders VALUES (13, 3);")
	opts.Selector = Selector{SchemaNames: "dbo", TableNames: "Customers", BatchSize: 100}
	opts.WhatIf = true
	tr = NewTruncator(NewMSSQLCatalog(inst.Conn.DB, log), NewGormEngine(inst.Conn.DB, inst.Conn.Dialect, log), opts, log, nil)
	report, err = tr.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunPlanned, report.State)
	assert.NotEmpty(t, report.Plan)

	var remaining int64
	require.NoError(t, inst.Conn.DB.Raw("SELECT COUNT(*) FROM dbo.Customers;").Scan(&remaining).Error)
	assert.Equal(t, int64(1), remaining, fmt.Sprintf("what-if run must not change data, plan had %d statements", len(report.Plan)))
}
