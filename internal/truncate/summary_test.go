package truncate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func TestReportRowsOrdering(t *testing.T) {
	mk := func(schema, name string, rows int64) *TargetTable {
		tbl := newTargetTable(TableInfo{Schema: schema, Name: name})
		tbl.RowCountBefore = rows
		return tbl
	}
	r := &Report{Tables: []*TargetTable{
		mk("dbo", "small", 1),
		mk("sales", "b", 10),
		mk("Sales", "A", 10),
		mk("archive", "z", 10),
		mk("dbo", "big", 1000),
	}}

	var got []string
	for _, row := range r.Rows() {
		got = append(got, row.Schema+"."+row.Table)
	}
	assert.Equal(t, []string{"dbo.big", "archive.z", "Sales.A", "sales.b", "dbo.small"}, got)
}

func TestUnreconstructed(t *testing.T) {
	ok := &ForeignKey{ConstraintName: "ok"}
	ok.setState(StateRecreated)
	failed := &ForeignKey{ConstraintName: "failed"}
	failed.setState(StateFailed)
	failed.setErr(errors.New("duplicate key"))
	skipped := &CDCInstance{CaptureInstance: "skipped"}
	skipped.setState(StateSkipped)
	partial := &SchemaBoundView{Schema: "dbo", ViewName: "v", Triggers: []ViewTrigger{{TriggerName: "t", IsEncrypted: true}}}
	partial.setState(StateRecreated)

	r := &Report{Dependencies: map[DependencyKind][]Dependency{
		KindForeignKey:      {ok, failed},
		KindCDCInstance:     {skipped},
		KindSchemaBoundView: {partial},
	}}
	un := r.Unreconstructed()
	require.Len(t, un, 2)
	// reconstruct order: views before foreign keys
	assert.Equal(t, Dependency(partial), un[0])
	assert.Equal(t, Dependency(failed), un[1])
	assert.True(t, r.HasUnreconstructed())

	clean := &Report{Dependencies: map[DependencyKind][]Dependency{KindForeignKey: {ok}}}
	assert.False(t, clean.HasUnreconstructed())
	clean.Deferred = multierr.Append(nil, errors.New("mismatch"))
	assert.True(t, clean.HasUnreconstructed())
}

func TestRenderSummary(t *testing.T) {
	db := newSalesFixture()
	db.failOn = []string{"ADD CONSTRAINT [FK_Invoices_Customers]"}
	opts := defaultOptions()
	opts.ContinueOnError = true
	report, err := runTruncator(t, db, opts)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderSummary(&buf, report))
	out := buf.String()

	assert.Contains(t, out, "Run "+report.RunID+": committed (best-effort mode")
	assert.Contains(t, out, "FK (FOUND/DROPPED/RECREATED)")
	assert.Contains(t, out, "Customers")
	assert.Contains(t, out, "2/2/1")
	assert.Contains(t, out, "Unreconstructed dependencies (1):")
	assert.Contains(t, out, "[billing].[Invoices].[FK_Invoices_Customers]")
	assert.Contains(t, out, "Reconciliation mismatches:")
	assert.NotContains(t, out, "\nError:")

	// OrderLines has the most rows and is listed first
	lines := strings.Split(out, "\n")
	var tableLines []string
	for _, l := range lines {
		if strings.Contains(l, "| dbo ") {
			tableLines = append(tableLines, l)
		}
	}
	require.Len(t, tableLines, 3)
	assert.Contains(t, tableLines[0], "OrderLines")
	assert.Contains(t, tableLines[2], "Customers")
}

func TestRenderPlan(t *testing.T) {
	db := newSalesFixture()
	opts := defaultOptions()
	opts.WhatIf = true
	tr := NewTruncator(&fakeCatalog{db: db}, &fakeEngine{db: db}, opts, zap.NewNop(), nil)
	report, err := tr.Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderPlan(&buf, report))
	out := buf.String()

	assert.Equal(t, len(report.Plan), strings.Count(out, "\nGO\n"))
	assert.Contains(t, out, "-- truncating table [dbo].[Customers]\nTRUNCATE TABLE [dbo].[Customers];\nGO\n")
	assert.Contains(t, out, "-- tearing_down foreign_key [dbo].[Orders].[FK_Orders_Customers]\n")
	assert.Less(t, strings.Index(out, "sp_droparticle"), strings.Index(out, "TRUNCATE TABLE"))
	assert.Less(t, strings.Index(out, "TRUNCATE TABLE"), strings.Index(out, "sp_addarticle"))
}
