package truncate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func salesTargets(db *fakeDB, ids ...int64) []*TargetTable {
	var out []*TargetTable
	for _, id := range ids {
		info, ok := db.tableByID(id)
		if !ok {
			continue
		}
		t := newTargetTable(info)
		t.IsToBeTruncated = true
		out = append(out, t)
	}
	return out
}

func TestScanForeignKeys(t *testing.T) {
	db := newSalesFixture()
	targets := salesTargets(db, idCustomers, idOrders)
	s := NewScanner(zaptest.NewLogger(t))

	deps, err := s.Scan(context.Background(), &fakeCatalog{db: db}, KindForeignKey, targets)
	require.NoError(t, err)
	require.Len(t, deps, 3)

	assert.Equal(t, 2, targets[0].Counter(KindForeignKey).References)
	assert.Equal(t, 1, targets[1].Counter(KindForeignKey).References)
	for _, d := range deps {
		assert.Equal(t, StateFound, d.State())
		assert.Len(t, d.BlockedTables(), 1)
	}
}

func TestScanForeignKeyWithoutColumns(t *testing.T) {
	db := newSalesFixture()
	db.fks[0].Columns = nil
	s := NewScanner(zaptest.NewLogger(t))

	_, err := s.Scan(context.Background(), &fakeCatalog{db: db}, KindForeignKey, salesTargets(db, idCustomers))
	assert.ErrorContains(t, err, "FK_Orders_Customers")
}

func TestScanNestedViews(t *testing.T) {
	db := newSalesFixture()
	// vCombined reads vTopCustomers (depth 2) and Orders directly.
	db.refs = append(db.refs,
		ViewReference{ViewID: 702, ReferencedID: idTopCustomers},
		ViewReference{ViewID: 702, ReferencedID: idOrders},
	)
	db.views = append(db.views, &SchemaBoundView{ObjectID: 702, Schema: "dbo", ViewName: "vCombined", Definition: "CREATE VIEW dbo.vCombined WITH SCHEMABINDING AS SELECT 1 AS X"})

	targets := salesTargets(db, idCustomers, idOrders)
	s := NewScanner(zaptest.NewLogger(t))
	deps, err := s.Scan(context.Background(), &fakeCatalog{db: db}, KindSchemaBoundView, targets)
	require.NoError(t, err)
	require.Len(t, deps, 3)

	// teardown order: deepest first
	names := make([]string, len(deps))
	depths := make(map[string]int, len(deps))
	blocked := make(map[string][]int64, len(deps))
	for i, d := range deps {
		v := d.(*SchemaBoundView)
		names[i] = v.ViewName
		depths[v.ViewName] = v.Depth
		blocked[v.ViewName] = v.BlockedTables()
	}
	assert.Equal(t, []string{"vCombined", "vTopCustomers", "vCustomerTotals"}, names)
	assert.Equal(t, map[string]int{"vCustomerTotals": 1, "vTopCustomers": 2, "vCombined": 3}, depths)
	assert.ElementsMatch(t, []int64{idCustomers}, blocked["vTopCustomers"])
	assert.ElementsMatch(t, []int64{idCustomers, idOrders}, blocked["vCombined"])

	assert.Equal(t, 3, targets[0].Counter(KindSchemaBoundView).References)
	assert.Equal(t, 1, targets[1].Counter(KindSchemaBoundView).References)

	reconstruct := append([]Dependency(nil), deps...)
	sortViewsForReconstruct(reconstruct)
	assert.Equal(t, "[dbo].[vCustomerTotals]", reconstruct[0].Name())
	assert.Equal(t, "[dbo].[vCombined]", reconstruct[2].Name())
}

func TestScanViewsMissingDefinition(t *testing.T) {
	db := newSalesFixture()
	db.views = db.views[:1]
	s := NewScanner(zaptest.NewLogger(t))

	_, err := s.Scan(context.Background(), &fakeCatalog{db: db}, KindSchemaBoundView, salesTargets(db, idCustomers))
	assert.ErrorContains(t, err, "returned 1 definitions for 2 views")
}

func TestScanCDCAndArticles(t *testing.T) {
	db := newSalesFixture()
	targets := salesTargets(db, idCustomers, idOrders)
	s := NewScanner(zaptest.NewLogger(t))

	cdc, err := s.Scan(context.Background(), &fakeCatalog{db: db}, KindCDCInstance, targets)
	require.NoError(t, err)
	require.Len(t, cdc, 1)
	assert.Equal(t, "dbo_Customers ([dbo].[Customers])", cdc[0].Name())
	assert.Equal(t, []int64{idCustomers}, cdc[0].BlockedTables())

	arts, err := s.Scan(context.Background(), &fakeCatalog{db: db}, KindPublicationArticle, targets)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "SalesPub/Customers ([dbo].[Customers])", arts[0].Name())
}

func TestScanWithoutTargets(t *testing.T) {
	db := newSalesFixture()
	s := NewScanner(zaptest.NewLogger(t))
	for _, kind := range AllKinds() {
		deps, err := s.Scan(context.Background(), &fakeCatalog{db: db}, kind, nil)
		require.NoError(t, err)
		assert.Empty(t, deps)
	}
}
