package truncate

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeDB is an in-memory stand-in for the catalog and the executing
// engine. Metadata is static; statements are only recorded. Statements
// containing any failOn substring are rejected by the engine.
type fakeDB struct {
	mu sync.Mutex

	tables   []TableInfo
	rows     map[int64]int64
	fks      []*ForeignKey
	refs     []ViewReference
	views    []*SchemaBoundView
	cdc      []*CDCInstance
	articles []*PublicationArticle

	failOn []string
	// rowsAfterTruncate overrides what the truncation oracle reports.
	rowsAfterTruncate map[int64]int64
	// sessionCatalog replaces the catalog seen through a session.
	sessionCatalog Catalog

	begins     int
	commits    int
	rollbacks  int
	committed  []string
	attempted  []string
	listCalls  int
	countCalls int
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[int64]int64)}
}

func (db *fakeDB) addTable(info TableInfo, rows int64) {
	db.tables = append(db.tables, info)
	db.rows[info.ObjectID] = rows
}

func (db *fakeDB) tableByID(id int64) (TableInfo, bool) {
	for _, t := range db.tables {
		if t.ObjectID == id {
			return t, true
		}
	}
	return TableInfo{}, false
}

func (db *fakeDB) committedContaining(substr string) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []string
	for _, s := range db.committed {
		if strings.Contains(s, substr) {
			out = append(out, s)
		}
	}
	return out
}

func idSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// --- Catalog ---

type fakeCatalog struct {
	db      *fakeDB
	session *fakeSession
}

func (c *fakeCatalog) ListUserTables(ctx context.Context) ([]TableInfo, error) {
	c.db.listCalls++
	return append([]TableInfo(nil), c.db.tables...), nil
}

func (c *fakeCatalog) FindTable(ctx context.Context, schema, name string) (*TableInfo, error) {
	for _, t := range c.db.tables {
		if strings.EqualFold(t.Schema, schema) && strings.EqualFold(t.Name, name) {
			info := t
			return &info, nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) RowCounts(ctx context.Context, ids []int64) (map[int64]int64, error) {
	c.db.countCalls++
	out := make(map[int64]int64, len(ids))
	for _, id := range ids {
		n := c.db.rows[id]
		if c.session != nil && c.session.truncated[id] {
			n = 0
		}
		out[id] = n
	}
	return out, nil
}

func (c *fakeCatalog) ForeignKeys(ctx context.Context, ids []int64) ([]*ForeignKey, error) {
	want := idSet(ids)
	var out []*ForeignKey
	for _, fk := range c.db.fks {
		if want[fk.ReferencedObjectID] {
			cp := *fk
			cp.record = record{}
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCatalog) SchemaBoundReferences(ctx context.Context, ids []int64) ([]ViewReference, error) {
	want := idSet(ids)
	var out []ViewReference
	for _, r := range c.db.refs {
		if want[r.ReferencedID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Views(ctx context.Context, ids []int64) ([]*SchemaBoundView, error) {
	want := idSet(ids)
	var out []*SchemaBoundView
	for _, v := range c.db.views {
		if want[v.ObjectID] {
			cp := *v
			cp.record = record{}
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCatalog) CDCInstances(ctx context.Context, ids []int64) ([]*CDCInstance, error) {
	want := idSet(ids)
	var out []*CDCInstance
	for _, ci := range c.db.cdc {
		if want[ci.SourceObjectID] {
			cp := *ci
			cp.record = record{}
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCatalog) PublicationArticles(ctx context.Context, ids []int64) ([]*PublicationArticle, error) {
	want := idSet(ids)
	var out []*PublicationArticle
	for _, a := range c.db.articles {
		if want[a.SourceObjectID] {
			cp := *a
			cp.record = record{}
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Engine ---

type fakeEngine struct {
	db       *fakeDB
	beginErr error
	// beginErrAfter lets that many Begin calls succeed before beginErr is
	// returned.
	beginErrAfter int
}

func (e *fakeEngine) Begin(ctx context.Context) (Session, error) {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if e.beginErr != nil && e.db.begins >= e.beginErrAfter {
		return nil, e.beginErr
	}
	e.db.begins++
	return &fakeSession{db: e.db, truncated: make(map[int64]bool)}, nil
}

type fakeSession struct {
	db        *fakeDB
	pending   []string
	truncated map[int64]bool
	done      bool
}

func (s *fakeSession) Exec(ctx context.Context, stmt string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.done {
		return fmt.Errorf("session finished")
	}
	s.db.attempted = append(s.db.attempted, stmt)
	for _, f := range s.db.failOn {
		if strings.Contains(stmt, f) {
			return fmt.Errorf("injected failure on %q", f)
		}
	}
	s.pending = append(s.pending, stmt)
	if strings.HasPrefix(stmt, "TRUNCATE TABLE ") {
		for _, t := range s.db.tables {
			if strings.Contains(stmt, "TRUNCATE TABLE ["+t.Schema+"].["+t.Name+"];") {
				s.truncated[t.ObjectID] = true
			}
		}
	}
	return nil
}

func (s *fakeSession) TableRowCount(ctx context.Context, schema, name string) (int64, bool, error) {
	for _, t := range s.db.tables {
		if t.Schema == schema && t.Name == name {
			if n, ok := s.db.rowsAfterTruncate[t.ObjectID]; ok {
				return n, true, nil
			}
			if s.truncated[t.ObjectID] {
				return 0, true, nil
			}
			return s.db.rows[t.ObjectID], true, nil
		}
	}
	return 0, false, nil
}

func (s *fakeSession) Catalog() Catalog {
	if s.db.sessionCatalog != nil {
		return s.db.sessionCatalog
	}
	return &fakeCatalog{db: s.db, session: s}
}

func (s *fakeSession) Commit() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.done = true
	s.db.commits++
	s.db.committed = append(s.db.committed, s.pending...)
	for id := range s.truncated {
		s.db.rows[id] = 0
	}
	return nil
}

func (s *fakeSession) Rollback() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.done = true
	s.db.rollbacks++
	return nil
}

// --- fixture ---

const (
	idCustomers     int64 = 100
	idOrders        int64 = 200
	idOrderLines    int64 = 300
	idAudit         int64 = 400
	idOrdersHistory int64 = 500
	idInvoices      int64 = 600
	idCustTotals    int64 = 700
	idTopCustomers  int64 = 701
)

// newSalesFixture builds a small sales schema. Customers is blocked by two
// foreign keys, two nested schema-bound views, a CDC instance and a
// publication article; Orders is blocked by one foreign key.
func newSalesFixture() *fakeDB {
	db := newFakeDB()
	db.addTable(TableInfo{ObjectID: idCustomers, Schema: "dbo", Name: "Customers",
		HasForeignRef: true, IsSchemaBoundReferenced: true, IsTrackedByCDC: true, IsPublished: true}, 10)
	db.addTable(TableInfo{ObjectID: idOrders, Schema: "dbo", Name: "Orders", HasForeignRef: true}, 50)
	db.addTable(TableInfo{ObjectID: idOrderLines, Schema: "dbo", Name: "OrderLines"}, 500)
	db.addTable(TableInfo{ObjectID: idAudit, Schema: "dbo", Name: "Audit"}, 0)
	db.addTable(TableInfo{ObjectID: idOrdersHistory, Schema: "history", Name: "OrdersHistory", TemporalType: TemporalHistory}, 7)
	db.addTable(TableInfo{ObjectID: idInvoices, Schema: "billing", Name: "Invoices"}, 3)

	db.fks = []*ForeignKey{
		{
			ObjectID: 1001, ConstraintName: "FK_Orders_Customers",
			ParentObjectID: idOrders, ParentSchema: "dbo", ParentTable: "Orders",
			ReferencedObjectID: idCustomers, ReferencedSchema: "dbo", ReferencedTable: "Customers",
			Columns:      []FKColumn{{ConstraintColumnID: 1, ParentColumn: "CustomerID", ReferencedColumn: "ID", ReferencedColumnOrdinal: 1}},
			DeleteAction: "CASCADE", UpdateAction: "NO_ACTION",
		},
		{
			ObjectID: 1002, ConstraintName: "FK_Invoices_Customers",
			ParentObjectID: idInvoices, ParentSchema: "billing", ParentTable: "Invoices",
			ReferencedObjectID: idCustomers, ReferencedSchema: "dbo", ReferencedTable: "Customers",
			Columns:      []FKColumn{{ConstraintColumnID: 1, ParentColumn: "CustomerID", ReferencedColumn: "ID", ReferencedColumnOrdinal: 1}},
			DeleteAction: "NO_ACTION", UpdateAction: "NO_ACTION",
		},
		{
			ObjectID: 1003, ConstraintName: "FK_OrderLines_Orders",
			ParentObjectID: idOrderLines, ParentSchema: "dbo", ParentTable: "OrderLines",
			ReferencedObjectID: idOrders, ReferencedSchema: "dbo", ReferencedTable: "Orders",
			Columns:      []FKColumn{{ConstraintColumnID: 1, ParentColumn: "OrderID", ReferencedColumn: "ID", ReferencedColumnOrdinal: 1}},
			DeleteAction: "NO_ACTION", UpdateAction: "NO_ACTION",
		},
	}

	db.refs = []ViewReference{
		{ViewID: idCustTotals, ReferencedID: idCustomers},
		{ViewID: idTopCustomers, ReferencedID: idCustTotals},
	}
	db.views = []*SchemaBoundView{
		{
			ObjectID: idCustTotals, Schema: "dbo", ViewName: "vCustomerTotals",
			Definition:    "CREATE VIEW dbo.vCustomerTotals WITH SCHEMABINDING AS SELECT ID, COUNT_BIG(*) AS Cnt FROM dbo.Customers GROUP BY ID",
			UsesAnsiNulls: true, UsesQuotedIdentifier: true,
			Indexes: []ViewIndex{
				{IndexID: 2, IndexName: "IX_vCustomerTotals_Cnt", KeyColumns: []IndexColumn{{Column: "Cnt"}}},
				{IndexID: 1, IndexName: "CIX_vCustomerTotals", IsClustered: true, IsUnique: true, KeyColumns: []IndexColumn{{Column: "ID"}}},
			},
			Triggers: []ViewTrigger{{ObjectID: 7001, TriggerName: "trg_vCustomerTotals_io",
				Definition: "CREATE TRIGGER dbo.trg_vCustomerTotals_io ON dbo.vCustomerTotals INSTEAD OF INSERT AS BEGIN SET NOCOUNT ON; END"}},
			ExtendedProperties: []ExtendedProperty{{PropertyName: "MS_Description", Value: "Totals per customer"}},
		},
		{
			ObjectID: idTopCustomers, Schema: "dbo", ViewName: "vTopCustomers",
			Definition:    "CREATE VIEW dbo.vTopCustomers WITH SCHEMABINDING AS SELECT ID FROM dbo.vCustomerTotals WHERE Cnt > 10",
			UsesAnsiNulls: true, UsesQuotedIdentifier: true,
		},
	}

	db.cdc = []*CDCInstance{{
		SourceObjectID: idCustomers, SourceSchema: "dbo", SourceTable: "Customers",
		CaptureInstance: "dbo_Customers", SupportsNetChanges: true, IndexName: "PK_Customers",
		CapturedColumns: []string{"ID", "Name"},
	}}
	db.articles = []*PublicationArticle{{
		SourceObjectID: idCustomers, SourceOwner: "dbo", SourceObject: "Customers",
		Publication: "SalesPub", Article: "Customers", Type: "logbased",
		PreCreationCmd: "drop", SchemaOption: []byte{0x00, 0x00, 0x00, 0x00, 0x08, 0x03, 0x50, 0x9F},
		IdentityRangeManagement: "manual", Status: 24,
		InsCmd: "CALL sp_MSins_dboCustomers", UpdCmd: "SCALL sp_MSupd_dboCustomers", DelCmd: "CALL sp_MSdel_dboCustomers",
		Subscriptions: []ArticleSubscription{{Subscriber: "REPL01", DestinationDB: "SalesCopy", SubscriptionType: "push", SyncType: "automatic"}},
	}}
	return db
}

func salesSelector() Selector {
	return Selector{
		SchemaNames:  "dbo,dbo,dbo",
		TableNames:   "Customers,Orders,OrderLines",
		Delimiter:    ",",
		WildcardChar: "*",
		BatchSize:    2,
	}
}
