package truncate

import (
	"context"
)

// Catalog answers metadata questions about the target database. A catalog
// obtained from a Session sees that session's uncommitted changes.
type Catalog interface {
	// ListUserTables returns every user table, ms_shipped objects excluded.
	ListUserTables(ctx context.Context) ([]TableInfo, error)
	// FindTable resolves one literal schema/table pair using the database
	// collation. A nil result with no error means not found.
	FindTable(ctx context.Context, schema, name string) (*TableInfo, error)
	// RowCounts returns live row counts keyed by object id.
	RowCounts(ctx context.Context, objectIDs []int64) (map[int64]int64, error)

	// ForeignKeys returns constraints whose referenced table is in ids,
	// with their column pairs.
	ForeignKeys(ctx context.Context, referencedIDs []int64) ([]*ForeignKey, error)
	// SchemaBoundReferences returns the schema-bound views that directly
	// reference any object in ids.
	SchemaBoundReferences(ctx context.Context, referencedIDs []int64) ([]ViewReference, error)
	// Views returns full definitions, with indexes, triggers and extended
	// properties, for the given view ids.
	Views(ctx context.Context, viewIDs []int64) ([]*SchemaBoundView, error)
	CDCInstances(ctx context.Context, sourceIDs []int64) ([]*CDCInstance, error)
	PublicationArticles(ctx context.Context, sourceIDs []int64) ([]*PublicationArticle, error)
}

// ViewReference is one schema-bound edge: ViewID reads ReferencedID.
type ViewReference struct {
	ViewID       int64
	ReferencedID int64
}

// Engine opens the transactional sessions that run generated commands.
type Engine interface {
	Begin(ctx context.Context) (Session, error)
}

// Session is one open transaction on one connection.
type Session interface {
	Exec(ctx context.Context, statement string) error
	// TableRowCount is the truncation oracle: an exact count, read inside
	// the session, and whether the table still exists.
	TableRowCount(ctx context.Context, schema, name string) (rows int64, exists bool, err error)
	// Catalog reads metadata through this session's connection.
	Catalog() Catalog
	Commit() error
	Rollback() error
}
