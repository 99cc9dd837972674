package truncate

import (
	"github.com/arwahdevops/dbtruncate/internal/utils"
)

// DependencyKind is one category of object that blocks TRUNCATE TABLE.
type DependencyKind string

const (
	KindForeignKey         DependencyKind = "foreign_key"
	KindSchemaBoundView    DependencyKind = "schema_bound_view"
	KindCDCInstance        DependencyKind = "cdc_instance"
	KindPublicationArticle DependencyKind = "publication_article"
)

// scanOrder is load-bearing: views are linked to target tables and their
// children to views during scanning, teardown runs the other way round.
var (
	scanOrder        = []DependencyKind{KindForeignKey, KindSchemaBoundView, KindCDCInstance, KindPublicationArticle}
	teardownOrder    = []DependencyKind{KindPublicationArticle, KindCDCInstance, KindSchemaBoundView, KindForeignKey}
	reconstructOrder = []DependencyKind{KindPublicationArticle, KindCDCInstance, KindSchemaBoundView, KindForeignKey}
)

// AllKinds lists the dependency kinds in scan order.
func AllKinds() []DependencyKind {
	return append([]DependencyKind(nil), scanOrder...)
}

// ShortLabel is used for summary column headers.
func (k DependencyKind) ShortLabel() string {
	switch k {
	case KindForeignKey:
		return "FK"
	case KindSchemaBoundView:
		return "VIEW"
	case KindCDCInstance:
		return "CDC"
	case KindPublicationArticle:
		return "ARTICLE"
	default:
		return string(k)
	}
}

// TemporalType mirrors sys.tables.temporal_type.
type TemporalType int

const (
	TemporalNone            TemporalType = 0
	TemporalHistory         TemporalType = 1
	TemporalSystemVersioned TemporalType = 2
)

// TableInfo is one user table as reported by the catalog, including the
// catalog's own per-table blocking flags. The flags are what scanned
// dependency records are reconciled against.
type TableInfo struct {
	ObjectID                int64
	Schema                  string
	Name                    string
	TemporalType            TemporalType
	HasForeignRef           bool // referenced by at least one foreign key
	IsSchemaBoundReferenced bool // read by at least one schema-bound view
	IsTrackedByCDC          bool
	IsPublished             bool // snapshot or transactional article source
}

// KindCounters are the per-table ledger counters for one dependency kind.
type KindCounters struct {
	Referenced bool // catalog flag, set during resolution
	References int  // dependency records blocking this table
	Dropped    int
	Recreated  int
}

// TargetTable is one table selected by the resolver.
type TargetTable struct {
	ObjectID          int64
	Schema            string
	Name              string
	TemporalType      TemporalType
	RowCountBefore    int64
	RowCountAfter     int64 // -1 until measured
	IsToBeTruncated   bool
	IsOnExceptionList bool
	WasTruncated      bool
	Counters          map[DependencyKind]*KindCounters
	Errors            []string
}

func newTargetTable(info TableInfo) *TargetTable {
	t := &TargetTable{
		ObjectID:      info.ObjectID,
		Schema:        info.Schema,
		Name:          info.Name,
		TemporalType:  info.TemporalType,
		RowCountAfter: -1,
		Counters:      make(map[DependencyKind]*KindCounters, len(scanOrder)),
	}
	for _, k := range scanOrder {
		t.Counters[k] = &KindCounters{}
	}
	t.Counters[KindForeignKey].Referenced = info.HasForeignRef
	t.Counters[KindSchemaBoundView].Referenced = info.IsSchemaBoundReferenced
	t.Counters[KindCDCInstance].Referenced = info.IsTrackedByCDC
	t.Counters[KindPublicationArticle].Referenced = info.IsPublished
	return t
}

// QualifiedName renders [schema].[name].
func (t *TargetTable) QualifiedName() string {
	return utils.QualifiedName(t.Schema, t.Name)
}

// Counter returns the counters for kind, never nil.
func (t *TargetTable) Counter(kind DependencyKind) *KindCounters {
	c, ok := t.Counters[kind]
	if !ok {
		c = &KindCounters{}
		t.Counters[kind] = c
	}
	return c
}

// IsReferencedBy reports the catalog flag for kind.
func (t *TargetTable) IsReferencedBy(kind DependencyKind) bool {
	return t.Counter(kind).Referenced
}

func (t *TargetTable) addError(msg string) {
	t.Errors = append(t.Errors, msg)
}
