package truncate

import (
	"fmt"

	"github.com/arwahdevops/dbtruncate/internal/utils"
)

// DependencyState tracks one dependency record through a run.
type DependencyState string

const (
	StateFound     DependencyState = "found"
	StateTornDown  DependencyState = "torn_down"
	StateRecreated DependencyState = "recreated"
	StateSkipped   DependencyState = "skipped"
	StateFailed    DependencyState = "failed"
)

// Dependency is one captured object that blocks truncation of at least one
// target table. Records are created during scanning and carry everything
// needed to reproduce the object after the truncation.
type Dependency interface {
	Kind() DependencyKind
	// Name is the display name used in logs and the summary.
	Name() string
	// BlockedTables are the object ids of target tables this record blocks.
	BlockedTables() []int64
	TeardownCommand() Command
	// ReconstructCommand fails with ErrIrreproducibleDefinition when the
	// object itself cannot be recreated.
	ReconstructCommand() (Command, error)
	// Warnings lists parts that will be lost on reconstruction, such as an
	// encrypted trigger on an otherwise reproducible view.
	Warnings() []string
	State() DependencyState
	Err() error

	setState(DependencyState)
	setErr(error)
	addBlocked(id int64) bool
}

type record struct {
	blocked []int64
	state   DependencyState
	err     error
}

func (r *record) BlockedTables() []int64 { return r.blocked }

func (r *record) State() DependencyState {
	if r.state == "" {
		return StateFound
	}
	return r.state
}

func (r *record) Err() error { return r.err }

func (r *record) setState(s DependencyState) { r.state = s }

func (r *record) setErr(err error) { r.err = err }

func (r *record) addBlocked(id int64) bool {
	for _, b := range r.blocked {
		if b == id {
			return false
		}
	}
	r.blocked = append(r.blocked, id)
	return true
}

// ForeignKey is a foreign key constraint that references a target table.
type ForeignKey struct {
	record
	ObjectID           int64
	ConstraintName     string
	ParentObjectID     int64
	ParentSchema       string
	ParentTable        string
	ReferencedObjectID int64
	ReferencedSchema   string
	ReferencedTable    string
	Columns            []FKColumn
	DeleteAction       string // sys.foreign_keys.*_referential_action_desc
	UpdateAction       string
	NotForReplication  bool
	IsDisabled         bool
	IsNotTrusted       bool
}

// FKColumn pairs a referencing column with the referenced column.
type FKColumn struct {
	ConstraintColumnID      int
	ParentColumn            string
	ReferencedColumn        string
	ReferencedColumnOrdinal int
}

func (fk *ForeignKey) Kind() DependencyKind { return KindForeignKey }

func (fk *ForeignKey) Name() string {
	return fmt.Sprintf("%s.%s", utils.QualifiedName(fk.ParentSchema, fk.ParentTable), utils.QuoteName(fk.ConstraintName))
}

func (fk *ForeignKey) TeardownCommand() Command { return foreignKeyTeardown(fk) }

func (fk *ForeignKey) ReconstructCommand() (Command, error) { return foreignKeyReconstruct(fk), nil }

func (fk *ForeignKey) Warnings() []string { return nil }

// SchemaBoundView is a view created WITH SCHEMABINDING that reads a target
// table directly or through other schema-bound views.
type SchemaBoundView struct {
	record
	ObjectID             int64
	Schema               string
	ViewName             string
	Definition           string
	IsEncrypted          bool
	UsesAnsiNulls        bool
	UsesQuotedIdentifier bool
	// Depth is 1 for a view that reads a target table directly and grows by
	// one per view layer. Deeper views are dropped first.
	Depth              int
	Indexes            []ViewIndex
	Triggers           []ViewTrigger
	ExtendedProperties []ExtendedProperty
}

type ViewIndex struct {
	IndexID          int
	IndexName        string
	IsClustered      bool
	IsUnique         bool
	KeyColumns       []IndexColumn
	IncludedColumns  []string
	FilterDefinition string
}

type IndexColumn struct {
	Column     string
	Descending bool
}

type ViewTrigger struct {
	ObjectID    int64
	TriggerName string
	Definition  string
	IsEncrypted bool
	IsDisabled  bool
}

// ExtendedProperty is attached to the view itself or, when Column is set,
// to one of its columns.
type ExtendedProperty struct {
	PropertyName string
	Value        string
	Column       string
}

func (v *SchemaBoundView) Kind() DependencyKind { return KindSchemaBoundView }

func (v *SchemaBoundView) Name() string { return utils.QualifiedName(v.Schema, v.ViewName) }

func (v *SchemaBoundView) TeardownCommand() Command { return viewTeardown(v) }

func (v *SchemaBoundView) ReconstructCommand() (Command, error) {
	if v.IsEncrypted || v.Definition == "" {
		return Command{}, fmt.Errorf("view %s: %w", v.Name(), ErrIrreproducibleDefinition)
	}
	return viewReconstruct(v), nil
}

func (v *SchemaBoundView) Warnings() []string {
	var out []string
	if v.IsEncrypted {
		out = append(out, fmt.Sprintf("view %s is encrypted and cannot be recreated", v.Name()))
	}
	for _, tr := range v.Triggers {
		if tr.IsEncrypted || tr.Definition == "" {
			out = append(out, fmt.Sprintf("trigger %s on view %s is encrypted and will not be recreated", utils.QuoteName(tr.TriggerName), v.Name()))
		}
	}
	return out
}

// CDCInstance is one change data capture instance on a target table.
type CDCInstance struct {
	record
	SourceObjectID       int64
	SourceSchema         string
	SourceTable          string
	CaptureInstance      string
	RoleName             string
	SupportsNetChanges   bool
	IndexName            string
	CapturedColumns      []string
	FilegroupName        string
	AllowPartitionSwitch bool
}

func (c *CDCInstance) Kind() DependencyKind { return KindCDCInstance }

func (c *CDCInstance) Name() string {
	return fmt.Sprintf("%s (%s)", c.CaptureInstance, utils.QualifiedName(c.SourceSchema, c.SourceTable))
}

func (c *CDCInstance) TeardownCommand() Command { return cdcTeardown(c) }

func (c *CDCInstance) ReconstructCommand() (Command, error) { return cdcReconstruct(c), nil }

func (c *CDCInstance) Warnings() []string { return nil }

// PublicationArticle is a transactional or snapshot replication article
// whose source is a target table, with the subscriptions that use it.
type PublicationArticle struct {
	record
	SourceObjectID          int64
	SourceOwner             string
	SourceObject            string
	Publication             string
	Article                 string
	Type                    string
	Description             string
	DestinationOwner        string
	DestinationTable        string
	PreCreationCmd          string
	SchemaOption            []byte
	IdentityRangeManagement string
	Status                  int
	InsCmd                  string
	UpdCmd                  string
	DelCmd                  string
	FilterClause            string
	FilterName              string
	VerticalPartition       bool
	Columns                 []string
	Subscriptions           []ArticleSubscription
}

type ArticleSubscription struct {
	Subscriber       string
	DestinationDB    string
	SubscriptionType string // push or pull
	SyncType         string // automatic, none, replication support only
}

func (a *PublicationArticle) Kind() DependencyKind { return KindPublicationArticle }

func (a *PublicationArticle) Name() string {
	return fmt.Sprintf("%s/%s (%s)", a.Publication, a.Article, utils.QualifiedName(a.SourceOwner, a.SourceObject))
}

func (a *PublicationArticle) TeardownCommand() Command { return articleTeardown(a) }

func (a *PublicationArticle) ReconstructCommand() (Command, error) { return articleReconstruct(a), nil }

func (a *PublicationArticle) Warnings() []string { return nil }

var (
	_ Dependency = (*ForeignKey)(nil)
	_ Dependency = (*SchemaBoundView)(nil)
	_ Dependency = (*CDCInstance)(nil)
	_ Dependency = (*PublicationArticle)(nil)
)
