package truncate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtruncate/internal/utils"
)

// Selector is the user's description of which tables to truncate.
type Selector struct {
	SchemaNames          string
	TableNames           string
	AllTables            bool
	Delimiter            string
	ExceptionSchemaNames string
	ExceptionTableNames  string
	WildcardChar         string
	RowCountThreshold    int64
	BatchSize            int
}

// TablePair is one literal schema/table selector entry.
type TablePair struct {
	Schema string
	Table  string
}

func (p TablePair) String() string { return p.Schema + "." + p.Table }

// ParseNameList splits list on delimiter and removes one level of
// identifier quoting from every entry.
func ParseNameList(list, delimiter string) []string {
	parts := utils.SplitNameList(list, delimiter)
	out := parts[:0]
	for _, p := range parts {
		if name := utils.UnquoteIdentifier(p); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s Selector) delimiter() string {
	if s.Delimiter == "" {
		return ","
	}
	return s.Delimiter
}

func (s Selector) wildcard() string {
	if s.WildcardChar == "" {
		return "*"
	}
	return s.WildcardChar
}

func (s Selector) explicit() bool {
	return strings.TrimSpace(s.SchemaNames) != "" || strings.TrimSpace(s.TableNames) != ""
}

// Validate checks the selector for contradictory or incomplete input. It
// never touches the database.
func (s Selector) Validate() error {
	explicit := s.explicit()
	switch {
	case explicit && s.AllTables:
		return &ValidationError{Field: "selector", Reason: "schema/table name lists and all-tables mode are mutually exclusive"}
	case !explicit && !s.AllTables:
		return &ValidationError{Field: "selector", Reason: "either schema/table name lists or all-tables mode is required"}
	}

	if explicit {
		if _, err := s.Pairs(); err != nil {
			return err
		}
	}
	if _, err := s.Exceptions(); err != nil {
		return err
	}
	if s.RowCountThreshold < 0 {
		return &ValidationError{Field: "row_count_threshold", Value: fmt.Sprint(s.RowCountThreshold), Reason: "must not be negative"}
	}
	if s.BatchSize <= 0 {
		return &ValidationError{Field: "batch_size", Value: fmt.Sprint(s.BatchSize), Reason: "must be positive"}
	}
	if s.delimiter() == s.wildcard() {
		return &ValidationError{Field: "wildcard", Value: s.wildcard(), Reason: "must differ from the list delimiter"}
	}
	return nil
}

// Pairs returns the explicit schema/table pairs.
func (s Selector) Pairs() ([]TablePair, error) {
	schemas := ParseNameList(s.SchemaNames, s.delimiter())
	tables := ParseNameList(s.TableNames, s.delimiter())
	if len(schemas) == 0 || len(tables) == 0 {
		return nil, &ValidationError{Field: "selector", Reason: "schema and table name lists must be supplied together"}
	}
	if len(schemas) != len(tables) {
		return nil, &ValidationError{
			Field:  "selector",
			Value:  fmt.Sprintf("%d schemas, %d tables", len(schemas), len(tables)),
			Reason: "schema and table name lists must have the same number of entries",
		}
	}
	pairs := make([]TablePair, len(schemas))
	for i := range schemas {
		pairs[i] = TablePair{Schema: schemas[i], Table: tables[i]}
	}
	return pairs, nil
}

// ExceptionEntry excludes tables whose schema and table names contain the
// respective patterns.
type ExceptionEntry struct {
	SchemaPattern string
	TablePattern  string
	Wildcard      string
}

// Matches is case-insensitive. A pattern equal to the wildcard matches
// every name.
func (e ExceptionEntry) Matches(schema, table string) bool {
	return e.matchOne(e.SchemaPattern, schema) && e.matchOne(e.TablePattern, table)
}

func (e ExceptionEntry) matchOne(pattern, value string) bool {
	if e.Wildcard != "" && pattern == e.Wildcard {
		return true
	}
	return utils.ContainsFold(value, pattern)
}

// Exceptions returns the exception pairs; none when both lists are empty.
func (s Selector) Exceptions() ([]ExceptionEntry, error) {
	wc := s.wildcard()
	schemas := utils.SplitNameList(s.ExceptionSchemaNames, s.delimiter())
	tables := utils.SplitNameList(s.ExceptionTableNames, s.delimiter())
	if (len(schemas) == 0) != (len(tables) == 0) {
		return nil, &ValidationError{Field: "exceptions", Reason: "exception schema and table lists must both be empty or both be supplied"}
	}
	if len(schemas) != len(tables) {
		return nil, &ValidationError{
			Field:  "exceptions",
			Value:  fmt.Sprintf("%d schemas, %d tables", len(schemas), len(tables)),
			Reason: "exception schema and table lists must have the same number of entries",
		}
	}

	out := make([]ExceptionEntry, 0, len(schemas))
	for i := range schemas {
		for _, p := range []string{schemas[i], tables[i]} {
			if p != wc && strings.Contains(p, wc) {
				return nil, &ValidationError{Field: "exceptions", Value: p, Reason: fmt.Sprintf("wildcard %q must be used alone", wc)}
			}
		}
		out = append(out, ExceptionEntry{SchemaPattern: schemas[i], TablePattern: tables[i], Wildcard: wc})
	}
	return out, nil
}

// exceedsThreshold is the only place the threshold comparison is made.
func exceedsThreshold(rows, threshold int64) bool {
	return rows > threshold
}

// Resolver turns a Selector into target tables.
type Resolver struct {
	catalog  Catalog
	selector Selector
	logger   *zap.Logger
}

func NewResolver(catalog Catalog, selector Selector, logger *zap.Logger) *Resolver {
	return &Resolver{catalog: catalog, selector: selector, logger: logger.Named("resolver")}
}

// Resolve validates the selector and returns the deduplicated target tables
// with row counts and truncation flags populated. Nothing is mutated.
func (r *Resolver) Resolve(ctx context.Context) ([]*TargetTable, error) {
	if err := r.selector.Validate(); err != nil {
		return nil, err
	}
	exceptions, err := r.selector.Exceptions()
	if err != nil {
		return nil, err
	}

	infos, err := r.lookup(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(infos))
	var tables []*TargetTable
	for _, info := range infos {
		if seen[info.ObjectID] {
			r.logger.Debug("Skipping duplicate selector entry", zap.String("table", utils.QualifiedName(info.Schema, info.Name)))
			continue
		}
		seen[info.ObjectID] = true
		if info.TemporalType == TemporalHistory {
			return nil, &StructuralError{Table: utils.QualifiedName(info.Schema, info.Name), Reason: "it is the history table of a system-versioned table"}
		}
		tables = append(tables, newTargetTable(info))
	}
	if len(tables) == 0 {
		return nil, &ValidationError{Field: "selector", Reason: "no tables matched the given selectors"}
	}

	if err := r.loadRowCounts(ctx, tables); err != nil {
		return nil, err
	}

	threshold := r.selector.RowCountThreshold
	for _, t := range tables {
		for _, ex := range exceptions {
			if ex.Matches(t.Schema, t.Name) {
				t.IsOnExceptionList = true
				break
			}
		}
		t.IsToBeTruncated = !t.IsOnExceptionList && exceedsThreshold(t.RowCountBefore, threshold)
		r.logger.Debug("Resolved table",
			zap.String("table", t.QualifiedName()),
			zap.Int64("rows", t.RowCountBefore),
			zap.Bool("exception", t.IsOnExceptionList),
			zap.Bool("to_be_truncated", t.IsToBeTruncated))
	}
	return tables, nil
}

func (r *Resolver) lookup(ctx context.Context) ([]TableInfo, error) {
	if r.selector.AllTables {
		all, err := r.catalog.ListUserTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		out := make([]TableInfo, 0, len(all))
		for _, info := range all {
			if info.TemporalType == TemporalHistory {
				r.logger.Info("Leaving out temporal history table in all-tables mode",
					zap.String("table", utils.QualifiedName(info.Schema, info.Name)))
				continue
			}
			out = append(out, info)
		}
		return out, nil
	}

	pairs, err := r.selector.Pairs()
	if err != nil {
		return nil, err
	}
	out := make([]TableInfo, 0, len(pairs))
	for _, p := range pairs {
		info, err := r.catalog.FindTable(ctx, p.Schema, p.Table)
		if err != nil {
			return nil, &ValidationError{Field: "table", Value: p.String(), Reason: "could not be resolved", Err: err}
		}
		if info == nil {
			return nil, &ValidationError{Field: "table", Value: p.String(), Reason: "does not resolve to an existing user table"}
		}
		out = append(out, *info)
	}
	return out, nil
}

func (r *Resolver) loadRowCounts(ctx context.Context, tables []*TargetTable) error {
	batch := r.selector.BatchSize
	for start := 0; start < len(tables); start += batch {
		end := start + batch
		if end > len(tables) {
			end = len(tables)
		}
		ids := make([]int64, 0, end-start)
		for _, t := range tables[start:end] {
			ids = append(ids, t.ObjectID)
		}
		counts, err := r.catalog.RowCounts(ctx, ids)
		if err != nil {
			return fmt.Errorf("row counts for batch %d-%d: %w", start, end, err)
		}
		for _, t := range tables[start:end] {
			t.RowCountBefore = counts[t.ObjectID]
		}
	}
	return nil
}
