package truncate

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Scanner discovers blocking dependencies of the to-be-truncated tables.
// It is stateless; the same discovery runs again against the session
// catalog during verification.
type Scanner struct {
	logger *zap.Logger
}

func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger.Named("scanner")}
}

// Scan discovers the dependencies of one kind and links every record to
// the target tables it blocks.
func (s *Scanner) Scan(ctx context.Context, cat Catalog, kind DependencyKind, targets []*TargetTable) ([]Dependency, error) {
	deps, err := s.Discover(ctx, cat, kind, targets)
	if err != nil {
		return nil, err
	}
	byID := indexTables(targets)
	for _, d := range deps {
		for _, id := range d.BlockedTables() {
			if t, ok := byID[id]; ok {
				t.Counter(kind).References++
			}
		}
	}
	s.logger.Info("Dependency scan finished",
		zap.String("kind", string(kind)),
		zap.Int("found", len(deps)),
		zap.Int("blocked_tables", len(distinctBlocked(deps))))
	return deps, nil
}

// Discover returns the dependency records of one kind without touching the
// target tables' counters.
func (s *Scanner) Discover(ctx context.Context, cat Catalog, kind DependencyKind, targets []*TargetTable) ([]Dependency, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	byID := indexTables(targets)
	ids := tableIDs(targets)

	switch kind {
	case KindForeignKey:
		return s.discoverForeignKeys(ctx, cat, byID, ids)
	case KindSchemaBoundView:
		return s.discoverViews(ctx, cat, byID, ids)
	case KindCDCInstance:
		return s.discoverCDC(ctx, cat, byID, ids)
	case KindPublicationArticle:
		return s.discoverArticles(ctx, cat, byID, ids)
	default:
		return nil, fmt.Errorf("unknown dependency kind %q", kind)
	}
}

func indexTables(tables []*TargetTable) map[int64]*TargetTable {
	m := make(map[int64]*TargetTable, len(tables))
	for _, t := range tables {
		m[t.ObjectID] = t
	}
	return m
}

func tableIDs(tables []*TargetTable) []int64 {
	ids := make([]int64, 0, len(tables))
	for _, t := range tables {
		ids = append(ids, t.ObjectID)
	}
	return ids
}

func distinctBlocked(deps []Dependency) map[int64]bool {
	out := make(map[int64]bool)
	for _, d := range deps {
		for _, id := range d.BlockedTables() {
			out[id] = true
		}
	}
	return out
}

func sortedIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
