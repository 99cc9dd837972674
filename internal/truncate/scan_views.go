package truncate

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// maxViewNesting bounds the closure walk. SQL Server itself caps view
// nesting at 32 levels.
const maxViewNesting = 64

// discoverViews walks schema-bound references outward from the target
// tables. A view's depth is its longest path to a target table and its
// blocked set is every target table it reaches.
func (s *Scanner) discoverViews(ctx context.Context, cat Catalog, targets map[int64]*TargetTable, ids []int64) ([]Dependency, error) {
	depth := make(map[int64]int)
	blocked := make(map[int64]map[int64]bool)
	blockedOf := func(id int64) map[int64]bool {
		if _, ok := targets[id]; ok {
			return map[int64]bool{id: true}
		}
		return blocked[id]
	}

	frontier := ids
	for level := 0; len(frontier) > 0; level++ {
		if level > maxViewNesting {
			return nil, fmt.Errorf("scan schema-bound views: nesting deeper than %d levels", maxViewNesting)
		}
		refs, err := cat.SchemaBoundReferences(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("scan schema-bound views: %w", err)
		}

		next := make(map[int64]bool)
		for _, ref := range refs {
			if _, isTable := targets[ref.ViewID]; isTable {
				continue
			}
			changed := false
			if d := depth[ref.ReferencedID] + 1; d > depth[ref.ViewID] {
				depth[ref.ViewID] = d
				changed = true
			}
			set, ok := blocked[ref.ViewID]
			if !ok {
				set = make(map[int64]bool)
				blocked[ref.ViewID] = set
			}
			for b := range blockedOf(ref.ReferencedID) {
				if !set[b] {
					set[b] = true
					changed = true
				}
			}
			if changed {
				next[ref.ViewID] = true
			}
		}
		frontier = sortedIDs(next)
	}

	if len(depth) == 0 {
		return nil, nil
	}

	viewIDs := make(map[int64]bool, len(depth))
	for id := range depth {
		viewIDs[id] = true
	}
	views, err := cat.Views(ctx, sortedIDs(viewIDs))
	if err != nil {
		return nil, fmt.Errorf("scan schema-bound views: %w", err)
	}
	if len(views) != len(depth) {
		return nil, fmt.Errorf("scan schema-bound views: catalog returned %d definitions for %d views", len(views), len(depth))
	}

	deps := make([]Dependency, 0, len(views))
	for _, v := range views {
		v.Depth = depth[v.ObjectID]
		for _, id := range sortedIDs(blocked[v.ObjectID]) {
			v.addBlocked(id)
		}
		s.logger.Debug("Found schema-bound view",
			zap.String("view", v.Name()),
			zap.Int("depth", v.Depth),
			zap.Int("indexes", len(v.Indexes)),
			zap.Int("triggers", len(v.Triggers)),
			zap.Bool("encrypted", v.IsEncrypted))
		deps = append(deps, v)
	}
	sortViewsForTeardown(deps)
	return deps, nil
}

// sortViewsForTeardown orders deepest first, then by name.
func sortViewsForTeardown(deps []Dependency) {
	sort.SliceStable(deps, func(i, j int) bool {
		vi, vj := deps[i].(*SchemaBoundView), deps[j].(*SchemaBoundView)
		if vi.Depth != vj.Depth {
			return vi.Depth > vj.Depth
		}
		return vi.Name() < vj.Name()
	})
}

// sortViewsForReconstruct orders shallowest first, then by name.
func sortViewsForReconstruct(deps []Dependency) {
	sort.SliceStable(deps, func(i, j int) bool {
		vi, vj := deps[i].(*SchemaBoundView), deps[j].(*SchemaBoundView)
		if vi.Depth != vj.Depth {
			return vi.Depth < vj.Depth
		}
		return vi.Name() < vj.Name()
	})
}
