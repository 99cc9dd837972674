package truncate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// discoverForeignKeys returns every foreign key whose referenced side is a
// target table, self references included.
func (s *Scanner) discoverForeignKeys(ctx context.Context, cat Catalog, targets map[int64]*TargetTable, ids []int64) ([]Dependency, error) {
	fks, err := cat.ForeignKeys(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("scan foreign keys: %w", err)
	}

	deps := make([]Dependency, 0, len(fks))
	for _, fk := range fks {
		if _, ok := targets[fk.ReferencedObjectID]; !ok {
			continue
		}
		if len(fk.Columns) == 0 {
			return nil, fmt.Errorf("scan foreign keys: constraint %s has no columns", fk.Name())
		}
		fk.addBlocked(fk.ReferencedObjectID)
		s.logger.Debug("Found foreign key",
			zap.String("constraint", fk.Name()),
			zap.String("references", fk.ReferencedSchema+"."+fk.ReferencedTable),
			zap.Int("columns", len(fk.Columns)))
		deps = append(deps, fk)
	}
	return deps, nil
}
