package truncate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

func (s *Scanner) discoverCDC(ctx context.Context, cat Catalog, targets map[int64]*TargetTable, ids []int64) ([]Dependency, error) {
	instances, err := cat.CDCInstances(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("scan cdc instances: %w", err)
	}
	deps := make([]Dependency, 0, len(instances))
	for _, ci := range instances {
		if _, ok := targets[ci.SourceObjectID]; !ok {
			continue
		}
		ci.addBlocked(ci.SourceObjectID)
		s.logger.Debug("Found CDC capture instance",
			zap.String("capture_instance", ci.CaptureInstance),
			zap.Int("captured_columns", len(ci.CapturedColumns)))
		deps = append(deps, ci)
	}
	return deps, nil
}
