package truncate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

func (s *Scanner) discoverArticles(ctx context.Context, cat Catalog, targets map[int64]*TargetTable, ids []int64) ([]Dependency, error) {
	articles, err := cat.PublicationArticles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("scan publication articles: %w", err)
	}
	deps := make([]Dependency, 0, len(articles))
	for _, a := range articles {
		if _, ok := targets[a.SourceObjectID]; !ok {
			continue
		}
		a.addBlocked(a.SourceObjectID)
		s.logger.Debug("Found publication article",
			zap.String("publication", a.Publication),
			zap.String("article", a.Article),
			zap.Int("subscriptions", len(a.Subscriptions)),
			zap.Bool("vertical_partition", a.VerticalPartition))
		deps = append(deps, a)
	}
	return deps, nil
}
