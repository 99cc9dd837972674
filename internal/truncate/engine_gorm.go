package truncate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/dbtruncate/internal/utils"
)

// GormEngine opens gorm transactions on a single database.
type GormEngine struct {
	db      *gorm.DB
	dialect string
	logger  *zap.Logger
}

var _ Engine = (*GormEngine)(nil)

func NewGormEngine(db *gorm.DB, dialect string, logger *zap.Logger) *GormEngine {
	return &GormEngine{db: db, dialect: dialect, logger: logger.Named("engine")}
}

func (e *GormEngine) Begin(ctx context.Context) (Session, error) {
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	e.logger.Debug("Transaction opened")
	return &gormSession{tx: tx, dialect: e.dialect, logger: e.logger}, nil
}

type gormSession struct {
	tx      *gorm.DB
	dialect string
	logger  *zap.Logger
	done    bool
}

func (s *gormSession) Exec(ctx context.Context, statement string) error {
	if s.done {
		return fmt.Errorf("session already finished")
	}
	return s.tx.WithContext(ctx).Exec(statement).Error
}

func (s *gormSession) TableRowCount(ctx context.Context, schema, name string) (int64, bool, error) {
	if s.dialect != "sqlite" {
		return tableRowCount(ctx, s.tx, schema, name)
	}
	var exists int64
	err := s.tx.WithContext(ctx).Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?;", name).Scan(&exists).Error
	if err != nil {
		return 0, false, fmt.Errorf("check table %s exists: %w", name, err)
	}
	if exists == 0 {
		return 0, false, nil
	}
	var count int64
	if err := s.tx.WithContext(ctx).Raw(fmt.Sprintf("SELECT COUNT(*) FROM %s;", utils.QuoteIdentifier(name, "sqlite"))).Scan(&count).Error; err != nil {
		return 0, true, fmt.Errorf("count rows in %s: %w", name, err)
	}
	return count, true, nil
}

func (s *gormSession) Catalog() Catalog {
	return NewMSSQLCatalog(s.tx, s.logger)
}

func (s *gormSession) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("Transaction committed")
	return nil
}

func (s *gormSession) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	s.logger.Debug("Transaction rolled back")
	return nil
}
