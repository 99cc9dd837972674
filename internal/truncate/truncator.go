package truncate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtruncate/internal/config"
	"github.com/arwahdevops/dbtruncate/internal/metrics"
)

// Options controls one run.
type Options struct {
	Selector         Selector
	WhatIf           bool
	ContinueOnError  bool
	ReenableCDC      bool
	RecreateArticles bool
	EncryptedPolicy  config.EncryptedPolicy
}

// OptionsFromConfig maps the loaded configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Selector: Selector{
			SchemaNames:          cfg.SchemaNames,
			TableNames:           cfg.TableNames,
			AllTables:            cfg.TruncateAllTables,
			Delimiter:            cfg.ListDelimiter,
			ExceptionSchemaNames: cfg.ExceptionSchemaNames,
			ExceptionTableNames:  cfg.ExceptionTableNames,
			WildcardChar:         cfg.WildcardChar,
			RowCountThreshold:    cfg.RowCountThreshold,
			BatchSize:            cfg.BatchSize,
		},
		WhatIf:           cfg.WhatIf,
		ContinueOnError:  cfg.ContinueOnError,
		ReenableCDC:      cfg.ReenableCDC,
		RecreateArticles: cfg.RecreateArticles,
		EncryptedPolicy:  cfg.EncryptedPolicy,
	}
}

// Truncator drives one run through the phase state machine.
type Truncator struct {
	catalog Catalog
	engine  Engine
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Store
}

func NewTruncator(catalog Catalog, engine Engine, opts Options, logger *zap.Logger, metricsStore *metrics.Store) *Truncator {
	if metricsStore == nil {
		metricsStore = metrics.NewMetricsStore()
	}
	if opts.EncryptedPolicy == "" {
		opts.EncryptedPolicy = config.EncryptedPolicyFail
	}
	return &Truncator{
		catalog: catalog,
		engine:  engine,
		opts:    opts,
		logger:  logger.Named("truncator"),
		metrics: metricsStore,
	}
}

// Run executes one truncation run. The report is always returned, also on
// error, and describes how far the run got. A nil error with
// Report.HasUnreconstructed() true means the truncation was committed but
// some dependencies could not be restored.
func (t *Truncator) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	log := t.logger.With(zap.String("run_id", runID))
	report := &Report{
		RunID:           runID,
		StartedAt:       time.Now(),
		WhatIf:          t.opts.WhatIf,
		ContinueOnError: t.opts.ContinueOnError,
		Dependencies:    make(map[DependencyKind][]Dependency, len(scanOrder)),
	}

	log.Info("Starting truncation run",
		zap.Bool("what_if", t.opts.WhatIf),
		zap.Bool("continue_on_error", t.opts.ContinueOnError),
		zap.Bool("all_tables", t.opts.Selector.AllTables),
		zap.Int64("row_count_threshold", t.opts.Selector.RowCountThreshold),
		zap.String("encrypted_policy", string(t.opts.EncryptedPolicy)))
	t.metrics.RunInProgress.Set(1)
	defer t.metrics.RunInProgress.Set(0)

	rc := &runContext{
		opts:     t.opts,
		report:   report,
		ledger:   newLedger(t.opts.ContinueOnError || t.opts.WhatIf, log, t.metrics),
		tx:       newTxController(t.engine, t.opts.WhatIf, log),
		scanner:  NewScanner(log),
		progress: &progress{gauge: t.metrics.RunProgress},
		logger:   log,
		metrics:  t.metrics,
	}
	report.Ledger = rc.ledger
	t.metrics.RunProgress.Set(0)

	err := t.run(ctx, rc)
	report.Plan = rc.tx.plan
	report.Deferred = rc.ledger.Deferred()
	report.Duration = time.Since(report.StartedAt)
	t.metrics.RunDuration.Observe(report.Duration.Seconds())
	t.metrics.RunOutcomeTotal.WithLabelValues(string(report.State)).Inc()

	if err != nil {
		report.Err = err
		log.Error("Truncation run failed",
			zap.String("state", string(report.State)),
			zap.Bool("partially_committed", report.PartiallyCommitted),
			zap.Duration("duration", report.Duration),
			zap.Error(err))
		return report, err
	}
	log.Info("Truncation run finished",
		zap.String("state", string(report.State)),
		zap.Int("tables_truncated", rc.ledger.Truncated),
		zap.Int("unreconstructed", len(report.Unreconstructed())),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (t *Truncator) run(ctx context.Context, rc *runContext) (err error) {
	done := rc.enter(RunResolving)
	tables, err := NewResolver(t.catalog, t.opts.Selector, rc.logger).Resolve(ctx)
	done()
	if err != nil {
		rc.report.State = RunRolledBack
		return err
	}
	rc.report.Tables = tables
	for _, tbl := range tables {
		if tbl.IsToBeTruncated {
			rc.targets = append(rc.targets, tbl)
		}
	}
	rc.byID = indexTables(rc.targets)
	rc.ledger.ToBeTruncated = len(rc.targets)
	rc.logger.Info("Tables resolved",
		zap.Int("selected", len(tables)),
		zap.Int("to_be_truncated", len(rc.targets)))

	if err := t.scan(ctx, rc); err != nil {
		rc.report.State = RunRolledBack
		return err
	}

	if err := rc.tx.begin(ctx); err != nil {
		rc.report.State = RunRolledBack
		return fmt.Errorf("open transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := rc.tx.rollback(); rbErr != nil {
			rc.logger.Error("Rollback failed", zap.Error(rbErr))
			err = multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		if rc.report.PartiallyCommitted {
			rc.logger.Warn("Teardown and truncation were already committed before the failure; only the open step was rolled back",
				zap.Int("left_torn_down", len(rc.report.Unreconstructed())))
			rc.report.State = RunPartiallyCommitted
			return
		}
		rc.report.State = RunRolledBack
	}()

	if err := rc.teardown(ctx); err != nil {
		return err
	}
	if err := rc.truncate(ctx); err != nil {
		return err
	}
	if t.opts.ContinueOnError && !t.opts.WhatIf {
		if err := rc.tx.checkpoint(ctx); err != nil {
			rc.report.PartiallyCommitted = isReopenError(err)
			return err
		}
		rc.report.PartiallyCommitted = true
		rc.logger.Info("Teardown and truncation committed before best-effort reconstruction")
	}
	if err := rc.reconstruct(ctx); err != nil {
		return err
	}
	if err := rc.verify(ctx); err != nil {
		return err
	}

	if t.opts.WhatIf {
		rc.report.State = RunPlanned
		return nil
	}
	if err := rc.tx.commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	rc.report.State = RunCommitted
	return nil
}

// scan runs every scanner in order, reconciles each kind and applies the
// encrypted-definition policy. Nothing has been mutated yet.
func (t *Truncator) scan(ctx context.Context, rc *runContext) error {
	defer rc.enter(RunScanning)()

	total := len(rc.targets)
	for _, kind := range scanOrder {
		deps, err := rc.scanner.Scan(ctx, t.catalog, kind, rc.targets)
		if err != nil {
			return err
		}
		rc.report.Dependencies[kind] = deps
		rc.metrics.DependenciesFound.WithLabelValues(string(kind)).Add(float64(len(deps)))
		if err := rc.ledger.CheckScan(kind, deps, rc.report.Tables); err != nil {
			return err
		}
		// one teardown and one reconstruction step per record
		total += 2 * len(deps)
	}
	rc.progress.total = total

	var warnings []string
	for _, kind := range scanOrder {
		for _, d := range rc.report.Dependencies[kind] {
			warnings = append(warnings, d.Warnings()...)
		}
	}
	if len(warnings) == 0 {
		return nil
	}
	if t.opts.EncryptedPolicy == config.EncryptedPolicyFail && !t.opts.WhatIf {
		return &ValidationError{
			Field:  "encrypted_policy",
			Value:  string(t.opts.EncryptedPolicy),
			Reason: strings.Join(warnings, "; "),
			Err:    ErrIrreproducibleDefinition,
		}
	}
	for _, w := range warnings {
		rc.logger.Warn("Irreproducible definition", zap.String("detail", w))
	}
	rc.report.Warnings = append(rc.report.Warnings, warnings...)
	return nil
}
