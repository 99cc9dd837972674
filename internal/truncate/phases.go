package truncate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtruncate/internal/metrics"
)

// RunState is the state machine of one run.
type RunState string

const (
	RunResolving      RunState = "resolving"
	RunScanning       RunState = "scanning"
	RunTearingDown    RunState = "tearing_down"
	RunTruncating     RunState = "truncating"
	RunReconstructing RunState = "reconstructing"
	RunVerifying      RunState = "verifying"
	RunCommitted      RunState = "committed"
	RunRolledBack     RunState = "rolled_back"
	RunPlanned        RunState = "planned" // what-if finished

	// RunPartiallyCommitted ends a best-effort run that failed after
	// teardown and truncation were committed.
	RunPartiallyCommitted RunState = "partially_committed"
)

// runContext is threaded through every phase of one run.
type runContext struct {
	opts     Options
	report   *Report
	ledger   *Ledger
	tx       *txController
	scanner  *Scanner
	targets  []*TargetTable
	byID     map[int64]*TargetTable
	progress *progress
	logger   *zap.Logger
	metrics  *metrics.Store
}

func (rc *runContext) enter(state RunState) func() {
	rc.report.State = state
	rc.logger.Info("Entering phase", zap.String("phase", string(state)))
	start := time.Now()
	return func() {
		rc.metrics.PhaseDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())
	}
}

func (rc *runContext) countCommand(phase RunState, kind DependencyKind, err error) {
	status := "ok"
	switch {
	case rc.opts.WhatIf:
		status = "rendered"
	case err != nil:
		status = "failed"
	}
	label := string(kind)
	if label == "" {
		label = "table"
	}
	rc.metrics.CommandsTotal.WithLabelValues(string(phase), label, status).Inc()
}

func (rc *runContext) tablesOf(d Dependency) []*TargetTable {
	var out []*TargetTable
	for _, id := range d.BlockedTables() {
		if t, ok := rc.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// teardown removes every dependency in teardown order. Any failure is
// fatal regardless of mode.
func (rc *runContext) teardown(ctx context.Context) error {
	defer rc.enter(RunTearingDown)()

	for _, kind := range teardownOrder {
		deps := rc.report.Dependencies[kind]
		if kind == KindSchemaBoundView {
			deps = append([]Dependency(nil), deps...)
			sortViewsForTeardown(deps)
		}
		for _, d := range deps {
			err := rc.tx.execCommand(ctx, RunTearingDown, d.TeardownCommand())
			rc.countCommand(RunTearingDown, kind, err)
			if err != nil {
				d.setState(StateFailed)
				d.setErr(err)
				return err
			}
			d.setState(StateTornDown)
			rc.ledger.markTornDown(kind)
			for _, t := range rc.tablesOf(d) {
				t.Counter(kind).Dropped++
			}
			rc.progress.step(rc.logger)
		}
	}
	return rc.ledger.CheckTeardown()
}

// truncate empties every to-be-truncated table and confirms the result
// through the session rather than trusting the statement's success.
func (rc *runContext) truncate(ctx context.Context) error {
	defer rc.enter(RunTruncating)()

	for _, t := range rc.targets {
		if t.TemporalType == TemporalHistory {
			return &StructuralError{Table: t.QualifiedName(), Reason: "it is the history table of a system-versioned table"}
		}
		cmd := truncateCommand(t)
		err := rc.tx.execCommand(ctx, RunTruncating, cmd)
		rc.countCommand(RunTruncating, "", err)
		if err != nil {
			t.addError(err.Error())
			return err
		}

		if !rc.opts.WhatIf {
			if err := rc.verifyEmpty(ctx, t, cmd); err != nil {
				t.addError(err.Error())
				return err
			}
			t.WasTruncated = true
			rc.metrics.TablesTruncatedTotal.Inc()
			rc.metrics.RowsRemovedTotal.Add(float64(t.RowCountBefore))
		}
		rc.ledger.Truncated++
		rc.logger.Info("Table truncated",
			zap.String("table", t.QualifiedName()),
			zap.Int64("rows_before", t.RowCountBefore),
			zap.Bool("simulated", rc.opts.WhatIf))
		rc.progress.step(rc.logger)
	}
	return rc.ledger.CheckTruncate()
}

func (rc *runContext) verifyEmpty(ctx context.Context, t *TargetTable, cmd Command) error {
	sess := rc.tx.currentSession()
	if sess == nil {
		return &ExecutionError{Phase: RunTruncating, Object: cmd.Object, Statement: cmd.Statements[0], Err: errNoSession}
	}
	rows, exists, err := sess.TableRowCount(ctx, t.Schema, t.Name)
	switch {
	case err != nil:
		return &ExecutionError{Phase: RunTruncating, Object: cmd.Object, Statement: cmd.Statements[0], Err: fmt.Errorf("verify truncation: %w", err)}
	case !exists:
		return &ExecutionError{Phase: RunTruncating, Object: cmd.Object, Statement: cmd.Statements[0], Err: errors.New("table no longer exists after truncation")}
	case rows != 0:
		return &ExecutionError{Phase: RunTruncating, Object: cmd.Object, Statement: cmd.Statements[0], Err: fmt.Errorf("table still holds %d rows after truncation", rows)}
	}
	return nil
}

func (rc *runContext) skipReconstruction(kind DependencyKind) bool {
	switch kind {
	case KindCDCInstance:
		return !rc.opts.ReenableCDC
	case KindPublicationArticle:
		return !rc.opts.RecreateArticles
	}
	return false
}

// reconstruct recreates every torn-down dependency. In default mode the
// first failure is fatal. In best-effort mode every record is its own
// recoverable step and failures are recorded against the record.
func (rc *runContext) reconstruct(ctx context.Context) error {
	defer rc.enter(RunReconstructing)()

	bestEffort := rc.opts.ContinueOnError
	for _, kind := range reconstructOrder {
		deps := rc.report.Dependencies[kind]
		if kind == KindSchemaBoundView {
			deps = append([]Dependency(nil), deps...)
			sortViewsForReconstruct(deps)
		}
		for _, d := range deps {
			if d.State() != StateTornDown {
				continue
			}
			if rc.skipReconstruction(kind) {
				d.setState(StateSkipped)
				rc.ledger.markSkipped(kind)
				rc.logger.Info("Leaving dependency removed by configuration",
					zap.String("kind", string(kind)), zap.String("object", d.Name()))
				rc.progress.step(rc.logger)
				continue
			}

			cmd, synthErr := d.ReconstructCommand()
			step := func() error {
				if synthErr != nil {
					return synthErr
				}
				return rc.tx.execCommand(ctx, RunReconstructing, cmd)
			}

			var stepErr error
			switch {
			case synthErr != nil && rc.opts.WhatIf:
				stepErr = synthErr
			case bestEffort:
				var fatal error
				stepErr, fatal = rc.tx.withRecoverableStep(ctx, step)
				if fatal != nil {
					switch {
					case stepErr != nil:
						rc.recordFailure(d, stepErr)
					case isReopenError(fatal):
						rc.countCommand(RunReconstructing, kind, nil)
						rc.markRecreated(d)
					default:
						rc.recordFailure(d, fatal)
					}
					return fatal
				}
			default:
				stepErr = step()
			}
			rc.countCommand(RunReconstructing, kind, stepErr)

			if stepErr != nil {
				rc.recordFailure(d, stepErr)
				if !bestEffort && !rc.opts.WhatIf {
					return stepErr
				}
				rc.progress.step(rc.logger)
				continue
			}

			rc.markRecreated(d)
			rc.progress.step(rc.logger)
		}
	}
	return rc.ledger.CheckReconstruct()
}

func (rc *runContext) markRecreated(d Dependency) {
	kind := d.Kind()
	d.setState(StateRecreated)
	rc.ledger.markRecreated(kind)
	for _, t := range rc.tablesOf(d) {
		t.Counter(kind).Recreated++
		for _, w := range d.Warnings() {
			t.addError(w)
		}
	}
}

func (rc *runContext) recordFailure(d Dependency, err error) {
	d.setState(StateFailed)
	d.setErr(err)
	rc.ledger.markFailed(d.Kind())
	msg := fmt.Sprintf("%s %s not recreated: %v", d.Kind(), d.Name(), err)
	for _, t := range rc.tablesOf(d) {
		t.addError(msg)
	}
	rc.logger.Error("Reconstruction failed",
		zap.String("kind", string(d.Kind())),
		zap.String("object", d.Name()),
		zap.Error(err))
}

// verify measures after-counts and rescans the catalog through the session
// to confirm that every recreated dependency exists again.
func (rc *runContext) verify(ctx context.Context) error {
	defer rc.enter(RunVerifying)()

	if rc.opts.WhatIf {
		for _, t := range rc.report.Tables {
			t.RowCountAfter = t.RowCountBefore
		}
		return nil
	}

	sess := rc.tx.currentSession()
	if sess == nil {
		return errNoSession
	}
	cat := sess.Catalog()

	if err := rc.loadAfterCounts(ctx, cat); err != nil {
		return err
	}

	for _, kind := range reconstructOrder {
		var recreated []Dependency
		for _, d := range rc.report.Dependencies[kind] {
			if d.State() == StateRecreated {
				recreated = append(recreated, d)
			}
		}
		if len(recreated) == 0 {
			continue
		}
		present, err := rc.scanner.Discover(ctx, cat, kind, rc.targets)
		if err != nil {
			return fmt.Errorf("verify %s: %w", kind, err)
		}
		names := make(map[string]bool, len(present))
		for _, p := range present {
			names[p.Name()] = true
		}
		var missing []string
		for _, d := range recreated {
			if !names[d.Name()] {
				missing = append(missing, d.Name())
			}
		}
		if err := rc.ledger.CheckVerify(kind, len(recreated), missing); err != nil {
			return err
		}
	}
	return nil
}

func (rc *runContext) loadAfterCounts(ctx context.Context, cat Catalog) error {
	tables := rc.report.Tables
	batch := rc.opts.Selector.BatchSize
	if batch <= 0 {
		batch = len(tables)
	}
	for start := 0; start < len(tables); start += batch {
		end := start + batch
		if end > len(tables) {
			end = len(tables)
		}
		counts, err := cat.RowCounts(ctx, tableIDs(tables[start:end]))
		if err != nil {
			return fmt.Errorf("after row counts: %w", err)
		}
		for _, t := range tables[start:end] {
			if n, ok := counts[t.ObjectID]; ok {
				t.RowCountAfter = n
			}
		}
	}
	return nil
}

// progress is advisory only.
type progress struct {
	total    int
	done     int
	lastTick int
	gauge    interface{ Set(float64) }
}

func (p *progress) step(log *zap.Logger) {
	p.done++
	if p.total <= 0 {
		return
	}
	ratio := float64(p.done) / float64(p.total)
	if ratio > 1 {
		ratio = 1
	}
	p.gauge.Set(ratio)
	if tick := int(ratio * 10); tick > p.lastTick {
		p.lastTick = tick
		log.Info("Progress", zap.Int("percent", tick*10), zap.Int("done", p.done), zap.Int("total", p.total))
	}
}
