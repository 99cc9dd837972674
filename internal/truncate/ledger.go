package truncate

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtruncate/internal/metrics"
)

// Ledger checkpoints.
const (
	CheckpointScan        = "scan"
	CheckpointTeardown    = "teardown"
	CheckpointTruncate    = "truncate"
	CheckpointReconstruct = "reconstruct"
	CheckpointVerify      = "verify"
)

// KindTally counts one dependency kind through the phases. In what-if mode
// the counters advance as if every command had succeeded.
type KindTally struct {
	Found     int
	TornDown  int
	Recreated int
	Skipped   int // intentionally not recreated
	Failed    int
}

// Ledger holds the expected-versus-acted counts for one run and asserts
// them at every phase boundary. Scan, teardown and truncate mismatches are
// always fatal. Reconstruct and verify mismatches are deferred instead
// when the run is best-effort.
type Ledger struct {
	kinds         map[DependencyKind]*KindTally
	ToBeTruncated int
	Truncated     int

	bestEffort bool
	deferred   error
	logger     *zap.Logger
	metrics    *metrics.Store
}

func newLedger(bestEffort bool, logger *zap.Logger, m *metrics.Store) *Ledger {
	l := &Ledger{
		kinds:      make(map[DependencyKind]*KindTally, len(scanOrder)),
		bestEffort: bestEffort,
		logger:     logger.Named("ledger"),
		metrics:    m,
	}
	for _, k := range scanOrder {
		l.kinds[k] = &KindTally{}
	}
	return l
}

func (l *Ledger) tally(kind DependencyKind) *KindTally {
	t, ok := l.kinds[kind]
	if !ok {
		t = &KindTally{}
		l.kinds[kind] = t
	}
	return t
}

// Tally returns a copy of the counters for kind.
func (l *Ledger) Tally(kind DependencyKind) KindTally {
	return *l.tally(kind)
}

// Deferred returns the mismatches downgraded under best-effort mode.
func (l *Ledger) Deferred() error { return l.deferred }

func (l *Ledger) fail(err *ReconciliationError, downgradable bool) error {
	if l.metrics != nil {
		l.metrics.ReconciliationErrors.WithLabelValues(err.Checkpoint, string(err.Kind)).Inc()
	}
	if downgradable && l.bestEffort {
		l.logger.Warn("Reconciliation mismatch, continuing in best-effort mode", zap.Error(err))
		l.deferred = multierr.Append(l.deferred, err)
		return nil
	}
	l.logger.Error("Reconciliation mismatch", zap.Error(err))
	return err
}

// CheckScan compares the target tables a kind's records block with the
// to-be-truncated tables the catalog flags for that kind.
func (l *Ledger) CheckScan(kind DependencyKind, deps []Dependency, tables []*TargetTable) error {
	l.tally(kind).Found = len(deps)

	flagged := make(map[int64]string)
	names := make(map[int64]string, len(tables))
	for _, t := range tables {
		names[t.ObjectID] = t.QualifiedName()
		if t.IsToBeTruncated && t.IsReferencedBy(kind) {
			flagged[t.ObjectID] = t.QualifiedName()
		}
	}
	implied := distinctBlocked(deps)

	var missing, extra []string
	for id, name := range flagged {
		if !implied[id] {
			missing = append(missing, name)
		}
	}
	for id := range implied {
		if _, ok := flagged[id]; !ok {
			name := names[id]
			if name == "" {
				name = fmt.Sprintf("object_id=%d", id)
			}
			extra = append(extra, name)
		}
	}

	l.logger.Debug("Scan checkpoint",
		zap.String("kind", string(kind)),
		zap.Int("records", len(deps)),
		zap.Int("flagged_tables", len(flagged)),
		zap.Int("blocked_tables", len(implied)))

	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	var detail []string
	if len(missing) > 0 {
		detail = append(detail, "flagged but no record found: "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		detail = append(detail, "record found but not flagged: "+strings.Join(extra, ", "))
	}
	return l.fail(&ReconciliationError{
		Checkpoint: CheckpointScan,
		Kind:       kind,
		Expected:   len(flagged),
		Actual:     len(implied),
		Detail:     strings.Join(detail, "; "),
	}, false)
}

func (l *Ledger) markTornDown(kind DependencyKind) { l.tally(kind).TornDown++ }

func (l *Ledger) markRecreated(kind DependencyKind) { l.tally(kind).Recreated++ }

func (l *Ledger) markSkipped(kind DependencyKind) { l.tally(kind).Skipped++ }

func (l *Ledger) markFailed(kind DependencyKind) { l.tally(kind).Failed++ }

// CheckTeardown asserts found == torn down for every kind.
func (l *Ledger) CheckTeardown() error {
	for _, k := range teardownOrder {
		t := l.tally(k)
		if t.Found != t.TornDown {
			return l.fail(&ReconciliationError{Checkpoint: CheckpointTeardown, Kind: k, Expected: t.Found, Actual: t.TornDown}, false)
		}
	}
	return nil
}

// CheckTruncate asserts every to-be-truncated table was truncated.
func (l *Ledger) CheckTruncate() error {
	if l.ToBeTruncated != l.Truncated {
		return l.fail(&ReconciliationError{Checkpoint: CheckpointTruncate, Expected: l.ToBeTruncated, Actual: l.Truncated}, false)
	}
	return nil
}

// CheckReconstruct asserts torn down == recreated + skipped for every kind.
func (l *Ledger) CheckReconstruct() error {
	for _, k := range reconstructOrder {
		t := l.tally(k)
		if t.TornDown != t.Recreated+t.Skipped {
			err := l.fail(&ReconciliationError{
				Checkpoint: CheckpointReconstruct,
				Kind:       k,
				Expected:   t.TornDown,
				Actual:     t.Recreated + t.Skipped,
				Detail:     fmt.Sprintf("%d failed", t.Failed),
			}, true)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckVerify asserts that every recreated dependency of kind is present in
// the catalog again.
func (l *Ledger) CheckVerify(kind DependencyKind, recreated int, missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return l.fail(&ReconciliationError{
		Checkpoint: CheckpointVerify,
		Kind:       kind,
		Expected:   recreated,
		Actual:     recreated - len(missing),
		Detail:     "missing after reconstruction: " + strings.Join(missing, ", "),
	}, true)
}
