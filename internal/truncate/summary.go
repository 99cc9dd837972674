package truncate

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/multierr"
)

// Report is the outcome of one run.
type Report struct {
	RunID           string
	State           RunState
	StartedAt       time.Time
	Duration        time.Duration
	WhatIf          bool
	ContinueOnError bool
	// PartiallyCommitted is set once best-effort mode has committed the
	// teardown and truncation work.
	PartiallyCommitted bool

	Tables       []*TargetTable
	Dependencies map[DependencyKind][]Dependency
	Ledger       *Ledger
	// Plan lists every statement in execution order; in what-if mode these
	// are the statements that would have run.
	Plan     []PlannedStatement
	Warnings []string
	// Deferred holds reconciliation mismatches downgraded in best-effort
	// or what-if mode.
	Deferred error
	Err      error
}

// Unreconstructed returns dependencies that failed to reconstruct or were
// recreated with parts missing. Once work has been committed in best-effort
// mode, dependencies still torn down are included too. Dependencies skipped
// by configuration are not included.
func (r *Report) Unreconstructed() []Dependency {
	var out []Dependency
	for _, kind := range reconstructOrder {
		for _, d := range r.Dependencies[kind] {
			switch {
			case d.State() == StateFailed:
				out = append(out, d)
			case d.State() == StateRecreated && len(d.Warnings()) > 0:
				out = append(out, d)
			case d.State() == StateTornDown && r.PartiallyCommitted:
				out = append(out, d)
			}
		}
	}
	return out
}

// HasUnreconstructed reports whether the caller must not assume the
// database is fully restored.
func (r *Report) HasUnreconstructed() bool {
	return len(r.Unreconstructed()) > 0 || r.Deferred != nil
}

// SummaryRow is one target table in the final result relation.
type SummaryRow struct {
	Schema          string
	Table           string
	RowsBefore      int64
	RowsAfter       int64
	ToBeTruncated   bool
	OnExceptionList bool
	Truncated       bool
	Counters        map[DependencyKind]KindCounters
	Error           string
}

// Rows orders tables by rows before descending, then schema and name.
func (r *Report) Rows() []SummaryRow {
	rows := make([]SummaryRow, 0, len(r.Tables))
	for _, t := range r.Tables {
		counters := make(map[DependencyKind]KindCounters, len(scanOrder))
		for _, k := range scanOrder {
			counters[k] = *t.Counter(k)
		}
		rows = append(rows, SummaryRow{
			Schema:          t.Schema,
			Table:           t.Name,
			RowsBefore:      t.RowCountBefore,
			RowsAfter:       t.RowCountAfter,
			ToBeTruncated:   t.IsToBeTruncated,
			OnExceptionList: t.IsOnExceptionList,
			Truncated:       t.WasTruncated,
			Counters:        counters,
			Error:           strings.Join(t.Errors, "; "),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RowsBefore != rows[j].RowsBefore {
			return rows[i].RowsBefore > rows[j].RowsBefore
		}
		if !strings.EqualFold(rows[i].Schema, rows[j].Schema) {
			return strings.ToLower(rows[i].Schema) < strings.ToLower(rows[j].Schema)
		}
		return strings.ToLower(rows[i].Table) < strings.ToLower(rows[j].Table)
	})
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatCounters(c KindCounters) string {
	if !c.Referenced && c.References == 0 && c.Dropped == 0 && c.Recreated == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d/%d", c.References, c.Dropped, c.Recreated)
}

func formatAfter(n int64) string {
	if n < 0 {
		return "?"
	}
	return strconv.FormatInt(n, 10)
}

// RenderSummary writes the run header, the per-table summary and every
// unreconstructed dependency with its error.
func RenderSummary(w io.Writer, r *Report) error {
	mode := "execute"
	switch {
	case r.WhatIf:
		mode = "what-if"
	case r.ContinueOnError:
		mode = "best-effort"
	}
	if _, err := fmt.Fprintf(w, "Run %s: %s (%s mode, %s)\n", r.RunID, r.State, mode, r.Duration.Round(time.Millisecond)); err != nil {
		return err
	}

	header := []string{"Schema", "Table", "Rows before", "Rows after", "Truncate", "Exception", "Truncated"}
	for _, k := range scanOrder {
		header = append(header, k.ShortLabel()+" (found/dropped/recreated)")
	}
	header = append(header, "Error")

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range r.Rows() {
		line := []string{
			row.Schema,
			row.Table,
			strconv.FormatInt(row.RowsBefore, 10),
			formatAfter(row.RowsAfter),
			yesNo(row.ToBeTruncated),
			yesNo(row.OnExceptionList),
			yesNo(row.Truncated),
		}
		for _, k := range scanOrder {
			line = append(line, formatCounters(row.Counters[k]))
		}
		line = append(line, row.Error)
		table.Append(line)
	}
	table.Render()

	if un := r.Unreconstructed(); len(un) > 0 {
		fmt.Fprintf(w, "\nUnreconstructed dependencies (%d):\n", len(un))
		for _, d := range un {
			if d.Err() != nil {
				fmt.Fprintf(w, "  - %s %s: %v\n", d.Kind(), d.Name(), d.Err())
			}
			for _, warn := range d.Warnings() {
				fmt.Fprintf(w, "  - %s %s: %s\n", d.Kind(), d.Name(), warn)
			}
			if d.State() == StateTornDown {
				fmt.Fprintf(w, "  - %s %s: dropped and not recreated\n", d.Kind(), d.Name())
				if cmd, err := d.ReconstructCommand(); err == nil {
					for _, stmt := range cmd.Statements {
						fmt.Fprintf(w, "      %s\n", stmt)
					}
				}
			}
		}
	}
	if len(r.Warnings) > 0 && r.WhatIf {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
	}
	if r.Deferred != nil {
		fmt.Fprintf(w, "\nReconciliation mismatches:\n")
		for _, e := range multierr.Errors(r.Deferred) {
			fmt.Fprintf(w, "  - %v\n", e)
		}
	}
	if r.Err != nil {
		fmt.Fprintf(w, "\nError: %v\n", r.Err)
	}
	return nil
}

// RenderPlan writes the statements of the run as a T-SQL script.
func RenderPlan(w io.Writer, r *Report) error {
	for _, p := range r.Plan {
		kind := string(p.Kind)
		if kind == "" {
			kind = "table"
		}
		if _, err := fmt.Fprintf(w, "-- %s %s %s\n%s\nGO\n", p.Phase, kind, p.Object, strings.TrimRight(p.Statement, " \t\r\n")); err != nil {
			return err
		}
	}
	return nil
}
