package truncate

import (
	"errors"
	"fmt"
)

// ErrIrreproducibleDefinition marks a dependent object whose definition is
// encrypted and therefore cannot be recreated after it has been dropped.
var ErrIrreproducibleDefinition = errors.New("definition is encrypted and cannot be reproduced")

// ValidationError is a bad or contradictory selector, an unresolvable name
// or an irreproducible definition under the fail policy. Always raised
// before any mutation.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += fmt.Sprintf(" for %s", e.Field)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ReconciliationError is a ledger mismatch between what a phase expected to
// act on and what it actually acted on.
type ReconciliationError struct {
	Checkpoint string
	Kind       DependencyKind
	Expected   int
	Actual     int
	Detail     string
}

func (e *ReconciliationError) Error() string {
	msg := fmt.Sprintf("reconciliation failed at %s", e.Checkpoint)
	if e.Kind != "" {
		msg += fmt.Sprintf(" for %s", e.Kind)
	}
	msg += fmt.Sprintf(": expected %d, got %d", e.Expected, e.Actual)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// ExecutionError is a generated command rejected by the engine, or a
// truncation the verification oracle did not confirm.
type ExecutionError struct {
	Phase     RunState
	Object    string
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v [statement: %s]", e.Phase, e.Object, e.Err, truncateForLog(e.Statement, 300))
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StructuralError is an attempt to truncate a table that can never be
// truncated, such as a temporal history table.
type StructuralError struct {
	Table  string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("table %s cannot be truncated: %s", e.Table, e.Reason)
}

// IsFatalKind reports whether err belongs to the taxonomy above, as
// opposed to an unexpected infrastructure failure.
func IsFatalKind(err error) bool {
	var (
		ve *ValidationError
		re *ReconciliationError
		ee *ExecutionError
		se *StructuralError
	)
	return errors.As(err, &ve) || errors.As(err, &re) || errors.As(err, &ee) || errors.As(err, &se)
}
