package truncate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errNoSession = errors.New("no open transaction")

// reopenError means the preceding commit went through but no new
// transaction could be opened.
type reopenError struct{ err error }

func (e *reopenError) Error() string { return "checkpoint reopen: " + e.err.Error() }
func (e *reopenError) Unwrap() error { return e.err }

func isReopenError(err error) bool {
	var re *reopenError
	return errors.As(err, &re)
}

// txController owns the single ambient transaction of a run. In what-if
// mode it never opens one and only records statements.
type txController struct {
	engine  Engine
	session Session
	whatIf  bool
	logger  *zap.Logger
	plan    []PlannedStatement
}

func newTxController(engine Engine, whatIf bool, logger *zap.Logger) *txController {
	return &txController{engine: engine, whatIf: whatIf, logger: logger.Named("tx")}
}

func (c *txController) begin(ctx context.Context) error {
	if c.whatIf {
		return nil
	}
	if c.session != nil {
		return fmt.Errorf("transaction already open")
	}
	s, err := c.engine.Begin(ctx)
	if err != nil {
		return err
	}
	c.session = s
	return nil
}

// exec runs one statement, or records it in what-if mode.
func (c *txController) exec(ctx context.Context, phase RunState, cmd Command, stmt string) error {
	c.plan = append(c.plan, PlannedStatement{
		Phase:     phase,
		Kind:      cmd.Kind,
		Action:    cmd.Action,
		Object:    cmd.Object,
		Statement: stmt,
	})
	if c.whatIf {
		return nil
	}
	if c.session == nil {
		return errNoSession
	}
	c.logger.Debug("Executing statement",
		zap.String("phase", string(phase)),
		zap.String("object", cmd.Object),
		zap.String("statement", truncateForLog(stmt, 200)))
	return c.session.Exec(ctx, stmt)
}

// execCommand runs every statement of cmd in order and stops at the first
// failure.
func (c *txController) execCommand(ctx context.Context, phase RunState, cmd Command) error {
	for _, stmt := range cmd.Statements {
		if err := c.exec(ctx, phase, cmd, stmt); err != nil {
			return &ExecutionError{Phase: phase, Object: cmd.Object, Statement: stmt, Err: err}
		}
	}
	return nil
}

func (c *txController) commit() error {
	if c.whatIf {
		return nil
	}
	if c.session == nil {
		return errNoSession
	}
	s := c.session
	c.session = nil
	return s.Commit()
}

func (c *txController) rollback() error {
	if c.whatIf || c.session == nil {
		return nil
	}
	s := c.session
	c.session = nil
	return s.Rollback()
}

// checkpoint commits the open transaction and opens a fresh one.
func (c *txController) checkpoint(ctx context.Context) error {
	if c.whatIf {
		return nil
	}
	if err := c.commit(); err != nil {
		return fmt.Errorf("checkpoint commit: %w", err)
	}
	if err := c.begin(ctx); err != nil {
		return &reopenError{err: err}
	}
	return nil
}

// withRecoverableStep runs step as its own sub-transaction. A successful
// step is committed and a new transaction opened. A failed step is rolled
// back and a new transaction opened, and its error is returned as stepErr.
// err is only set when the transaction could not be committed or reopened,
// which the caller must treat as fatal. A nil stepErr with a reopenError
// means the step itself was committed.
func (c *txController) withRecoverableStep(ctx context.Context, step func() error) (stepErr, err error) {
	if c.whatIf {
		return step(), nil
	}
	if stepErr = step(); stepErr != nil {
		if rbErr := c.rollback(); rbErr != nil {
			c.logger.Error("Rollback of failed step failed", zap.Error(rbErr))
			return stepErr, multierr.Append(stepErr, fmt.Errorf("rollback failed step: %w", rbErr))
		}
		if err := c.begin(ctx); err != nil {
			return stepErr, fmt.Errorf("reopen after failed step: %w", err)
		}
		return stepErr, nil
	}
	return nil, c.checkpoint(ctx)
}

func (c *txController) currentSession() Session { return c.session }
