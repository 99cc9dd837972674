package truncate

import (
	"strings"
)

// Action is what a generated command does to its object.
type Action string

const (
	ActionTeardown    Action = "teardown"
	ActionTruncate    Action = "truncate"
	ActionReconstruct Action = "reconstruct"
)

// Command is the ordered list of statements that tears down, truncates or
// reconstructs one object. Each statement is sent as its own batch, since
// CREATE VIEW and CREATE TRIGGER must start a batch.
type Command struct {
	Kind       DependencyKind // empty for TRUNCATE
	Action     Action
	Object     string
	Statements []string
}

// String renders the command as a script with GO separators.
func (c Command) String() string {
	var sb strings.Builder
	for _, s := range c.Statements {
		sb.WriteString(strings.TrimRight(s, " \t\r\n"))
		sb.WriteString("\nGO\n")
	}
	return sb.String()
}

// PlannedStatement is one statement that was executed or, in what-if
// mode, would have been executed.
type PlannedStatement struct {
	Phase     RunState
	Kind      DependencyKind
	Action    Action
	Object    string
	Statement string
}

func truncateForLog(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
