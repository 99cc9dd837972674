package utils

import (
	"fmt"
	"strings"
)

// QuoteIdentifier quotes an identifier based on the specified SQL dialect,
// escaping the closing quote character inside the name.
func QuoteIdentifier(name, dialect string) string {
	switch strings.ToLower(dialect) {
	case "sqlserver":
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		// ANSI double quotes, also what SQLite expects.
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	}
}

// QuoteName is QuoteIdentifier for SQL Server, the equivalent of QUOTENAME().
func QuoteName(name string) string {
	return QuoteIdentifier(name, "sqlserver")
}

// QualifiedName renders [schema].[name].
func QualifiedName(schema, name string) string {
	return QuoteName(schema) + "." + QuoteName(name)
}

// QuoteLiteral renders a Unicode string literal (N'...').
func QuoteLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteLiteralOrNull renders NULL for an empty string, otherwise QuoteLiteral.
func QuoteLiteralOrNull(s string) string {
	if s == "" {
		return "NULL"
	}
	return QuoteLiteral(s)
}

// UnquoteIdentifier removes one level of [..], ".." or `..` quoting and
// unescapes the doubled closing character. Unquoted input is returned trimmed.
func UnquoteIdentifier(quotedName string) string {
	name := strings.TrimSpace(quotedName)
	if len(name) < 2 {
		return name
	}

	first, last := name[0], name[len(name)-1]
	switch {
	case first == '[' && last == ']':
		return strings.ReplaceAll(name[1:len(name)-1], "]]", "]")
	case first == '"' && last == '"':
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	case first == '`' && last == '`':
		return strings.ReplaceAll(name[1:len(name)-1], "``", "`")
	}
	return name
}

// BoolBit renders a Go bool as a T-SQL bit literal.
func BoolBit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
