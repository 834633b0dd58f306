package master

import (
	"errors"
	"fmt"
)

// ParseError reports a malformed table definition. Table is empty when the
// document structure itself is broken outside any table block.
type ParseError struct {
	Table string
	Line  int
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schema document line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("table %s (line %d): %s", e.Table, e.Line, e.Msg)
}

func syntaxErr(line int, format string, args ...any) error {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// inTable attributes an error raised while parsing a block to its table.
func inTable(err error, table string, line int) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		out := *pe
		out.Table = table
		return &out
	}
	return &ParseError{Table: table, Line: line, Msg: err.Error()}
}

// FailedTables lists the table names named by the ParseErrors inside err.
func FailedTables(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var pe *ParseError
		if errors.As(e, &pe) && pe.Table != "" {
			out = append(out, pe.Table)
		}
	}
	walk(err)
	return out
}
