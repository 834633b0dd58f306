// Package master turns the declarative schema document into a master
// snapshot.
//
// The document is a sequence of table blocks:
//
//	table room {
//	    increments("id")
//	    string("name", 100).default("Unnamed Room")
//	    foreignId("building").constrained("building").nullOnDelete()
//	    index(["name"], "room_name_index")
//	}
//
// Each block is parsed on its own. A malformed block is reported as a
// *ParseError and left out of the snapshot; the other tables still load.
package master

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"db_schema_reconciler/internal/schema"
)

// Extract parses src and returns the master snapshot of every table that
// parsed cleanly, together with the joined ParseErrors of those that did not.
func Extract(src, filename string) (*schema.Snapshot, error) {
	now := time.Now().UTC()
	tokens, err := tokenize(src, filename)
	if err != nil {
		return schema.NewSnapshot(schema.OriginMaster, now), err
	}

	blocks, splitErr := splitBlocks(tokens)
	var errs []error
	if splitErr != nil {
		errs = append(errs, splitErr)
	}

	counts := make(map[string]int, len(blocks))
	for _, b := range blocks {
		counts[b.name]++
	}

	var tables []schema.Table
	reported := make(map[string]bool)
	for _, b := range blocks {
		if counts[b.name] > 1 {
			if !reported[b.name] {
				reported[b.name] = true
				errs = append(errs, &ParseError{Table: b.name, Line: b.line, Msg: fmt.Sprintf("table defined %d times; merge the definitions into one block", counts[b.name])})
			}
			continue
		}
		t, err := parseBlock(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tables = append(tables, t)
	}
	return schema.NewSnapshot(schema.OriginMaster, now, tables...), errors.Join(errs...)
}

// ExtractFile reads and parses a schema document from disk.
func ExtractFile(path string) (*schema.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master schema: %w", err)
	}
	return Extract(string(raw), filepath.Base(path))
}

func parseBlock(b block) (schema.Table, error) {
	p := &blockParser{tokens: b.tokens}
	stmts, err := p.statements()
	if err != nil {
		return schema.Table{}, inTable(err, b.name, b.line)
	}
	tb := newTableBuilder(b.name)
	for _, st := range stmts {
		if err := tb.apply(st); err != nil {
			return schema.Table{}, inTable(err, b.name, b.line)
		}
	}
	if len(tb.t.Columns) == 0 {
		return schema.Table{}, &ParseError{Table: b.name, Line: b.line, Msg: "table declares no columns"}
	}
	if err := tb.t.Validate(); err != nil {
		return schema.Table{}, &ParseError{Table: b.name, Line: b.line, Msg: err.Error()}
	}
	return tb.t, nil
}
