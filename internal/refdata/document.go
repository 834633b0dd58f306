// Package refdata reconciles reference ("master") data rows between a
// canonical document and the live tables.
package refdata

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Row is one canonical row keyed by column name.
type Row map[string]any

// Meta lists the tables taking part in a reconciliation.
type Meta struct {
	Tables  []string `yaml:"tables" json:"tables"`
	Version string   `yaml:"version,omitempty" json:"version,omitempty"`
}

// Document is the canonical reference data set. JSON documents are read
// by the same decoder.
type Document struct {
	Meta Meta             `yaml:"meta" json:"meta"`
	Data map[string][]Row `yaml:"data" json:"data"`
}

// Load reads a YAML or JSON document from path.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	doc, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a document and checks its shape.
func Parse(b []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks that meta lists at least one table and no table twice.
// Rows are checked against the live schema by the Reconciler.
func (d *Document) Validate() error {
	if len(d.Meta.Tables) == 0 {
		return errors.New("meta.tables is empty")
	}
	seen := make(map[string]bool, len(d.Meta.Tables))
	for _, t := range d.Meta.Tables {
		if strings.TrimSpace(t) == "" {
			return errors.New("meta.tables contains an empty name")
		}
		if seen[t] {
			return fmt.Errorf("meta.tables lists %s twice", t)
		}
		seen[t] = true
	}
	return nil
}

// RowCount is the number of canonical rows over all tables.
func (d *Document) RowCount() int {
	n := 0
	for _, t := range d.Meta.Tables {
		n += len(d.Data[t])
	}
	return n
}

// integerID returns the numeric value of an identifier, if it has one.
func integerID(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}
