// Package depgraph orders tables so that a referenced table always comes
// before the tables that reference it.
package depgraph

import (
	"errors"
	"fmt"
	"strings"

	"db_schema_reconciler/internal/schema"
)

// ErrCycleDetected is matched by every *CycleError.
var ErrCycleDetected = errors.New("dependency cycle detected")

// CycleError names a table found on a foreign-key cycle. Path lists the
// tables of the cycle in visiting order, ending with Table.
type CycleError struct {
	Table string
	Path  []string
}

func (e *CycleError) Error() string {
	if len(e.Path) > 1 {
		return fmt.Sprintf("dependency cycle detected at table %s: %s", e.Table, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("dependency cycle detected at table %s", e.Table)
}

func (e *CycleError) Is(target error) bool { return target == ErrCycleDetected }

// Graph is a set of tables with "depends on" edges between them.
type Graph struct {
	nodes []string
	index map[string]int
	deps  map[string][]string
}

// New creates a graph over tables. Duplicate names are collapsed and the
// first occurrence fixes the traversal order.
func New(tables []string) *Graph {
	g := &Graph{index: make(map[string]int, len(tables)), deps: make(map[string][]string, len(tables))}
	for _, t := range tables {
		if _, ok := g.index[t]; ok {
			continue
		}
		g.index[t] = len(g.nodes)
		g.nodes = append(g.nodes, t)
	}
	return g
}

// FromSnapshot builds a graph over tables using the foreign keys found in s.
func FromSnapshot(s *schema.Snapshot, tables []string) *Graph {
	g := New(tables)
	for _, name := range g.nodes {
		t, ok := s.Table(name)
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			g.AddEdge(name, fk.RefTable)
		}
	}
	return g
}

// AddEdge records that from references to. Edges leaving the node set and
// self references are ignored: they impose no ordering.
func (g *Graph) AddEdge(from, to string) {
	if from == to {
		return
	}
	if _, ok := g.index[from]; !ok {
		return
	}
	if _, ok := g.index[to]; !ok {
		return
	}
	for _, existing := range g.deps[from] {
		if existing == to {
			return
		}
	}
	g.deps[from] = append(g.deps[from], to)
}

// DependsOn returns the tables that must be processed before table.
func (g *Graph) DependsOn(table string) []string {
	return append([]string(nil), g.deps[table]...)
}

type color uint8

const (
	unvisited color = iota
	visiting
	visited
)

// Order returns the tables in dependency order, referenced tables first.
// Ties keep the order the tables were given in.
func (g *Graph) Order() ([]string, error) {
	colors := make(map[string]color, len(g.nodes))
	out := make([]string, 0, len(g.nodes))
	var stack []string

	var visit func(string) error
	visit = func(n string) error {
		switch colors[n] {
		case visited:
			return nil
		case visiting:
			start := 0
			for i, s := range stack {
				if s == n {
					start = i
					break
				}
			}
			path := append(append([]string(nil), stack[start:]...), n)
			return &CycleError{Table: n, Path: path}
		}
		colors[n] = visiting
		stack = append(stack, n)
		for _, dep := range g.deps[n] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		colors[n] = visited
		out = append(out, n)
		return nil
	}

	for _, n := range g.nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Reverse returns order back to front, the safe order for deletions.
func Reverse(order []string) []string {
	out := make([]string, len(order))
	for i, t := range order {
		out[len(order)-1-i] = t
	}
	return out
}
