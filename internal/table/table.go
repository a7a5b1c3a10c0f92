// Package table holds the in-memory wide table read from one archive entry and
// the column normalization applied before reshaping.
package table

import "fmt"

// Table is one wide-format source table. Every row has len(Columns) cells;
// a cell is nil, a string, or a number decoded by the source parser.
type Table struct {
	Key     string
	Columns []string
	Rows    [][]any
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// DuplicateColumns returns, in header order, each name that appears more than
// once. Index only ever sees the first of them.
func (t *Table) DuplicateColumns() []string {
	seen := make(map[string]int, len(t.Columns))
	var dups []string
	for _, c := range t.Columns {
		seen[c]++
		if seen[c] == 2 {
			dups = append(dups, c)
		}
	}
	return dups
}

// Validate checks that every row matches the header width.
func (t *Table) Validate() error {
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("table %s: row %d has %d cells, header has %d", t.Key, i, len(r), len(t.Columns))
		}
	}
	return nil
}
