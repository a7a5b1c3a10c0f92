package table

import (
	"errors"
	"fmt"
	"strings"
)

// Rule rewrites every occurrence of From in a column name to To.
type Rule struct {
	From string
	To   string
}

// DefaultRules are applied in order. "res.inc" must run before anything that
// could consume part of it, and "si.in." is stripped last.
var DefaultRules = []Rule{
	{From: "age5", To: "age"},
	{From: "inc3", To: "inc"},
	{From: "res.edu", To: "edu"},
	{From: "res.inc", To: "inc"},
	{From: "res.age", To: "age"},
	{From: "si.in.", To: ""},
}

// TimeColumn is the canonical name of the year column.
const TimeColumn = "year"

// ErrNoTimeColumn is returned when a table has no year column after rewriting.
var ErrNoTimeColumn = errors.New("table: missing time column")

// Normalizer rewrites column names and drops rows without a time value.
//
// When to use:
//   - Always before reshape.Reshape; column names are how tracked indicators
//     are located.
//
// Edge cases:
//   - Rules are applied sequentially to each name, so a later rule sees the
//     output of earlier ones.
//   - Two columns that normalize to the same name (age and age5) are both
//     kept and lookups use the first. Table.DuplicateColumns reports them.
type Normalizer struct {
	Rules      []Rule
	TimeColumn string
}

// NewNormalizer returns a Normalizer using DefaultRules and TimeColumn.
func NewNormalizer() *Normalizer {
	return &Normalizer{Rules: DefaultRules, TimeColumn: TimeColumn}
}

// Column applies all rules to a single column name.
func (n *Normalizer) Column(name string) string {
	for _, r := range n.Rules {
		if r.From == "" {
			continue
		}
		name = strings.ReplaceAll(name, r.From, r.To)
	}
	return name
}

// Normalize returns a new table with rewritten column names and only the rows
// that have a time value. The input table is not modified.
//
// Errors:
//   - ErrNoTimeColumn (wrapped) when the time column is absent.
func (n *Normalizer) Normalize(t *Table) (*Table, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	timeCol := n.TimeColumn
	if timeCol == "" {
		timeCol = TimeColumn
	}

	out := &Table{Key: t.Key, Columns: make([]string, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = n.Column(c)
	}

	ti := out.Index(timeCol)
	if ti < 0 {
		return nil, fmt.Errorf("%w: table %s has no %q column", ErrNoTimeColumn, t.Key, timeCol)
	}

	out.Rows = make([][]any, 0, len(t.Rows))
	for _, r := range t.Rows {
		if IsMissing(r[ti]) {
			continue
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}
