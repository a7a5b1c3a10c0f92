// Package reshape converts normalized wide tables into long-form fact rows.
package reshape

import (
	"database/sql"
	"fmt"

	"demoindex/internal/table"
)

// Indicator type labels stored in FactRow.IndicatorType.
const (
	TypeHomogeneity          = "Homogeneity"
	TypeNoMobilization       = "No mobilization"
	TypeClassMobilization    = "Class mobilization"
	TypeIdentityMobilization = "Identity mobilization"
)

// FactRow is one long-form observation: the value of one tracked column in
// one year of one combination.
type FactRow struct {
	Year          int64
	CombinationID int64
	Indicator     string
	IndicatorType string
	Value         sql.NullFloat64
}

// Group is a labelled set of tracked source columns.
type Group struct {
	Type    string
	Columns []string
}

var taxonomy = []Group{
	{Type: TypeHomogeneity, Columns: []string{"female", "german", "east", "edu", "inc", "age"}},
	{Type: TypeNoMobilization, Columns: []string{"gen_d50", "cit_d50", "edu_d50", "loc_d50", "inc_d50", "age_d50"}},
	{Type: TypeClassMobilization, Columns: []string{"gen_d25", "cit_d25", "edu_d25", "loc_d25", "inc_d25", "age_d25"}},
	{Type: TypeIdentityMobilization, Columns: []string{"gen_d75", "cit_d75", "edu_d75", "loc_d75", "inc_d75", "age_d75"}},
}

// Taxonomy returns the tracked column groups in emission order.
func Taxonomy() []Group {
	out := make([]Group, len(taxonomy))
	for i, g := range taxonomy {
		out[i] = Group{Type: g.Type, Columns: append([]string(nil), g.Columns...)}
	}
	return out
}

// TrackedColumns returns the number of tracked source columns.
func TrackedColumns() int {
	n := 0
	for _, g := range taxonomy {
		n += len(g.Columns)
	}
	return n
}

// Reshape emits one FactRow per (source row, tracked column present in t).
//
// Rows are grouped by taxonomy order first, then by column, then by source row.
// Tracked columns missing from t are skipped silently. t must already be
// normalized (canonical names, no missing years).
//
// Errors:
//   - the year column is absent or a year is not integral
//   - a score cell is neither missing nor numeric
func Reshape(t *table.Table, combinationID int) ([]FactRow, error) {
	yi := t.Index(table.TimeColumn)
	if yi < 0 {
		return nil, fmt.Errorf("reshape %s: %w", t.Key, table.ErrNoTimeColumn)
	}

	years := make([]int64, len(t.Rows))
	for i, r := range t.Rows {
		y, err := table.ParseYear(r[yi])
		if err != nil {
			return nil, fmt.Errorf("reshape %s: row %d: %w", t.Key, i, err)
		}
		years[i] = y
	}

	out := make([]FactRow, 0, len(t.Rows)*TrackedColumns())
	for _, g := range taxonomy {
		for _, col := range g.Columns {
			ci := t.Index(col)
			if ci < 0 {
				continue
			}
			for i, r := range t.Rows {
				v, err := table.ParseValue(r[ci])
				if err != nil {
					return nil, fmt.Errorf("reshape %s: row %d column %s: %w", t.Key, i, col, err)
				}
				out = append(out, FactRow{
					Year:          years[i],
					CombinationID: int64(combinationID),
					Indicator:     col,
					IndicatorType: g.Type,
					Value:         v,
				})
			}
		}
	}
	return out, nil
}
