package load

import "demoindex/internal/storage"

// Table names written by the loader.
const (
	IndicatorTable   = "indicator"
	CombinationTable = "combination"
	EdgeTable        = "combination_indicator"
	FactTable        = "distances"
)

var (
	indicatorColumns = []string{"id", "code", "group"}
	indicatorKey     = []string{"code", "group"}
	edgeColumns      = []string{"combination_id", "indicator_id"}
	factColumns      = []string{"year", "combination_id", "indicator", "indicator_type", "value"}
)

// Tables returns the DDL specs in dependency order: referenced tables come
// before the tables that reference them.
func Tables() []storage.TableSpec {
	notNull := storage.Bool(false)
	return []storage.TableSpec{
		{
			Name:            IndicatorTable,
			AutoCreateTable: true,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: "id", Type: storage.TypeInt},
			Columns: []storage.ColumnSpec{
				{Name: "code", Type: storage.TypeText, Nullable: notNull},
				{Name: "group", Type: storage.TypeText, Nullable: notNull},
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: indicatorKey}},
		},
		{
			Name:            CombinationTable,
			AutoCreateTable: true,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: "id", Type: storage.TypeInt},
		},
		{
			Name:            EdgeTable,
			AutoCreateTable: true,
			Columns: []storage.ColumnSpec{
				{Name: "combination_id", Type: storage.TypeInt, References: CombinationTable + "(id)", Nullable: notNull},
				{Name: "indicator_id", Type: storage.TypeInt, References: IndicatorTable + "(id)", Nullable: notNull},
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: edgeColumns}},
		},
		{
			Name:            FactTable,
			AutoCreateTable: true,
			Columns: []storage.ColumnSpec{
				{Name: "year", Type: storage.TypeInt},
				{Name: "combination_id", Type: storage.TypeInt, References: CombinationTable + "(id)"},
				{Name: "indicator", Type: storage.TypeText},
				{Name: "indicator_type", Type: storage.TypeText},
				{Name: "value", Type: storage.TypeFloat},
			},
		},
	}
}
