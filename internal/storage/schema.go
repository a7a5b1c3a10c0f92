// TableSpec lives here so the loader and every backend can share it without import cycles.
package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Backends translate them to their dialect; any other
// string is emitted verbatim.
const (
	TypeInt   = "int"
	TypeText  = "text"
	TypeFloat = "float"
)

type TableSpec struct {
	Name            string           `json:"name"`
	AutoCreateTable bool             `json:"auto_create_table"`
	PrimaryKey      *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns         []ColumnSpec     `json:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty"`
}

// PrimaryKeySpec declares a caller-assigned primary key column.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	References string `json:"references,omitempty"` // e.g. "indicator(id)"
	Nullable   *bool  `json:"nullable,omitempty"`
}

// IsNullable reports whether the column accepts NULL (the default).
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// Validate checks the parts of a spec every backend relies on.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if t.PrimaryKey != nil && strings.TrimSpace(t.PrimaryKey.Name) == "" {
		return fmt.Errorf("%s: primary key name is empty", t.Name)
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%s: column name is empty", t.Name)
		}
		if strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("%s: column %s type is empty", t.Name, c.Name)
		}
	}
	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
	}
	return nil
}

// Bool is a small helper for ColumnSpec.Nullable literals.
func Bool(b bool) *bool { return &b }
