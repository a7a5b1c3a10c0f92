//go:build cgo

package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"demoindex/internal/storage"
)

const maxParams = 30000

// Repo implements storage.Repository for an embedded DuckDB file. An empty
// DSN opens an in-memory database.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("duckdb", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		stmts, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			if _, err := r.db.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("duckdb: create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// EnsureRows inserts with ON CONFLICT (conflictColumns) DO NOTHING.
func (r *Repo) EnsureRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("duckdb: EnsureRows %s: conflict columns are required", table)
	}
	suffix := " ON CONFLICT (" + joinIdents(conflictColumns) + ") DO NOTHING"
	return r.insertChunked(ctx, table, columns, rows, suffix)
}

func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.insertChunked(ctx, table, columns, rows, "")
}

func (r *Repo) insertChunked(ctx context.Context, table string, columns []string, rows [][]any, suffix string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("duckdb: insert %s: columns is empty", table)
	}
	per := max(1, maxParams/len(columns))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		res, err := r.db.ExecContext(ctx, q+suffix, args...)
		if err != nil {
			return total, fmt.Errorf("duckdb: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *Repo) SelectKeyValue(ctx context.Context, table string, keyColumns []string, valueColumn string) (map[string]int64, error) {
	if len(keyColumns) == 0 {
		return nil, fmt.Errorf("duckdb: SelectKeyValue %s: key columns are required", table)
	}
	q := fmt.Sprintf("SELECT %s, %s FROM %s", joinIdents(keyColumns), ident(valueColumn), tableIdent(table))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	keys := make([]any, len(keyColumns))
	dest := make([]any, len(keyColumns)+1)
	for i := range keys {
		dest[i] = &keys[i]
	}
	var id int64
	dest[len(keyColumns)] = &id
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out[storage.CompositeKey(keys...)] = id
	}
	return out, rows.Err()
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableIdent(table)).Scan(&n)
	return n, err
}

func (r *Repo) DeleteAll(ctx context.Context, table string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+tableIdent(table))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func duckType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeText:
		return "VARCHAR"
	case storage.TypeFloat:
		return "DOUBLE"
	default:
		return t
	}
}

// buildCreateSQL returns an optional CREATE SCHEMA followed by CREATE TABLE.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var stmts []string
	if i := strings.Index(t.Name, "."); i > 0 {
		stmts = append(stmts, "CREATE SCHEMA IF NOT EXISTS "+ident(t.Name[:i]))
	}

	var defs []string
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf("%s %s PRIMARY KEY", ident(t.PrimaryKey.Name), duckType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		d := ident(c.Name) + " " + duckType(c.Type)
		if !c.IsNullable() {
			d += " NOT NULL"
		}
		if c.References != "" {
			d += " REFERENCES " + c.References
		}
		defs = append(defs, d)
	}
	for _, con := range t.Constraints {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", joinIdents(con.Columns)))
	}
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tableIdent(t.Name), strings.Join(defs, ", ")))
	return stmts, nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any, error) {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", tableIdent(table), joinIdents(columns))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("duckdb: insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}

func ident(s string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(s), `"`, `""`) + `"`
}

func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = ident(parts[i])
	}
	return strings.Join(parts, ".")
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}
