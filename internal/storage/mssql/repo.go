package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"demoindex/internal/storage"
)

// SQL Server accepts at most 2100 parameters per request; stay below it.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Idempotent inserts use INSERT ... SELECT ... WHERE NOT EXISTS. Unlike
// Postgres ON CONFLICT, SQL Server does not collapse duplicate keys inside
// the VALUES source, so each batch is deduplicated before it is sent.
//
// Text columns are NVARCHAR(255) rather than NVARCHAR(MAX) because they take
// part in UNIQUE constraints.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a "sqlserver" connection pool and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates each AutoCreateTable table guarded by OBJECT_ID.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureRows inserts rows that do not already exist per conflictColumns.
//
// Rows sharing a conflict key within the input keep the first occurrence.
func (r *Repo) EnsureRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("mssql: EnsureRows %s: conflict columns are required", table)
	}
	rows, err := dedupeRowsByColumns(rows, columns, conflictColumns)
	if err != nil {
		return 0, fmt.Errorf("mssql: EnsureRows %s: %w", table, err)
	}
	return r.execChunked(ctx, table, columns, rows, func(part [][]any) (string, []any) {
		return buildInsertNotExistsSQL(table, columns, part, conflictColumns)
	})
}

// InsertFactRows appends rows with plain multi-row INSERTs.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.execChunked(ctx, table, columns, rows, func(part [][]any) (string, []any) {
		return buildBulkInsertSQL(table, columns, part)
	})
}

func (r *Repo) execChunked(ctx context.Context, table string, columns []string, rows [][]any, build func([][]any) (string, []any)) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: insert %s: columns is empty", table)
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("mssql: insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
	}

	// INSERT ... VALUES is also capped at 1000 row constructors.
	maxRows := min(1000, max(1, maxParams/len(columns)))

	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		q, args := build(rows[start:end])
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *Repo) SelectKeyValue(ctx context.Context, table string, keyColumns []string, valueColumn string) (map[string]int64, error) {
	if table == "" || len(keyColumns) == 0 || valueColumn == "" {
		return nil, fmt.Errorf("SelectKeyValue: table, keyColumns, valueColumn are required")
	}
	q := fmt.Sprintf("SELECT %s, %s FROM %s", joinIdents(keyColumns), mssqlIdent(valueColumn), mssqlTableIdent(table))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SelectKeyValue: query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	keys := make([]any, len(keyColumns))
	dest := make([]any, len(keyColumns)+1)
	for i := range keys {
		dest[i] = &keys[i]
	}
	var id int64
	dest[len(keyColumns)] = &id

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("SelectKeyValue: scan %s: %w", table, err)
		}
		out[storage.CompositeKey(keys...)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectKeyValue: rows %s: %w", table, err)
	}
	return out, nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT_BIG(*) FROM "+mssqlTableIdent(table)).Scan(&n)
	return n, err
}

func (r *Repo) DeleteAll(ctx context.Context, table string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(table))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// dedupeRowsByColumns keeps the first row for each distinct key formed by
// dedupeCols, preserving input order.
func dedupeRowsByColumns(rows [][]any, columns, dedupeCols []string) ([][]any, error) {
	idx := make([]int, len(dedupeCols))
	for i, dc := range dedupeCols {
		pos := -1
		for j, c := range columns {
			if c == dc {
				pos = j
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("dedupe column %q not present in columns", dc)
		}
		idx[i] = pos
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	parts := make([]any, len(idx))
	for _, row := range rows {
		for i, p := range idx {
			parts[i] = row[p]
		}
		k := storage.CompositeKey(parts...)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard so EnsureTables
// stays idempotent without IF NOT EXISTS syntax.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("mssql: %w", err)
	}

	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name), mssqlType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		parts = append(parts, mssqlColumnDef(c))
	}
	for _, con := range t.Constraints {
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdents(con.Columns)))
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(t.Name, "'", "''"),
		mssqlTableIdent(t.Name),
		strings.Join(parts, ", "),
	), nil
}

// mssqlColumnDef respects nullability and attaches a raw REFERENCES clause if
// provided.
func mssqlColumnDef(c storage.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(mssqlType(c.Type))
	if c.IsNullable() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}
	return b.String()
}

func mssqlType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeText:
		return "NVARCHAR(255)"
	case storage.TypeFloat:
		return "FLOAT"
	default:
		return t
	}
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildInsertNotExistsSQL materializes rows as a derived table v and inserts
// only those that do not match an existing row on dedupeColumns.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	b.WriteString(joinIdents(columns))
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")
	return b.String(), args
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(strings.TrimSpace(name), "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name.
//
// Example:
//
//	"dbo.indicator" -> [dbo].[indicator]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(parts[i])
	}
	return strings.Join(parts, ".")
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}

// dbConn is the subset of *sql.DB this package uses, so tests can record
// statements without a server.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}
