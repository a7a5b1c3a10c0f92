package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"demoindex/internal/storage"
)

// maxParams stays under the protocol limit of 65535 bind parameters.
const maxParams = 60000

/*
Repo implements storage.Repository for Postgres.

It provides:
  - Idempotent lookup-table inserts via INSERT ... ON CONFLICT DO NOTHING
  - Fact appends via the COPY protocol
  - Key/id reads for identity verification

Table names may be schema-qualified ("demo.indicator"); the schema is created
on demand by EnsureTables.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pgx pool for cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureRows inserts rows with ON CONFLICT (conflictColumns) DO NOTHING,
// chunked to respect the bind parameter limit. The conflict target names
// conflictColumns only, so a primary key collision on other columns is an
// error rather than a skipped row.
func (r *Repo) EnsureRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("postgres: EnsureRows %s: conflict columns are required", table)
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: EnsureRows %s: columns is empty", table)
	}

	per := max(1, maxParams/len(columns))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(table, columns, rows[start:end], conflictColumns)
		if err != nil {
			return total, err
		}
		tag, err := r.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("postgres: insert %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// InsertFactRows appends rows using COPY FROM. Nothing is deduplicated.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("postgres: copy %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
	}
	n, err := r.pool.CopyFrom(ctx, copyIdentifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) SelectKeyValue(ctx context.Context, table string, keyColumns []string, valueColumn string) (map[string]int64, error) {
	if table == "" || len(keyColumns) == 0 || valueColumn == "" {
		return nil, fmt.Errorf("SelectKeyValue: table, keyColumns, valueColumn are required")
	}

	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, joinIdents(keyColumns), pgIdent(valueColumn), pgTableIdent(table))
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SelectKeyValue: query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("SelectKeyValue: scan %s: %w", table, err)
		}
		id, ok := asInt64(vals[len(keyColumns)])
		if !ok {
			return nil, fmt.Errorf("SelectKeyValue: %s.%s is not an integer: %v", table, valueColumn, vals[len(keyColumns)])
		}
		out[storage.CompositeKey(vals[:len(keyColumns)]...)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectKeyValue: rows %s: %w", table, err)
	}
	return out, nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgTableIdent(table)).Scan(&n)
	return n, err
}

func (r *Repo) DeleteAll(ctx context.Context, table string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+pgTableIdent(table))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	default:
		return 0, false
	}
}

// buildInsertSQL constructs a single INSERT ... ON CONFLICT DO NOTHING
// statement and its args.
//
// Constraints:
//   - every row must have len(columns) values.
//   - columns and conflictColumns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("postgres: insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdents(conflictColumns))
	b.WriteString(") DO NOTHING;")
	return b.String(), args, nil
}

// buildCreateSQL returns the optional CREATE SCHEMA statement and the
// CREATE TABLE statement for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(t.PrimaryKey.Name), pgType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		defs = append(defs, buildColumnDef(c))
	}
	for _, con := range t.Constraints {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", joinIdents(con.Columns)))
	}
	if len(defs) == 0 {
		return "", "", fmt.Errorf("table %s: no columns", t.Name)
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTableIdent(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}

// buildColumnDef renders a single column definition. Foreign key references
// are emitted inline.
func buildColumnDef(c storage.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(pgIdent(strings.TrimSpace(c.Name)))
	b.WriteString(" ")
	b.WriteString(pgType(c.Type))
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}
	return b.String()
}

func pgType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeText:
		return "TEXT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	default:
		return t
	}
}

// splitQualifiedName splits "schema.table" into its parts. Anything other than
// exactly one dot is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func copyIdentifier(name string) pgx.Identifier {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{strings.TrimSpace(name)}
}

func pgTableIdent(name string) string {
	return copyIdentifier(name).Sanitize()
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(strings.TrimSpace(c))
	}
	return strings.Join(out, ", ")
}
