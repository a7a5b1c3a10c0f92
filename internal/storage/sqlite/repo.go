package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"demoindex/internal/storage"
)

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766 since SQLite 3.32).
const maxParams = 32000

// Repo implements storage.Repository for SQLite.
//
// Key design points:
//   - The pool is capped at one connection so PRAGMA foreign_keys=ON, which
//     SQLite scopes per connection, applies to every statement.
//   - EnsureRows uses INSERT OR IGNORE, which relies on the UNIQUE/PK
//     constraints created by EnsureTables rather than an explicit target.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a path or file: URI) and enables WAL and
// foreign key enforcement.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables runs CREATE TABLE IF NOT EXISTS for each spec with
// AutoCreateTable set.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureRows inserts rows with INSERT OR IGNORE. conflictColumns only has to
// be non-empty; SQLite resolves conflicts against every unique constraint.
func (r *Repo) EnsureRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("sqlite: EnsureRows %s: conflict columns are required", table)
	}
	return r.insertChunked(ctx, "INSERT OR IGNORE INTO ", table, columns, rows)
}

// InsertFactRows appends rows with plain multi-row INSERTs.
func (r *Repo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return r.insertChunked(ctx, "INSERT INTO ", table, columns, rows)
}

func (r *Repo) insertChunked(ctx context.Context, prefix, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: insert %s: columns is empty", table)
	}

	per := max(1, maxParams/len(columns))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(prefix, table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *Repo) SelectKeyValue(ctx context.Context, table string, keyColumns []string, valueColumn string) (map[string]int64, error) {
	if len(keyColumns) == 0 {
		return nil, fmt.Errorf("sqlite: SelectKeyValue %s: key columns are required", table)
	}
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, joinIdentList(keyColumns), sqlIdent(valueColumn), sqlIdent(table))
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
	var id sql.NullInt64
	dest[len(keyColumns)] = &id

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if !id.Valid {
			return nil, fmt.Errorf("sqlite: %s.%s is NULL", table, valueColumn)
		}
		out[storage.CompositeKey(keys...)] = id.Int64
	}
	return out, rows.Err()
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqlIdent(table)).Scan(&n)
	return n, err
}

func (r *Repo) DeleteAll(ctx context.Context, table string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+sqlIdent(table))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

func sqliteType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeInt, "integer", "bigint":
		return "INTEGER"
	case storage.TypeText:
		return "TEXT"
	case storage.TypeFloat, "double", "real":
		return "REAL"
	default:
		return t
	}
}

// buildCreateTableSQL generates CREATE TABLE IF NOT EXISTS DDL.
//
// An integer primary key becomes "INTEGER PRIMARY KEY", SQLite's rowid alias,
// which accepts the explicit ids the loader supplies.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	var parts []string

	if t.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), sqliteType(t.PrimaryKey.Type)))
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		// Enforcement depends on PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}
	for _, con := range t.Constraints {
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL builds one multi-row INSERT. Every row must have
// len(columns) values.
func buildInsertSQL(prefix, table string, columns []string, rows [][]any) (string, []any, error) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("sqlite: insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}
