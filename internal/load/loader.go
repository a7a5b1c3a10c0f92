// Package load writes indexed indicators, combinations and fact extracts to a
// storage.Repository.
package load

import (
	"context"
	"errors"
	"fmt"

	"demoindex/internal/extract"
	"demoindex/internal/indexer"
	"demoindex/internal/reshape"
	"demoindex/internal/storage"
)

// ErrIdentityDrift means the store already maps an indicator to a different id
// than the current run assigned.
var ErrIdentityDrift = errors.New("load: indicator id drift")

const defaultBatchSize = 1000

// Loader writes one run's output.
//
// Lookup tables (indicator, combination, combination_indicator) are written
// with insert-or-ignore and may be re-run safely. AppendFacts is a plain append:
// loading the same extract twice stores every fact twice.
//
// No transaction spans more than one batch; a failure leaves whatever earlier
// batches wrote.
type Loader struct {
	Repo  storage.Repository
	Store *extract.Store

	// BatchSize bounds rows per insert call. Zero means 1000.
	BatchSize int

	// OnBatch, when set, is called after every committed fact batch.
	OnBatch func(rows int)
}

func (l *Loader) batchSize() int {
	if l.BatchSize <= 0 {
		return defaultBatchSize
	}
	return l.BatchSize
}

// EnsureSchema creates the four tables if they do not exist.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if err := l.Repo.EnsureTables(ctx, Tables()); err != nil {
		return fmt.Errorf("load: ensure schema: %w", err)
	}
	return nil
}

// UpsertIndicators inserts indicators missing from the store and returns how
// many were new.
func (l *Loader) UpsertIndicators(ctx context.Context, indicators []indexer.Indicator) (int64, error) {
	rows := make([][]any, len(indicators))
	for i, ind := range indicators {
		rows[i] = []any{ind.ID, ind.Code, ind.Group}
	}
	return l.ensure(ctx, IndicatorTable, indicatorColumns, rows, indicatorKey)
}

func (l *Loader) UpsertCombinations(ctx context.Context, combos []indexer.Combination) (int64, error) {
	rows := make([][]any, len(combos))
	for i, c := range combos {
		rows[i] = []any{c.ID}
	}
	return l.ensure(ctx, CombinationTable, []string{"id"}, rows, []string{"id"})
}

// UpsertEdges must run after UpsertIndicators and UpsertCombinations; edges
// reference both tables.
func (l *Loader) UpsertEdges(ctx context.Context, edges []indexer.Edge) (int64, error) {
	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{e.CombinationID, e.IndicatorID}
	}
	return l.ensure(ctx, EdgeTable, edgeColumns, rows, edgeColumns)
}

func (l *Loader) ensure(ctx context.Context, table string, columns []string, rows [][]any, conflict []string) (int64, error) {
	size := l.batchSize()
	var total int64
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		n, err := l.Repo.EnsureRows(ctx, table, columns, rows[start:end], conflict)
		if err != nil {
			return total, fmt.Errorf("load: %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// AppendFacts streams the extract at path and inserts every row. It returns
// the number of rows written.
//
// Edge cases:
//   - An empty extract writes nothing.
//   - Calling it twice for the same path doubles the rows in distances.
func (l *Loader) AppendFacts(ctx context.Context, path string) (int64, error) {
	if l.Store == nil {
		return 0, fmt.Errorf("load: extract store is required")
	}
	var total int64
	err := l.Store.Scan(ctx, path, l.batchSize(), func(batch []reshape.FactRow) error {
		n, err := l.Repo.InsertFactRows(ctx, FactTable, factColumns, factRows(batch))
		total += n
		if err != nil {
			return err
		}
		if l.OnBatch != nil {
			l.OnBatch(len(batch))
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("load: %s from %s: %w", FactTable, path, err)
	}
	return total, nil
}

func factRows(batch []reshape.FactRow) [][]any {
	rows := make([][]any, len(batch))
	for i, f := range batch {
		var v any
		if f.Value.Valid {
			v = f.Value.Float64
		}
		rows[i] = []any{f.Year, f.CombinationID, f.Indicator, f.IndicatorType, v}
	}
	return rows
}

// VerifyIndicatorIDs reads back the stored (code, group) -> id mapping and
// checks it against this run's assignment.
//
// Errors:
//   - ErrIdentityDrift (wrapped) when a stored id differs, which happens when
//     a store is reused with a differently ordered input.
//   - an indicator missing from the store is a drift too.
func (l *Loader) VerifyIndicatorIDs(ctx context.Context, indicators []indexer.Indicator) error {
	stored, err := l.Repo.SelectKeyValue(ctx, IndicatorTable, indicatorKey, "id")
	if err != nil {
		return fmt.Errorf("load: read %s: %w", IndicatorTable, err)
	}
	for _, ind := range indicators {
		got, ok := stored[storage.CompositeKey(ind.Code, ind.Group)]
		if !ok {
			return fmt.Errorf("%w: %s/%s not stored", ErrIdentityDrift, ind.Code, ind.Group)
		}
		if got != ind.ID {
			return fmt.Errorf("%w: %s/%s stored as %d, assigned %d", ErrIdentityDrift, ind.Code, ind.Group, got, ind.ID)
		}
	}
	return nil
}

// ClearFacts deletes every fact row. Callers opt in explicitly before
// re-appending after a failed load.
func (l *Loader) ClearFacts(ctx context.Context) (int64, error) {
	n, err := l.Repo.DeleteAll(ctx, FactTable)
	if err != nil {
		return 0, fmt.Errorf("load: clear %s: %w", FactTable, err)
	}
	return n, nil
}

// Counts returns row counts keyed by table name.
func (l *Loader) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, t := range []string{IndicatorTable, CombinationTable, EdgeTable, FactTable} {
		n, err := l.Repo.CountRows(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("load: count %s: %w", t, err)
		}
		out[t] = n
	}
	return out, nil
}
