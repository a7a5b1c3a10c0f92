// Package extract persists reshaped fact rows as one Parquet file per source
// table, so the load pass can stream them back without keeping every table in
// memory.
package extract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"demoindex/internal/reshape"
)

// Column names in every extract file, in order.
var Columns = []string{"year", "combination_id", "indicator", "indicator_type", "value"}

var schema = arrow.NewSchema([]arrow.Field{
	{Name: "year", Type: arrow.PrimitiveTypes.Int64},
	{Name: "combination_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "indicator", Type: arrow.BinaryTypes.String},
	{Name: "indicator_type", Type: arrow.BinaryTypes.String},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// ErrSchema is returned when a file's columns do not match Columns.
var ErrSchema = errors.New("extract: unexpected file schema")

const ext = ".parquet"

// Store writes and reads extract files under Dir.
type Store struct {
	Dir string

	// RowGroupSize caps rows per Parquet row group. Zero means one group per file.
	RowGroupSize int
}

// Path returns the extract location for a table key. The key is path-escaped
// (separators included), so distinct keys never share a file and every
// extract stays directly under Dir.
func (s *Store) Path(key string) string {
	return filepath.Join(s.Dir, url.PathEscape(key)+ext)
}

// Write stores facts for key and returns the file path. The file is written
// under a temporary name and renamed into place, so a crashed run never leaves
// a truncated extract behind.
func (s *Store) Write(key string, facts []reshape.FactRow) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("extract dir: %w", err)
	}
	dst := s.Path(key)

	tmp, err := os.CreateTemp(s.Dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, tmp, props, pqarrow.DefaultWriterProps())
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("extract %s: writer: %w", key, err)
	}

	step := s.RowGroupSize
	if step <= 0 || step > len(facts) {
		step = len(facts)
	}
	for start := 0; start < len(facts); start += step {
		end := min(start+step, len(facts))
		rec := buildRecord(facts[start:end])
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			_ = fw.Close()
			cleanup()
			return "", fmt.Errorf("extract %s: write: %w", key, err)
		}
	}
	// Close also closes tmp.
	if err := fw.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("extract %s: close: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return "", fmt.Errorf("extract %s: rename: %w", key, err)
	}
	return dst, nil
}

func buildRecord(facts []reshape.FactRow) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	years := b.Field(0).(*array.Int64Builder)
	combos := b.Field(1).(*array.Int64Builder)
	inds := b.Field(2).(*array.StringBuilder)
	types := b.Field(3).(*array.StringBuilder)
	vals := b.Field(4).(*array.Float64Builder)

	for _, f := range facts {
		years.Append(f.Year)
		combos.Append(f.CombinationID)
		inds.Append(f.Indicator)
		types.Append(f.IndicatorType)
		if f.Value.Valid {
			vals.Append(f.Value.Float64)
		} else {
			vals.AppendNull()
		}
	}
	return b.NewRecord()
}

// Scan streams the rows of an extract file to fn in batches of at most
// batchSize rows. Scanning stops at the first error from fn.
func (s *Store) Scan(ctx context.Context, path string, batchSize int, fn func([]reshape.FactRow) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return fmt.Errorf("open extract %s: %w", path, err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("read extract %s: %w", path, err)
	}
	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("read extract %s: %w", path, err)
	}
	defer rr.Release()

	if err := checkSchema(rr.Schema()); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	batch := make([]reshape.FactRow, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := fn(batch)
		batch = make([]reshape.FactRow, 0, batchSize)
		return err
	}

	for rr.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := rr.Record()
		years := rec.Column(0).(*array.Int64)
		combos := rec.Column(1).(*array.Int64)
		inds := rec.Column(2).(*array.String)
		types := rec.Column(3).(*array.String)
		vals := rec.Column(4).(*array.Float64)

		for i := 0; i < int(rec.NumRows()); i++ {
			f := reshape.FactRow{
				Year:          years.Value(i),
				CombinationID: combos.Value(i),
				Indicator:     inds.Value(i),
				IndicatorType: types.Value(i),
			}
			if !vals.IsNull(i) {
				f.Value = sql.NullFloat64{Float64: vals.Value(i), Valid: true}
			}
			batch = append(batch, f)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := rr.Err(); err != nil {
		return fmt.Errorf("read extract %s: %w", path, err)
	}
	return flush()
}

func checkSchema(sc *arrow.Schema) error {
	if sc.NumFields() != len(Columns) {
		return fmt.Errorf("%w: %d columns", ErrSchema, sc.NumFields())
	}
	for i, f := range sc.Fields() {
		if f.Name != Columns[i] || !arrow.TypeEqual(f.Type, schema.Field(i).Type) {
			return fmt.Errorf("%w: column %d is %s %s", ErrSchema, i, f.Name, f.Type)
		}
	}
	return nil
}

// Remove deletes an extract file. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove extract: %w", err)
	}
	return nil
}
