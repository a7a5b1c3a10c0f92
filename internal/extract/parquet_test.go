package extract

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"demoindex/internal/reshape"
)

func sampleFacts(n int) []reshape.FactRow {
	out := make([]reshape.FactRow, n)
	for i := range out {
		out[i] = reshape.FactRow{
			Year:          int64(1990 + i),
			CombinationID: 3,
			Indicator:     "gen_d50",
			IndicatorType: reshape.TypeNoMobilization,
		}
		if i%3 != 0 {
			out[i].Value = sql.NullFloat64{Float64: float64(i) / 10, Valid: true}
		}
	}
	return out
}

func TestStore_WriteThenScanInBatches(t *testing.T) {
	t.Parallel()

	s := &Store{Dir: filepath.Join(t.TempDir(), "d"), RowGroupSize: 4}
	facts := sampleFacts(10)

	path, err := s.Write("female_german_east", facts)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.Dir, "female_german_east.parquet"), path)

	var batches [][]reshape.FactRow
	err = s.Scan(context.Background(), path, 3, func(b []reshape.FactRow) error {
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)

	var got []reshape.FactRow
	for _, b := range batches {
		require.LessOrEqual(t, len(b), 3)
		got = append(got, b...)
	}
	require.Equal(t, facts, got)

	// No temporary files left behind.
	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_EmptyExtract(t *testing.T) {
	t.Parallel()

	s := &Store{Dir: t.TempDir()}
	path, err := s.Write("male", nil)
	require.NoError(t, err)

	calls := 0
	require.NoError(t, s.Scan(context.Background(), path, 10, func([]reshape.FactRow) error {
		calls++
		return nil
	}))
	require.Zero(t, calls)
}

func TestStore_ScanStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	s := &Store{Dir: t.TempDir()}
	path, err := s.Write("east", sampleFacts(5))
	require.NoError(t, err)

	boom := errors.New("boom")
	calls := 0
	err = s.Scan(context.Background(), path, 2, func([]reshape.FactRow) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestStore_PathAndRemove(t *testing.T) {
	t.Parallel()

	s := &Store{Dir: t.TempDir()}
	require.Equal(t, filepath.Join(s.Dir, "a%2Fb.parquet"), s.Path("a/b"))
	require.Equal(t, filepath.Join(s.Dir, "..%2Fx.parquet"), s.Path("../x"))
	require.Equal(t, filepath.Join(s.Dir, "a%5Cb.parquet"), s.Path(`a\b`))

	path, err := s.Write("west", sampleFacts(1))
	require.NoError(t, err)
	require.NoError(t, s.Remove(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, s.Remove(path))
}

func TestStore_PathIsDistinctPerKey(t *testing.T) {
	t.Parallel()

	s := &Store{Dir: t.TempDir()}
	keys := []string{"female_east..v2", "female_east_v2", "female_east__v2", "a/b", "a_b", `a\b`, "a%2Fb", "..", "."}
	seen := map[string]string{}
	for _, k := range keys {
		p := s.Path(k)
		require.Equal(t, s.Dir, filepath.Dir(p), k)
		prev, dup := seen[p]
		require.False(t, dup, "%q and %q share %s", prev, k, p)
		seen[p] = k
	}

	// Writing two keys that used to collide keeps both extracts intact.
	p1, err := s.Write("female_east..v2", sampleFacts(1))
	require.NoError(t, err)
	p2, err := s.Write("female_east_v2", sampleFacts(2))
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)

	count := func(path string) int {
		n := 0
		require.NoError(t, s.Scan(context.Background(), path, 10, func(b []reshape.FactRow) error {
			n += len(b)
			return nil
		}))
		return n
	}
	require.Equal(t, 1, count(p1))
	require.Equal(t, 2, count(p2))
}

func TestStore_ScanMissingFile(t *testing.T) {
	t.Parallel()

	s := &Store{Dir: t.TempDir()}
	err := s.Scan(context.Background(), filepath.Join(s.Dir, "nope.parquet"), 10, func([]reshape.FactRow) error { return nil })
	require.Error(t, err)
}
