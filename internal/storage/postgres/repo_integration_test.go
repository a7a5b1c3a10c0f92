package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"demoindex/internal/storage"
)

// startPostgres runs a disposable container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestRepo_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	repo, err := storage.New(ctx, storage.Config{Kind: "postgres", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	specs := []storage.TableSpec{
		{
			Name:            "demo.indicator",
			AutoCreateTable: true,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: "id", Type: storage.TypeInt},
			Columns: []storage.ColumnSpec{
				{Name: "code", Type: storage.TypeText, Nullable: storage.Bool(false)},
				{Name: "group", Type: storage.TypeText, Nullable: storage.Bool(false)},
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"code", "group"}}},
		},
		{
			Name:            "demo.facts",
			AutoCreateTable: true,
			Columns: []storage.ColumnSpec{
				{Name: "indicator_id", Type: storage.TypeInt, References: `demo.indicator(id)`},
				{Name: "value", Type: storage.TypeFloat},
			},
		},
	}
	require.NoError(t, repo.EnsureTables(ctx, specs))
	require.NoError(t, repo.EnsureTables(ctx, specs))

	cols := []string{"id", "code", "group"}
	rows := [][]any{{int64(0), "gen", "female"}, {int64(1), "cit", "ger"}}
	n, err := repo.EnsureRows(ctx, "demo.indicator", cols, rows, []string{"code", "group"})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = repo.EnsureRows(ctx, "demo.indicator", cols, rows, []string{"code", "group"})
	require.NoError(t, err)
	require.Zero(t, n)

	kv, err := repo.SelectKeyValue(ctx, "demo.indicator", []string{"code", "group"}, "id")
	require.NoError(t, err)
	require.Equal(t, int64(1), kv[storage.CompositeKey("cit", "ger")])

	facts := [][]any{{int64(0), 0.5}, {int64(1), nil}}
	for range 2 {
		n, err = repo.InsertFactRows(ctx, "demo.facts", []string{"indicator_id", "value"}, facts)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
	}
	count, err := repo.CountRows(ctx, "demo.facts")
	require.NoError(t, err)
	require.Equal(t, int64(4), count)

	deleted, err := repo.DeleteAll(ctx, "demo.facts")
	require.NoError(t, err)
	require.Equal(t, int64(4), deleted)
}
