package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"demoindex/internal/archive"
	"demoindex/internal/config"
	"demoindex/internal/demographic"
	"demoindex/internal/extract"
	"demoindex/internal/load"
	"demoindex/internal/metrics"
	"demoindex/internal/storage"
	"demoindex/internal/table"
)

// Runner builds an Engine from a pipeline config and runs it. Storage
// backends must be registered by the caller (see internal/storage/all).
type Runner struct {
	// NewRepository is a seam for tests. When nil, storage.New is used.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	Logger *slog.Logger
}

func NewDefaultRunner(logger *slog.Logger) *Runner {
	return &Runner{NewRepository: storage.New, Logger: logger}
}

// Run executes one normalization run.
//
// Errors:
//   - config validation errors, joined
//   - alias file, source, or storage setup failures
//   - any transform or load failure from Engine.Run
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (Summary, error) {
	if err := validate(cfg); err != nil {
		return Summary{}, err
	}
	cfg = cfg.WithDefaults()

	resolver, err := NewResolver(cfg.Resolver)
	if err != nil {
		return Summary{}, err
	}

	src, err := archive.Open(cfg.Source)
	if err != nil {
		return Summary{}, err
	}
	defer src.Close()

	newRepo := r.NewRepository
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, storage.Config{
		Kind: cfg.Storage.Kind,
		DSN:  os.ExpandEnv(cfg.Storage.DB.DSN),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("storage %s: %w", cfg.Storage.Kind, err)
	}
	defer repo.Close()

	store := &extract.Store{Dir: cfg.Extract.Dir, RowGroupSize: cfg.Runtime.BatchSize}
	engine := &Engine{
		Resolver:   resolver,
		Normalizer: table.NewNormalizer(),
		Store:      store,
		Loader: &load.Loader{
			Repo:      repo,
			Store:     store,
			BatchSize: cfg.Runtime.BatchSize,
			OnBatch:   func(int) { metrics.RecordBatch() },
		},
		Logger:        r.Logger,
		ParserOptions: cfg.Parser.Options,
		Runtime:       cfg.Runtime,
	}
	if engine.Logger != nil {
		engine.Logger = engine.Logger.With("job", cfg.Job)
	}
	return engine.Run(ctx, src.Entries())
}

func validate(cfg config.Pipeline) error {
	var errs []error
	for _, iss := range config.ValidatePipeline(cfg) {
		if iss.Severity == config.SeverityError {
			errs = append(errs, errors.New(iss.String()))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NewResolver returns the default resolver extended by rc.AliasFile, which may
// reference environment variables.
func NewResolver(rc config.ResolverConfig) (*demographic.Resolver, error) {
	path := strings.TrimSpace(os.ExpandEnv(rc.AliasFile))
	if path == "" {
		return demographic.DefaultResolver(), nil
	}
	extra, err := demographic.LoadAliasFile(path)
	if err != nil {
		return nil, err
	}
	return demographic.NewResolver(extra), nil
}
