// Package pipeline runs the two passes of a normalization run.
//
// The transform pass walks the input tables in enumeration order and, for
// every table whose key resolves, normalizes and reshapes it into a fact
// extract while the indexer collects indicators and combinations. The load
// pass then writes lookup rows (indicators, combinations, edges) and appends
// every extract to the fact table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"demoindex/internal/archive"
	"demoindex/internal/config"
	"demoindex/internal/demographic"
	"demoindex/internal/extract"
	"demoindex/internal/indexer"
	"demoindex/internal/load"
	"demoindex/internal/metrics"
	"demoindex/internal/reshape"
	"demoindex/internal/table"
)

// Step names used in logs (stage=...) and step metrics.
const (
	StepTransform = "transform"
	StepLoadDims  = "load_dims"
	StepLoadFacts = "load_facts"
)

// ReadFn parses one archive entry into a raw wide table.
type ReadFn func(ctx context.Context, e archive.Entry, opt config.Options) (*table.Table, error)

// Engine holds the collaborators of one run. Resolver, Store and Loader are
// required; the rest have defaults.
type Engine struct {
	Resolver   *demographic.Resolver
	Normalizer *table.Normalizer
	Store      *extract.Store
	Loader     *load.Loader
	Logger     *slog.Logger

	// ParserOptions are passed to Read for every entry.
	ParserOptions config.Options
	Runtime       config.RuntimeConfig

	// Read is a seam for tests. When nil, archive.ReadTable is used.
	Read ReadFn
}

// Extract is one table written by the transform pass.
type Extract struct {
	Key     string
	Ordinal int
	Path    string
	Rows    int
}

// TransformResult is the output of the transform pass.
type TransformResult struct {
	Index    *indexer.Indexer
	Extracts []Extract
	Skipped  []string // keys that resolved to no identity
}

// Summary reports what a run did.
type Summary struct {
	Tables  int
	Skipped int

	NewIndicators   int64
	NewCombinations int64
	NewEdges        int64
	Facts           int64
	ClearedFacts    int64

	// Counts are the row totals per table after the load.
	Counts map[string]int64
}

// Run executes the transform pass over entries and then the load pass.
func (e *Engine) Run(ctx context.Context, entries []archive.Entry) (Summary, error) {
	if err := e.check(); err != nil {
		return Summary{}, err
	}
	res, err := e.Transform(ctx, entries)
	if err != nil {
		return Summary{}, err
	}
	return e.Load(ctx, res)
}

func (e *Engine) check() error {
	switch {
	case e.Resolver == nil:
		return errors.New("pipeline: Resolver is required")
	case e.Store == nil:
		return errors.New("pipeline: Store is required")
	case e.Loader == nil:
		return errors.New("pipeline: Loader is required")
	}
	return nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

func (e *Engine) normalizer() *table.Normalizer {
	if e.Normalizer == nil {
		return table.NewNormalizer()
	}
	return e.Normalizer
}

func (e *Engine) read(ctx context.Context, entry archive.Entry) (*table.Table, error) {
	if e.Read != nil {
		return e.Read(ctx, entry, e.ParserOptions)
	}
	return archive.ReadTable(ctx, entry, e.ParserOptions)
}

// timed runs fn and records it as a pipeline step.
func timed(step string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep(step, status, time.Since(start))
	return err
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Transform processes entries in order. The ordinal of entries[i] is i, so a
// skipped table still consumes its position.
//
// Edge cases:
//   - A key that is blank, or whose tokens all fail to resolve, is skipped and
//     logged at debug level; it is not an error.
//   - Unresolved tokens next to resolved ones are dropped.
//
// Errors:
//   - Any read, normalize, reshape or extract failure aborts the pass; the
//     error names the table key.
func (e *Engine) Transform(ctx context.Context, entries []archive.Entry) (*TransformResult, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	log := e.logger().With("stage", StepTransform)
	res := &TransformResult{Index: indexer.New()}

	start := time.Now()
	err := timed(StepTransform, func() error {
		for i, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids, ok := e.resolve(log, entry.Key)
			if !ok {
				res.Skipped = append(res.Skipped, entry.Key)
				metrics.RecordTable(metrics.TableSkipped)
				continue
			}
			x, err := e.transformOne(ctx, i, entry)
			if err != nil {
				metrics.RecordTable(metrics.TableFailed)
				return err
			}
			res.Index.Observe(i, ids)
			res.Extracts = append(res.Extracts, x)
			metrics.RecordTable(metrics.TableTransformed)
			log.Debug("table transformed", "key", entry.Key, "ordinal", i, "facts", x.Rows)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("ok",
		"tables", len(res.Extracts),
		"skipped", len(res.Skipped),
		"indicators", len(res.Index.Indicators()),
		"duration", durMS(start),
	)
	return res, nil
}

// resolve tokenizes key and maps its tokens to identities. ok is false when
// the table must be skipped.
func (e *Engine) resolve(log *slog.Logger, key string) ([]demographic.Identity, bool) {
	tokens, err := demographic.Tokenize(key)
	if err != nil {
		log.Debug("table skipped", "key", key, "err", err)
		return nil, false
	}
	ids, unresolved := e.Resolver.ResolveAll(tokens)
	if len(ids) == 0 {
		log.Debug("table skipped: no token resolved", "key", key, "tokens", tokens)
		return nil, false
	}
	if len(unresolved) > 0 {
		log.Debug("tokens dropped", "key", key, "unresolved", unresolved)
	}
	return ids, true
}

func (e *Engine) transformOne(ctx context.Context, ordinal int, entry archive.Entry) (Extract, error) {
	raw, err := e.read(ctx, entry)
	if err != nil {
		return Extract{}, fmt.Errorf("transform %s: read: %w", entry.Key, err)
	}
	norm, err := e.normalizer().Normalize(raw)
	if err != nil {
		return Extract{}, fmt.Errorf("transform %s: %w", entry.Key, err)
	}
	if dups := norm.DuplicateColumns(); len(dups) > 0 {
		e.logger().Warn("duplicate columns after normalization, first one used", "key", entry.Key, "columns", dups)
	}
	facts, err := reshape.Reshape(norm, ordinal)
	if err != nil {
		return Extract{}, fmt.Errorf("transform %s: %w", entry.Key, err)
	}
	path, err := e.Store.Write(entry.Key, facts)
	if err != nil {
		return Extract{}, fmt.Errorf("transform %s: %w", entry.Key, err)
	}
	return Extract{Key: entry.Key, Ordinal: ordinal, Path: path, Rows: len(facts)}, nil
}

// Load writes res to the store: schema, lookup rows, optional id check and
// fact clearing, then one append per extract.
//
// Errors:
//   - Every repository error is returned as is (already prefixed "load:");
//     rows written by earlier batches stay in place.
func (e *Engine) Load(ctx context.Context, res *TransformResult) (Summary, error) {
	if err := e.check(); err != nil {
		return Summary{}, err
	}
	sum := Summary{Tables: len(res.Extracts), Skipped: len(res.Skipped)}

	if err := e.loadDims(ctx, res, &sum); err != nil {
		return sum, err
	}
	if err := e.loadFacts(ctx, res, &sum); err != nil {
		return sum, err
	}

	counts, err := e.Loader.Counts(ctx)
	if err != nil {
		return sum, err
	}
	sum.Counts = counts
	e.logger().Info("run complete",
		"tables", sum.Tables,
		"skipped", sum.Skipped,
		load.IndicatorTable, counts[load.IndicatorTable],
		load.CombinationTable, counts[load.CombinationTable],
		load.EdgeTable, counts[load.EdgeTable],
		load.FactTable, counts[load.FactTable],
	)
	return sum, nil
}

func (e *Engine) loadDims(ctx context.Context, res *TransformResult, sum *Summary) error {
	log := e.logger().With("stage", StepLoadDims)
	start := time.Now()
	indicators := res.Index.Indicators()

	err := timed(StepLoadDims, func() error {
		if err := e.Loader.EnsureSchema(ctx); err != nil {
			return err
		}
		var err error
		if sum.NewIndicators, err = e.Loader.UpsertIndicators(ctx, indicators); err != nil {
			return err
		}
		if sum.NewCombinations, err = e.Loader.UpsertCombinations(ctx, res.Index.Combinations()); err != nil {
			return err
		}
		if sum.NewEdges, err = e.Loader.UpsertEdges(ctx, res.Index.Edges()); err != nil {
			return err
		}
		if e.Runtime.ShouldVerifyIDs() {
			return e.Loader.VerifyIndicatorIDs(ctx, indicators)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RecordRecords("indicators", sum.NewIndicators)
	metrics.RecordRecords("combinations", sum.NewCombinations)
	metrics.RecordRecords("edges", sum.NewEdges)
	log.Info("ok",
		"new_indicators", sum.NewIndicators,
		"new_combinations", sum.NewCombinations,
		"new_edges", sum.NewEdges,
		"duration", durMS(start),
	)
	return nil
}

func (e *Engine) loadFacts(ctx context.Context, res *TransformResult, sum *Summary) error {
	log := e.logger().With("stage", StepLoadFacts)
	start := time.Now()

	err := timed(StepLoadFacts, func() error {
		if e.Runtime.ClearFacts {
			n, err := e.Loader.ClearFacts(ctx)
			if err != nil {
				return err
			}
			sum.ClearedFacts = n
			log.Warn("existing facts cleared", "rows", n)
		}
		for _, x := range res.Extracts {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := e.Loader.AppendFacts(ctx, x.Path)
			sum.Facts += n
			metrics.RecordRecords("facts", n)
			if err != nil {
				return err
			}
			log.Debug("extract loaded", "key", x.Key, "rows", n)
			if e.Runtime.RemoveExtracts {
				if err := e.Store.Remove(x.Path); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("ok", "facts", sum.Facts, "extracts", len(res.Extracts), "duration", durMS(start))
	return nil
}
