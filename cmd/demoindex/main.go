// Command demoindex normalizes a directory or zip archive of demographic
// tables into the indicator / combination / distances schema.
//
// Usage:
//
//	demoindex --config pipeline.json [--validate] [--metrics-backend datadog] [-v]
//	demoindex --print-aliases [--config pipeline.json]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"demoindex/internal/config"
	"demoindex/internal/demographic"
	"demoindex/internal/logging"
	"demoindex/internal/metrics"
	"demoindex/internal/metrics/datadog"
	"demoindex/internal/metrics/prompush"
	"demoindex/internal/pipeline"

	// Register every storage backend; the config picks one.
	_ "demoindex/internal/storage/all"
)

type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (pipeline.Summary, error)
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadEnv     func(path string) error
	readFile    func(path string) ([]byte, error)
	decode      func(path string, data []byte, v any) error
	initMetrics func(ctx context.Context, log *slog.Logger, m metricsConfig) (func(), error)
	newRunner   func(log *slog.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadEnv:     loadDotEnv,
		readFile:    os.ReadFile,
		decode:      config.Decode,
		initMetrics: initMetrics,
		newRunner:   func(log *slog.Logger) runner { return pipeline.NewDefaultRunner(log) },
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 on success, 2 on usage errors and
// 1 on any other failure.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fset := pflag.NewFlagSet("demoindex", pflag.ContinueOnError)
	fset.SetOutput(stderr)

	cfgPath := fset.StringP("config", "c", "", "pipeline config path (.json, .yaml or .yml)")
	validateOnly := fset.Bool("validate", false, "validate the configuration and exit")
	backend := fset.String("metrics-backend", "", "metrics backend: none, datadog or pushgateway (env METRICS_BACKEND)")
	gatewayURL := fset.String("pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	printAliases := fset.Bool("print-aliases", false, "print the alias table and exit; with --config it includes resolver.alias_file")
	envFile := fset.String("env-file", ".env", "dotenv file loaded before reading the config, if present")
	verbose := fset.BoolP("verbose", "v", false, "enable debug logs")

	if err := fset.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	path := strings.TrimSpace(*cfgPath)
	if *printAliases && path == "" {
		writeAliases(stdout, demographic.DefaultResolver())
		return 0
	}
	if path == "" {
		fmt.Fprintln(stderr, "usage: demoindex --config path/to/pipeline.json")
		return 2
	}

	if err := deps.loadEnv(*envFile); err != nil {
		fmt.Fprintf(stderr, "load env: %v\n", err)
		return 1
	}

	raw, err := deps.readFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	var cfg config.Pipeline
	if err := deps.decode(path, raw, &cfg); err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	if *printAliases {
		res, err := pipeline.NewResolver(cfg.Resolver)
		if err != nil {
			fmt.Fprintf(stderr, "alias file: %v\n", err)
			return 1
		}
		writeAliases(stdout, res)
		return 0
	}

	issues := config.ValidatePipeline(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "invalid config: %s\n", path)
		return 1
	}
	if *validateOnly {
		fmt.Fprintln(stdout, "ok")
		return 0
	}
	cfg = cfg.WithDefaults()

	log := logging.New(stderr, logging.Options{Verbose: *verbose, NoColor: !isTerminal(stderr)}).
		With("run_id", uuid.NewString())

	cleanup, err := deps.initMetrics(ctx, log, metricsConfig{
		Job:        cfg.Job,
		Backend:    firstNonEmpty(*backend, os.Getenv("METRICS_BACKEND")),
		GatewayURL: firstNonEmpty(*gatewayURL, os.Getenv("PUSHGATEWAY_URL")),
	})
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	log.Info("run started",
		"source", cfg.Source.Kind+":"+cfg.Source.Path,
		"storage", cfg.Storage.Kind,
	)
	if _, err := deps.newRunner(log).Run(ctx, cfg); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	log.Debug("run finished", "duration", time.Since(start).Truncate(time.Millisecond))

	fmt.Fprintln(stdout, "ok")
	return 0
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func writeAliases(w io.Writer, r *demographic.Resolver) {
	for _, alias := range r.Aliases() {
		id, _ := r.Resolve(alias)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", alias, id.Code, id.Group, demographic.DimensionName(id.Code))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// metricsConfig selects and configures the metrics backend.
type metricsConfig struct {
	Job        string
	Backend    string
	GatewayURL string
}

// metricsBackend is a metrics.Backend with an owned shutdown.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
)

const defaultGatewayURL = "http://localhost:9091"

// initMetrics installs the selected backend and returns its cleanup. The
// cleanup is never nil and logs, rather than returns, flush failures.
//
// Errors:
//   - unknown backend names
//   - backend construction failures (e.g. DD_API_KEY unset)
func initMetrics(ctx context.Context, log *slog.Logger, m metricsConfig) (func(), error) {
	nop := func() {}

	switch strings.ToLower(m.Backend) {
	case "", "none", "noop":
		return nop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    m.Job,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nop, err
		}
		setMetricsBackend(b)
		log.Debug("metrics enabled", "backend", "datadog")
		return func() {
			if err := b.Close(); err != nil {
				log.Error("metrics: datadog close error", "err", err)
			}
			setMetricsBackend(nil)
		}, nil

	case "pushgateway", "prometheus":
		url := firstNonEmpty(m.GatewayURL, defaultGatewayURL)
		b, err := newPushBackend(m.Job, url)
		if err != nil {
			return nop, err
		}
		setMetricsBackend(b)
		log.Debug("metrics enabled", "backend", "pushgateway", "url", url)
		return func() {
			if err := b.Flush(); err != nil {
				log.Error("metrics: pushgateway flush error", "err", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", m.Backend)
	}
}
