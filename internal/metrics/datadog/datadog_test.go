package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/stretchr/testify/require"

	"demoindex/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// newTestBackend builds a backend whose loop never ticks.
func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:   "job1",
		submitter: fs,
		now:       func() time.Time { return time.Unix(1000, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func findSeries(p datadogV2.MetricPayload, metric string, tag string) (datadogV2.MetricSeries, bool) {
	for _, s := range p.Series {
		if s.Metric == metric && (tag == "" || slices.Contains(s.Tags, tag)) {
			return s, true
		}
	}
	return datadogV2.MetricSeries{}, false
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	t.Parallel()

	require.NoError(t, wrapInitErr(nil))

	in := errors.New("boom")
	got := wrapInitErr(in)
	require.ErrorIs(t, got, in)
	require.True(t, strings.HasPrefix(got.Error(), "datadog metrics init:"), got.Error())
}

func TestNewBackend_RequiresAPIKey(t *testing.T) {
	t.Setenv("DD_API_KEY", "")

	_, err := NewBackend(context.Background(), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "DD_API_KEY")
}

func TestStepStatusKeyRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		step   string
		status string
	}{
		{name: "normal", step: "transform", status: "ok"},
		{name: "empty_step", step: "", status: "ok"},
		{name: "empty_status", step: "load_facts", status: ""},
		{name: "both_empty", step: "", status: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			step, status := splitStepStatusKey(stepStatusKey(tc.step, tc.status))
			if step != tc.step || status != tc.status {
				t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", step, status, tc.step, tc.status)
			}
		})
	}

	step, status := splitStepStatusKey("no-sep")
	if step != "no-sep" || status != "unknown" {
		t.Fatalf("splitStepStatusKey()=(%q,%q), want=(no-sep,unknown)", step, status)
	}
}

func TestWithTags(t *testing.T) {
	t.Parallel()

	base := []string{"env:test", "job:demoindex"}
	got := withTags(base, "step:transform", "status:ok")
	want := []string{"env:test", "job:demoindex", "step:transform", "status:ok"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	got[0] = "env:mutated"
	if base[0] == "env:mutated" {
		t.Fatalf("withTags output aliases base slice")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestCountAndGaugeSeries(t *testing.T) {
	t.Parallel()

	now := int64(1234567)
	g := gaugeSeries("etl.test.gauge", 3.14, []string{"env:test"}, now)
	require.Equal(t, datadogV2.METRICINTAKETYPE_GAUGE, *g.Type)
	require.Len(t, g.Points, 1)
	require.Equal(t, now, *g.Points[0].Timestamp)
	require.Equal(t, 3.14, *g.Points[0].Value)

	c := countSeries("etl.test.count", 2, nil, now)
	require.Equal(t, datadogV2.METRICINTAKETYPE_COUNT, *c.Type)
	require.Equal(t, 2.0, *c.Points[0].Value)
}

func TestAddPercentiles(t *testing.T) {
	t.Parallel()

	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)
	tags := []string{"step:load_facts", "status:ok"}

	var series []datadogV2.MetricSeries
	addPercentiles(&series, tags, "etl.step.duration_seconds", in, 999)
	require.Len(t, series, 6)
	require.Equal(t, orig, in, "samples must not be sorted in place")

	names := make([]string, len(series))
	for i, s := range series {
		names[i] = s.Metric
		require.Equal(t, tags, s.Tags)
	}
	require.Equal(t, []string{
		"etl.step.duration_seconds.p50",
		"etl.step.duration_seconds.p90",
		"etl.step.duration_seconds.p95",
		"etl.step.duration_seconds.p99",
		"etl.step.duration_seconds.max",
		"etl.step.duration_seconds.samples",
	}, names)
	require.Equal(t, 5.0, *series[4].Points[0].Value)
	require.Equal(t, 5.0, *series[5].Points[0].Value)

	addPercentiles(&series, tags, "x", nil, 999)
	require.Len(t, series, 6)
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:data"},
		submitter: fs,
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.Contains(t, b.baseTags, "job:demoindex")
	require.Contains(t, b.baseTags, "team:data")
	require.Equal(t, 60*time.Second, b.flushEvery)
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"step": "transform", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 24, metrics.Labels{"kind": "facts"})
	b.IncCounter(metrics.TablesTotal, 1, metrics.Labels{"status": "skipped"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "transform", "status": "ok"})

	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())
	require.True(t, b.buf.isEmpty(), "buffers not reset after Flush")

	payload, ok := fs.last()
	require.True(t, ok)

	s, ok := findSeries(payload, "etl.step.total", "step:transform")
	require.True(t, ok)
	require.Equal(t, 2.0, *s.Points[0].Value)
	require.Contains(t, s.Tags, "job:job1")

	s, ok = findSeries(payload, "etl.records.total", "kind:facts")
	require.True(t, ok)
	require.Equal(t, 24.0, *s.Points[0].Value)

	_, ok = findSeries(payload, "etl.tables.total", "status:skipped")
	require.True(t, ok)
	_, ok = findSeries(payload, "etl.batches.total", "")
	require.True(t, ok)
	_, ok = findSeries(payload, "etl.step.duration_seconds.p50", "status:ok")
	require.True(t, ok)
}

func TestFlush_SubmitErrorIsWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("403 forbidden")
	fs := &fakeSubmitter{err: boom}
	b := newTestBackend(t, fs)
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	err := b.Flush()
	require.ErrorIs(t, err, boom)

	// The failed window is dropped.
	fs.err = nil
	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	require.NoError(t, b.Flush())
	require.Zero(t, fs.count())
}

func TestLoopAndClose(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	require.NoError(t, err)

	b.IncCounter(metrics.BatchesTotal, 1, nil)

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	// Close performs a final flush.
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	require.NoError(t, b.Close())
	require.GreaterOrEqual(t, fs.count(), 2)
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	workers := runtime.GOMAXPROCS(0) * 4
	const iters = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for range iters {
				b.IncCounter(metrics.BatchesTotal, 1, nil)
				b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "load_facts", "status": "ok"})
				b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "facts"})
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "load_facts", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, float64(workers*iters), b.buf.batchCount)
	require.NoError(t, b.Flush())
	require.Equal(t, 1, fs.count())
}

func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.BatchesTotal, 0, nil)
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, metrics.Labels{"step": "transform", "status": "ok"})
	b.ObserveHistogram("unknown_seconds", 1, nil)
	require.True(t, b.buf.isEmpty())

	// Missing table status defaults to "unknown".
	b.IncCounter(metrics.TablesTotal, 1, metrics.Labels{})
	require.NoError(t, b.Flush())

	payload, ok := fs.last()
	require.True(t, ok)
	_, ok = findSeries(payload, "etl.tables.total", "status:unknown")
	require.True(t, ok)
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty_segments", in: " env:prod , ,team:data,  ,source:census ", want: []string{"env:prod", "team:data", "source:census"}},
		{name: "single_tag", in: "team:data", want: []string{"team:data"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
