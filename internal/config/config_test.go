package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptions_Getters(t *testing.T) {
	t.Parallel()

	o := Options{
		"has_header": "false",
		"lazy":       true,
		"comma":      ";",
		"tab":        `\t`,
		"batch":      float64(250),
		"batch_s":    " 40 ",
		"header_map": map[string]any{"Year": "year", "n": 3},
	}

	require.False(t, o.Bool("has_header", true))
	require.True(t, o.Bool("lazy", false))
	require.True(t, o.Bool("missing", true))
	require.Equal(t, ';', o.Rune("comma", ','))
	require.Equal(t, '\t', o.Rune("tab", ','))
	require.Equal(t, ',', o.Rune("missing", ','))
	require.Equal(t, 250, o.Int("batch", 0))
	require.Equal(t, 40, o.Int("batch_s", 0))
	require.Equal(t, 7, o.Int("missing", 7))
	require.Equal(t, map[string]string{"Year": "year", "n": "3"}, o.StringMap("header_map"))
	require.Empty(t, o.StringMap("missing"))

	var nilOpts Options
	require.Nil(t, nilOpts.Any("x"))
	require.Equal(t, "d", nilOpts.String("x", "d"))
}

func TestDecode_JSONAndYAML(t *testing.T) {
	t.Parallel()

	jsonDoc := []byte(`{
		"job": "distances",
		"source": {"kind": "zip", "path": "data.zip"},
		"storage": {"kind": "sqlite", "db": {"dsn": "file:out.db"}},
		"runtime": {"batch_size": 500, "verify_ids": false}
	}`)
	var pj Pipeline
	require.NoError(t, Decode("pipeline.json", jsonDoc, &pj))
	require.Equal(t, "zip", pj.Source.Kind)
	require.Equal(t, 500, pj.Runtime.BatchSize)
	require.False(t, pj.Runtime.ShouldVerifyIDs())

	yamlDoc := []byte(`
job: distances
source:
  kind: dir
  path: ./tables
  order: [female_german_east, male]
parser:
  options:
    comma: ";"
storage:
  kind: postgres
  db:
    dsn: postgres://localhost/db
`)
	var py Pipeline
	require.NoError(t, Decode("pipeline.yaml", yamlDoc, &py))
	require.Equal(t, []string{"female_german_east", "male"}, py.Source.Order)
	require.Equal(t, ';', py.Parser.Options.Rune("comma", ','))
	require.True(t, py.Runtime.ShouldVerifyIDs())

	require.Error(t, Decode("bad.json", []byte("{"), &pj))
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	p := Pipeline{}.WithDefaults()
	require.Equal(t, DefaultJob, p.Job)
	require.Equal(t, DefaultExtractDir, p.Extract.Dir)
	require.Equal(t, DefaultBatchSize, p.Runtime.BatchSize)
	require.NotNil(t, p.Parser.Options)
}

func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	valid := Pipeline{
		Job:     "distances",
		Source:  SourceConfig{Kind: "dir", Path: "tables"},
		Extract: ExtractConfig{Dir: "d"},
		Storage: StorageConfig{Kind: "sqlite", DB: DBConfig{DSN: "file:x.db"}},
	}

	tests := []struct {
		name     string
		mutate   func(p *Pipeline)
		wantPath string
		wantErr  bool
	}{
		{name: "valid", mutate: func(*Pipeline) {}},
		{name: "missing_source_kind", mutate: func(p *Pipeline) { p.Source.Kind = "" }, wantPath: "source.kind", wantErr: true},
		{name: "bad_source_kind", mutate: func(p *Pipeline) { p.Source.Kind = "rdata" }, wantPath: "source.kind", wantErr: true},
		{name: "missing_path", mutate: func(p *Pipeline) { p.Source.Path = " " }, wantPath: "source.path", wantErr: true},
		{name: "unknown_storage", mutate: func(p *Pipeline) { p.Storage.Kind = "clickhouse" }, wantPath: "storage.kind", wantErr: true},
		{name: "missing_dsn", mutate: func(p *Pipeline) { p.Storage.DB.DSN = "" }, wantPath: "storage.db.dsn", wantErr: true},
		{name: "negative_batch", mutate: func(p *Pipeline) { p.Runtime.BatchSize = -1 }, wantPath: "runtime.batch_size", wantErr: true},
		{name: "bad_comma", mutate: func(p *Pipeline) { p.Parser.Options = Options{"comma": ";;"} }, wantPath: "parser.options.comma", wantErr: true},
		{name: "empty_order_key", mutate: func(p *Pipeline) { p.Source.Order = []string{"a", ""} }, wantPath: "source.order[1]", wantErr: true},
		{name: "clear_facts_warns", mutate: func(p *Pipeline) { p.Runtime.ClearFacts = true }, wantPath: "runtime.clear_facts"},
		{name: "empty_job_warns", mutate: func(p *Pipeline) { p.Job = "" }, wantPath: "job"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := valid
			tc.mutate(&p)
			issues := ValidatePipeline(p)
			require.Equal(t, tc.wantErr, HasErrors(issues), "issues=%v", issues)
			if tc.wantPath == "" {
				require.Empty(t, issues)
				return
			}
			found := false
			for _, iss := range issues {
				if iss.Path == tc.wantPath {
					found = true
				}
			}
			require.True(t, found, "no issue for %s in %v", tc.wantPath, issues)
		})
	}
}
