// Package config holds the pipeline configuration model, its file decoding and
// validation.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level configuration for one normalization run.
type Pipeline struct {
	Job      string         `json:"job" yaml:"job"`
	Source   SourceConfig   `json:"source" yaml:"source"`
	Parser   ParserConfig   `json:"parser" yaml:"parser"`
	Resolver ResolverConfig `json:"resolver" yaml:"resolver"`
	Extract  ExtractConfig  `json:"extract" yaml:"extract"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime"`
}

// SourceConfig locates the input tables.
type SourceConfig struct {
	// Kind is "dir" or "zip".
	Kind string `json:"kind" yaml:"kind"`
	Path string `json:"path" yaml:"path"`

	// Order optionally pins the enumeration order by table key. Keys missing
	// from Order follow in the container's natural order.
	Order []string `json:"order,omitempty" yaml:"order,omitempty"`
}

// ParserConfig carries per-format table parser options.
type ParserConfig struct {
	Options Options `json:"options" yaml:"options"`
}

// ResolverConfig extends the built-in alias table.
type ResolverConfig struct {
	AliasFile string `json:"alias_file,omitempty" yaml:"alias_file,omitempty"`
}

// ExtractConfig controls where intermediate fact extracts are written.
type ExtractConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// StorageConfig selects the relational backend.
type StorageConfig struct {
	// Kind: "sqlite" | "postgres" | "mssql" | "duckdb"
	Kind string   `json:"kind" yaml:"kind"`
	DB   DBConfig `json:"db" yaml:"db"`
}

type DBConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// RuntimeConfig controls load behavior.
type RuntimeConfig struct {
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// ClearFacts deletes every fact row before appending. Facts are otherwise
	// appended on each run and duplicate across re-runs.
	ClearFacts bool `json:"clear_facts" yaml:"clear_facts"`

	// RemoveExtracts deletes each extract file after it has been loaded.
	RemoveExtracts bool `json:"remove_extracts" yaml:"remove_extracts"`

	// VerifyIDs compares stored indicator ids with this run's assignment.
	// Nil means enabled.
	VerifyIDs *bool `json:"verify_ids,omitempty" yaml:"verify_ids,omitempty"`
}

const (
	DefaultBatchSize  = 1000
	DefaultExtractDir = "d"
	DefaultJob        = "distances"
)

// ShouldVerifyIDs reports whether indicator id verification is enabled.
func (r RuntimeConfig) ShouldVerifyIDs() bool {
	return r.VerifyIDs == nil || *r.VerifyIDs
}

// WithDefaults returns a copy of p with empty optional fields filled in.
func (p Pipeline) WithDefaults() Pipeline {
	if strings.TrimSpace(p.Job) == "" {
		p.Job = DefaultJob
	}
	if strings.TrimSpace(p.Extract.Dir) == "" {
		p.Extract.Dir = DefaultExtractDir
	}
	if p.Runtime.BatchSize <= 0 {
		p.Runtime.BatchSize = DefaultBatchSize
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	return p
}

// Decode parses a pipeline document. Files ending in .yaml or .yml are read as
// YAML, everything else as JSON.
func Decode(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("yaml: %w", err)
		}
		return nil
	default:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("json: %w", err)
		}
		return nil
	}
}
