package config

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding, addressed by a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var knownStorageKinds = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"mssql":    true,
	"duckdb":   true,
}

// ValidatePipeline checks p for problems that would make a run fail or
// behave surprisingly. Issues are returned in config order.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarning, "job", "empty; defaults to %q", DefaultJob)
	}

	switch p.Source.Kind {
	case "dir", "zip":
	case "":
		add(SeverityError, "source.kind", "required (dir or zip)")
	default:
		add(SeverityError, "source.kind", "unsupported kind %q (want dir or zip)", p.Source.Kind)
	}
	if strings.TrimSpace(p.Source.Path) == "" {
		add(SeverityError, "source.path", "required")
	}
	seen := make(map[string]bool, len(p.Source.Order))
	for i, k := range p.Source.Order {
		if strings.TrimSpace(k) == "" {
			add(SeverityError, fmt.Sprintf("source.order[%d]", i), "empty key")
			continue
		}
		if seen[k] {
			add(SeverityWarning, fmt.Sprintf("source.order[%d]", i), "duplicate key %q ignored", k)
		}
		seen[k] = true
	}

	if c := p.Parser.Options.String("comma", ""); c != "" && c != `\t` && c != "tab" && len([]rune(c)) != 1 {
		add(SeverityError, "parser.options.comma", "must be a single character, got %q", c)
	}

	if strings.TrimSpace(p.Extract.Dir) == "" {
		add(SeverityWarning, "extract.dir", "empty; defaults to %q", DefaultExtractDir)
	}

	switch {
	case p.Storage.Kind == "":
		add(SeverityError, "storage.kind", "required")
	case !knownStorageKinds[p.Storage.Kind]:
		add(SeverityError, "storage.kind", "unsupported kind %q", p.Storage.Kind)
	}
	if strings.TrimSpace(p.Storage.DB.DSN) == "" {
		add(SeverityError, "storage.db.dsn", "required")
	}

	if p.Runtime.BatchSize < 0 {
		add(SeverityError, "runtime.batch_size", "must not be negative")
	}
	if p.Runtime.ClearFacts {
		add(SeverityWarning, "runtime.clear_facts", "all existing fact rows will be deleted before loading")
	}
	return out
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
