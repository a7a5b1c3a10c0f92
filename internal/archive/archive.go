// Package archive enumerates the input tables of a run in a fixed order and
// parses each one into a raw wide table.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"demoindex/internal/config"
	"demoindex/internal/parser/csv"
	"demoindex/internal/parser/html"
	"demoindex/internal/parser/json"
	"demoindex/internal/table"
)

// Source kinds.
const (
	KindDir = "dir"
	KindZip = "zip"
)

// Table file formats, derived from the file extension.
const (
	FormatCSV  = "csv"
	FormatTSV  = "tsv"
	FormatJSON = "json"
	FormatHTML = "html"
)

var ErrUnknownKind = errors.New("archive: unknown source kind")

var formats = map[string]string{
	".csv":  FormatCSV,
	".tsv":  FormatTSV,
	".json": FormatJSON,
	".html": FormatHTML,
	".htm":  FormatHTML,
}

// Entry is one input table. Key is the file name without its extension.
type Entry struct {
	Key    string
	Name   string
	Format string

	open func() (io.ReadCloser, error)
}

func (e Entry) Open() (io.ReadCloser, error) { return e.open() }

// Source is an opened, ordered set of input tables. Close it when done.
type Source struct {
	entries []Entry
	closer  io.Closer
}

// Open enumerates the tables at cfg.Path.
//
// Order:
//   - dir: lexical by file name; subdirectories are not descended.
//   - zip: archive entry order.
//   - cfg.Order, when set, moves the listed keys to the front in that order;
//     the rest follow in the default order.
//
// Errors:
//   - ErrUnknownKind for a kind other than dir or zip.
//   - two files with the same key, or an Order key with no file.
func Open(cfg config.SourceConfig) (*Source, error) {
	var (
		s   *Source
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindDir:
		s, err = openDir(cfg.Path)
	case KindZip:
		s, err = openZip(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := s.checkKeys(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if len(cfg.Order) > 0 {
		if err := s.reorder(cfg.Order); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Entries returns the tables in enumeration order. An entry's index is its
// combination ordinal.
func (s *Source) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func openDir(dir string) (*Source, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	s := &Source{}
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		e, ok := entryFor(de.Name())
		if !ok {
			continue
		}
		full := filepath.Join(dir, de.Name())
		e.open = func() (io.ReadCloser, error) { return os.Open(full) }
		s.entries = append(s.entries, e)
	}
	return s, nil
}

func openZip(p string) (*Source, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	s := &Source{closer: zr}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		e, ok := entryFor(path.Base(f.Name))
		if !ok {
			continue
		}
		e.open = f.Open
		s.entries = append(s.entries, e)
	}
	return s, nil
}

// entryFor classifies a file name; hidden files and unknown extensions are
// not tables.
func entryFor(name string) (Entry, bool) {
	if strings.HasPrefix(name, ".") {
		return Entry{}, false
	}
	ext := filepath.Ext(name)
	format, ok := formats[strings.ToLower(ext)]
	if !ok {
		return Entry{}, false
	}
	return Entry{Key: strings.TrimSuffix(name, ext), Name: name, Format: format}, true
}

func (s *Source) checkKeys() error {
	seen := make(map[string]string, len(s.entries))
	for _, e := range s.entries {
		if prev, dup := seen[e.Key]; dup {
			return fmt.Errorf("archive: duplicate table key %q (%s, %s)", e.Key, prev, e.Name)
		}
		seen[e.Key] = e.Name
	}
	return nil
}

func (s *Source) reorder(order []string) error {
	byKey := make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		byKey[e.Key] = i
	}
	placed := make([]bool, len(s.entries))
	out := make([]Entry, 0, len(s.entries))
	for _, k := range order {
		i, ok := byKey[k]
		if !ok {
			return fmt.Errorf("archive: ordered key %q has no table", k)
		}
		if placed[i] {
			continue
		}
		placed[i] = true
		out = append(out, s.entries[i])
	}
	for i, e := range s.entries {
		if !placed[i] {
			out = append(out, e)
		}
	}
	s.entries = out
	return nil
}

// ReadTable opens e and parses it with the reader for its format. TSV files
// default to a tab delimiter unless opt sets comma.
func ReadTable(ctx context.Context, e Entry, opt config.Options) (*table.Table, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Name, err)
	}
	defer rc.Close()

	switch e.Format {
	case FormatCSV:
		return csv.ReadTable(ctx, e.Key, rc, opt)
	case FormatTSV:
		if opt.Any("comma") == nil {
			merged := config.Options{"comma": "tab"}
			for k, v := range opt {
				merged[k] = v
			}
			opt = merged
		}
		return csv.ReadTable(ctx, e.Key, rc, opt)
	case FormatJSON:
		return json.ReadTable(ctx, e.Key, rc, opt)
	case FormatHTML:
		return html.ReadTable(ctx, e.Key, rc, opt)
	default:
		return nil, fmt.Errorf("archive: %s: unsupported format %q", e.Name, e.Format)
	}
}
