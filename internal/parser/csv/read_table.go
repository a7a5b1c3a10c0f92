// Package csv reads delimited text sources into tables.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"demoindex/internal/config"
	"demoindex/internal/parser"
	"demoindex/internal/table"
)

// ReadTable parses a delimited source into a table named key.
//
// Options:
//   - has_header (default true): the first record names the columns.
//   - columns: comma-separated column names, required when has_header=false.
//   - comma (default ','; "tab" or "\t" for TSV), lazy_quotes, trim_space
//     (default true), header_map, encoding.
//
// Edge cases:
//   - Empty cells become nil; records shorter than the header are padded with nil.
//   - Records longer than the header are an error, as are malformed quotes
//     unless lazy_quotes is set.
func ReadTable(ctx context.Context, key string, src io.Reader, opt config.Options) (*table.Table, error) {
	r, err := parser.DecodeReader(src, opt)
	if err != nil {
		return nil, err
	}

	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	line := 0
	t := &table.Table{Key: key}

	if hasHeader {
		line++
		hdr, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv %s: empty input", key)
		}
		if err != nil {
			return nil, fmt.Errorf("csv %s: read header: %w", key, err)
		}
		hm := parser.HeaderMap(opt)
		t.Columns = make([]string, len(hdr))
		for i, h := range hdr {
			t.Columns[i] = parser.NormalizeHeader(h, i == 0, hm)
		}
	} else {
		for _, c := range strings.Split(opt.String("columns", ""), ",") {
			if c = strings.TrimSpace(c); c != "" {
				t.Columns = append(t.Columns, strings.ToLower(c))
			}
		}
		if len(t.Columns) == 0 {
			return nil, fmt.Errorf("csv %s: has_header=false requires the columns option", key)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line++
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv %s: line %d: %w", key, line, err)
		}
		if len(rec) > len(t.Columns) {
			return nil, fmt.Errorf("csv %s: line %d: %d fields, header has %d", key, line, len(rec), len(t.Columns))
		}

		row := make([]any, len(t.Columns))
		for i, v := range rec {
			if trim {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
