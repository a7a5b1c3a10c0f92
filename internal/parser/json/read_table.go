// Package json reads JSON record sources into tables.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"demoindex/internal/config"
	"demoindex/internal/parser"
	"demoindex/internal/table"
)

// ReadTable decodes JSON records from src into a table named key.
//
// Accepted layouts:
//   - a root array of objects, optionally followed by JSONL objects;
//   - a root object whose first array field holds the records (envelope);
//   - a root object with no array field, taken as a single record;
//   - bare JSONL (one object per line).
//
// Columns are the union of record keys, normalized like CSV headers and
// sorted, since JSON objects carry no column order. Numbers keep their literal
// text so "1990" and 1990 parse the same way downstream.
//
// Options: header_map, array_join_separator (default ","), encoding.
func ReadTable(ctx context.Context, key string, src io.Reader, opt config.Options) (*table.Table, error) {
	r, err := parser.DecodeReader(src, opt)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()

	sep := opt.String("array_join_separator", ",")
	hm := parser.HeaderMap(opt)

	var records []map[string]any
	collect := func(obj map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := make(map[string]any, len(obj))
		for k, v := range obj {
			rec[parser.NormalizeHeader(k, false, hm)] = scalar(v, sep)
		}
		records = append(records, rec)
		return nil
	}

	if err := decodeRecords(dec, collect); err != nil {
		return nil, fmt.Errorf("json %s: %w", key, err)
	}
	return buildTable(key, records), nil
}

func buildTable(key string, records []map[string]any) *table.Table {
	seen := map[string]bool{}
	var cols []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)

	t := &table.Table{Key: key, Columns: cols, Rows: make([][]any, len(records))}
	for i, rec := range records {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = rec[c]
		}
		t.Rows[i] = row
	}
	return t
}

func decodeRecords(dec *json.Decoder, emit func(map[string]any) error) error {
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("unsupported root token %T (want object or array)", tok)
	}
	switch d {
	case '[':
		if err := readObjectArray(dec, emit); err != nil {
			return err
		}
	case '{':
		single, err := readEnvelope(dec, emit)
		if err != nil {
			return err
		}
		if single != nil {
			if err := emit(single); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported root delimiter %q", d)
	}
	return readTrailing(dec, emit)
}

// readTrailing consumes JSONL objects that follow the root value.
func readTrailing(dec *json.Decoder, emit func(map[string]any) error) error {
	for {
		var obj map[string]any
		err := dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode trailing object: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// readObjectArray decodes elements after '[' up to and including ']'.
// null elements are skipped; any other non-object element is an error.
func readObjectArray(dec *json.Decoder, emit func(map[string]any) error) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("array element not an object (got %T)", raw)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
	return expectDelim(dec, ']')
}

// readEnvelope walks a root object after '{'. The first array field is read
// as the record list and the remaining fields are skipped. Without an array
// field the object itself is returned as a single record.
func readEnvelope(dec *json.Decoder, emit func(map[string]any) error) (map[string]any, error) {
	single := map[string]any{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read object key: %w", err)
		}
		k, _ := kt.(string)

		vt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read value of %q: %w", k, err)
		}
		if d, ok := vt.(json.Delim); ok && d == '[' {
			if err := readObjectArray(dec, emit); err != nil {
				return nil, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return nil, err
				}
				if _, err := valueFrom(dec, nil); err != nil {
					return nil, err
				}
			}
			return nil, expectDelim(dec, '}')
		}
		v, err := valueFrom(dec, vt)
		if err != nil {
			return nil, err
		}
		single[k] = v
	}
	return single, expectDelim(dec, '}')
}

// valueFrom materializes the value whose first token is tok; a nil tok reads
// the first token from dec.
func valueFrom(dec *json.Decoder, tok json.Token) (any, error) {
	if tok == nil {
		var err error
		if tok, err = dec.Token(); err != nil {
			return nil, err
		}
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := map[string]any{}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			v, err := valueFrom(dec, nil)
			if err != nil {
				return nil, err
			}
			k, _ := kt.(string)
			m[k] = v
		}
		return m, expectDelim(dec, '}')
	case '[':
		var arr []any
		for dec.More() {
			v, err := valueFrom(dec, nil)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, expectDelim(dec, ']')
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", d)
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// scalar flattens a decoded JSON value into a table cell.
func scalar(v any, sep string) any {
	switch t := v.(type) {
	case nil:
		return nil
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		ss := make([]string, 0, len(t))
		for _, it := range t {
			if it == nil {
				continue
			}
			s, ok := scalar(it, sep).(string)
			if !ok {
				return fmt.Sprint(v)
			}
			ss = append(ss, s)
		}
		return strings.Join(ss, sep)
	case map[string]any:
		return fmt.Sprint(t)
	default:
		return v
	}
}
