// Package parser holds the pieces shared by the per-format table readers.
package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"demoindex/internal/config"
)

// HeaderMap reads the "header_map" option (original name -> column name).
func HeaderMap(opt config.Options) map[string]string {
	return opt.StringMap("header_map")
}

// NormalizeHeader canonicalizes one source header. The first header loses a
// UTF-8 BOM; mapped names are taken verbatim, everything else is trimmed,
// lowercased and has inner spaces replaced with underscores.
func NormalizeHeader(h string, first bool, hm map[string]string) string {
	if first {
		h = strings.TrimPrefix(h, "\uFEFF")
	}
	h = strings.TrimSpace(h)
	if mapped, ok := hm[h]; ok {
		return mapped
	}
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// DecodeReader wraps r so it yields UTF-8 when the "encoding" option names a
// legacy charset (any WHATWG label such as "latin1" or "windows-1252").
func DecodeReader(r io.Reader, opt config.Options) (io.Reader, error) {
	label := strings.TrimSpace(opt.String("encoding", ""))
	switch strings.ToLower(label) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("parser: unknown encoding %q: %w", label, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
