// Package html reads HTML <table> sources into tables.
package html

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"demoindex/internal/config"
	"demoindex/internal/parser"
	"demoindex/internal/table"
)

// ReadTable parses the first element matching the "selector" option
// (default "table") into a table named key.
//
// The header comes from the <th> cells of the first row that has any, else
// from the first row. Remaining rows are data; rows with no cells are skipped
// and short rows are padded with nil.
//
// Options: selector, header_map, encoding.
func ReadTable(ctx context.Context, key string, src io.Reader, opt config.Options) (*table.Table, error) {
	r, err := parser.DecodeReader(src, opt)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("html %s: %w", key, err)
	}

	sel := opt.String("selector", "table")
	tbl := doc.Find(sel).First()
	if tbl.Length() == 0 {
		return nil, fmt.Errorf("html %s: no element matches %q", key, sel)
	}

	var grid [][]string
	headerRow := -1
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("th, td")
		if cells.Length() == 0 {
			return
		}
		if headerRow < 0 && tr.ChildrenFiltered("th").Length() > 0 {
			headerRow = len(grid)
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			row = append(row, strings.TrimSpace(c.Text()))
		})
		grid = append(grid, row)
	})
	if len(grid) == 0 {
		return nil, fmt.Errorf("html %s: table has no rows", key)
	}
	if headerRow < 0 {
		headerRow = 0
	}

	hm := parser.HeaderMap(opt)
	out := &table.Table{Key: key}
	for i, h := range grid[headerRow] {
		out.Columns = append(out.Columns, parser.NormalizeHeader(h, i == 0, hm))
	}

	for i, cells := range grid[headerRow+1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(cells) > len(out.Columns) {
			return nil, fmt.Errorf("html %s: row %d has %d cells, header has %d", key, i+1, len(cells), len(out.Columns))
		}
		row := make([]any, len(out.Columns))
		for j, v := range cells {
			if v != "" {
				row[j] = v
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
