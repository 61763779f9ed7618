// Package parser extracts a single tabular sheet from an XLSX workbook.
//
// The first non-empty row is the header. Every following non-empty row
// becomes a RawRow keyed by header name; cells are read as the formatted
// strings a spreadsheet user sees. Columns with a blank header are dropped,
// and cells past the last header are ignored.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dshills/sheetload/pkg/types"
)

// DefaultSheet selects the first worksheet
const DefaultSheet = "0"

// ErrSheetNotFound is returned when the sheet selector does not resolve
var ErrSheetNotFound = errors.New("sheet not found")

// Parser reads one worksheet per file
type Parser struct {
	sheet string
}

// Sheet is the parsed content of one worksheet
type Sheet struct {
	Name    string
	Headers []string
	Rows    []types.RawRow
}

// New creates a parser for the given selector: a sheet name, or a
// zero-based index when no sheet carries that exact name.
func New(sheet string) *Parser {
	if strings.TrimSpace(sheet) == "" {
		sheet = DefaultSheet
	}
	return &Parser{sheet: sheet}
}

// ParseFile opens filePath and reads the selected sheet
func (p *Parser) ParseFile(filePath string) (*Sheet, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	name, err := p.resolveSheet(f.GetSheetList())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	rows, err := f.Rows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	sheet := &Sheet{Name: name}
	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row in sheet %q: %w", name, err)
		}
		if isBlank(cells) {
			continue
		}

		if sheet.Headers == nil {
			sheet.Headers = normalizeHeaders(cells)
			continue
		}
		sheet.Rows = append(sheet.Rows, buildRow(sheet.Headers, cells))
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheet %q: %w", name, err)
	}

	return sheet, nil
}

func (p *Parser) resolveSheet(names []string) (string, error) {
	for _, n := range names {
		if n == p.sheet {
			return n, nil
		}
	}

	idx, err := strconv.Atoi(p.sheet)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrSheetNotFound, p.sheet)
	}
	if idx < 0 || idx >= len(names) {
		return "", fmt.Errorf("%w: index %d of %d sheets", ErrSheetNotFound, idx, len(names))
	}
	return names[idx], nil
}

func normalizeHeaders(cells []string) []string {
	headers := make([]string, len(cells))
	for i, c := range cells {
		headers[i] = strings.TrimSpace(c)
	}
	return headers
}

func buildRow(headers, cells []string) types.RawRow {
	row := make(types.RawRow, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			row[h] = cells[i]
		} else {
			row[h] = ""
		}
	}
	return row
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
