package types

import "fmt"

// RawRow is one parsed spreadsheet row keyed by header name
type RawRow map[string]string

// Table is a set of normalized rows sharing an ordered column list
type Table struct {
	Columns Schema
	Rows    [][]Value

	index map[string]int
}

// NewTable creates an empty table over the given columns
func NewTable(columns Schema) *Table {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.Name] = i
	}
	return &Table{Columns: columns, index: index}
}

// Append adds a row; its width must equal the column count
func (t *Table) Append(row []Value) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrRowWidth, len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Len returns the number of rows
func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of a column, or -1
func (t *Table) ColumnIndex(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Value returns the cell at (row, column name)
func (t *Table) Value(row int, name string) (Value, bool) {
	col := t.ColumnIndex(name)
	if col < 0 || row < 0 || row >= len(t.Rows) {
		return Value{}, false
	}
	return t.Rows[row][col], true
}
