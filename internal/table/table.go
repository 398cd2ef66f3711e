// Package table holds the in-memory tables the harvester builds: raw
// spreadsheet grids, normalized per-sheet tables and the accumulated dataset.
package table

import (
	"math"
	"strconv"
	"strings"
)

// CellKind classifies a raw spreadsheet cell.
type CellKind int

const (
	// CellBlank is an empty cell.
	CellBlank CellKind = iota
	// CellString is a text cell.
	CellString
	// CellNumber is a numeric cell.
	CellNumber
)

// Cell is one raw spreadsheet value.
type Cell struct {
	Kind CellKind
	Str  string
	Num  float64
}

// Blank returns an empty cell.
func Blank() Cell { return Cell{Kind: CellBlank} }

// Text returns a string cell. An empty string is treated as blank.
func Text(s string) Cell {
	if s == "" {
		return Blank()
	}
	return Cell{Kind: CellString, Str: s}
}

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{Kind: CellNumber, Num: f} }

// Valid reports whether the cell carries a value: a non-empty string or a
// number that is not NaN.
func (c Cell) Valid() bool {
	switch c.Kind {
	case CellString:
		return c.Str != ""
	case CellNumber:
		return !math.IsNaN(c.Num)
	default:
		return false
	}
}

// Int returns the cell as an integer if it is a number without a fractional part.
func (c Cell) Int() (int64, bool) {
	if c.Kind != CellNumber || math.IsNaN(c.Num) || math.IsInf(c.Num, 0) {
		return 0, false
	}
	if c.Num != math.Trunc(c.Num) {
		return 0, false
	}
	return int64(c.Num), true
}

// String renders the cell the way it is written to CSV.
func (c Cell) String() string {
	switch c.Kind {
	case CellString:
		return c.Str
	case CellNumber:
		if math.IsNaN(c.Num) {
			return ""
		}
		if i, ok := c.Int(); ok {
			return strconv.FormatInt(i, 10)
		}
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// RawSheet is the untouched cell grid of one worksheet. Rows may be ragged.
type RawSheet struct {
	Name string
	Rows [][]Cell
}

// Width returns the length of the longest row.
func (s RawSheet) Width() int {
	w := 0
	for _, r := range s.Rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// At returns the cell at (row, col), or a blank cell when out of range.
func (s RawSheet) At(row, col int) Cell {
	if row < 0 || row >= len(s.Rows) || col < 0 || col >= len(s.Rows[row]) {
		return Blank()
	}
	return s.Rows[row][col]
}

// Table is a rectangular string table with named columns. An empty string
// stands for a missing value. Every row has exactly len(Columns) entries.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.Columns) }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Empty reports whether the table has neither columns nor rows.
func (t *Table) Empty() bool { return t == nil || (len(t.Columns) == 0 && len(t.Rows) == 0) }

// Index returns the position of the first column with the given name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether a column with the given name exists.
func (t *Table) Has(name string) bool { return t.Index(name) >= 0 }

// Append adds a row, padding or truncating it to the table width.
func (t *Table) Append(values ...string) {
	row := make([]string, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

// Get returns the value at row r of the named column.
func (t *Table) Get(r int, name string) (string, bool) {
	i := t.Index(name)
	if i < 0 || r < 0 || r >= len(t.Rows) {
		return "", false
	}
	return t.Rows[r][i], true
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	out.Rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

// Insert adds a column at pos holding value in every row. pos is clamped
// to the table width.
func (t *Table) Insert(pos int, name, value string) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(t.Columns) {
		pos = len(t.Columns)
	}
	t.Columns = insertAt(t.Columns, pos, name)
	for i, r := range t.Rows {
		t.Rows[i] = insertAt(r, pos, value)
	}
}

func insertAt(s []string, pos int, v string) []string {
	s = append(s, "")
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

// String renders a short preview used in diagnostics.
func (t *Table) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, " | "))
	for i, r := range t.Rows {
		if i == 5 {
			b.WriteString("\n...")
			break
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(r, " | "))
	}
	return b.String()
}
