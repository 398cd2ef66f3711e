package table

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// HeaderStrategy selects how stacked header rows are folded into one name.
type HeaderStrategy int

const (
	// HeaderPrefix names a column "<row 0 name> <latest sub-header>". Sub-headers
	// between the first and the last one are dropped.
	HeaderPrefix HeaderStrategy = iota
	// HeaderCumulative space-joins every non-blank header cell of the column.
	HeaderCumulative
)

func (s HeaderStrategy) String() string {
	switch s {
	case HeaderPrefix:
		return "prefix"
	case HeaderCumulative:
		return "cumulative"
	default:
		return "unknown"
	}
}

// ParseHeaderStrategy parses "prefix" or "cumulative".
func ParseHeaderStrategy(s string) (HeaderStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prefix":
		return HeaderPrefix, nil
	case "cumulative":
		return HeaderCumulative, nil
	default:
		return 0, eris.Errorf("table: unknown header strategy %q", s)
	}
}

// ErrHeaderParse is matched by every *HeaderParseError.
var ErrHeaderParse = eris.New("table: header parse failed")

// HeaderParseError describes a sheet whose header block could not be folded
// into column names. It carries the state needed to inspect the sheet.
type HeaderParseError struct {
	Sheet       string
	StartOfData int
	Preview     [][]string
	Columns     map[int]string
	Reason      string
}

func (e *HeaderParseError) Error() string {
	return fmt.Sprintf("table: header parse failed for sheet %q (start_of_data=%d): %s", e.Sheet, e.StartOfData, e.Reason)
}

// Is makes errors.Is(err, ErrHeaderParse) true.
func (e *HeaderParseError) Is(target error) bool { return target == ErrHeaderParse }

// Dump logs the diagnostic state at error level.
func (e *HeaderParseError) Dump(log *zap.Logger) {
	preview := make([]string, len(e.Preview))
	for i, r := range e.Preview {
		preview[i] = strings.Join(r, " | ")
	}
	names := make([]string, 0, len(e.Columns))
	for i := 0; i < len(e.Columns); i++ {
		if n, ok := e.Columns[i]; ok {
			names = append(names, fmt.Sprintf("%d=%q", i, n))
		}
	}
	log.Error("header parse failed",
		zap.String("sheet", e.Sheet),
		zap.String("reason", e.Reason),
		zap.Int("start_of_data", e.StartOfData),
		zap.Strings("header_preview", preview),
		zap.Strings("columns", names),
	)
}

// StartOfData returns the index of the first row whose first cell is an
// integer. That row is the first year row; everything above it is header.
// If no such row exists the whole sheet is header.
func StartOfData(raw RawSheet) int {
	for i := range raw.Rows {
		if _, ok := raw.At(i, 0).Int(); ok {
			return i
		}
	}
	return len(raw.Rows)
}

// Normalize folds the header block of raw into single column names and
// returns the data block with those names. Diagnostics are logged before a
// *HeaderParseError is returned.
func Normalize(raw RawSheet, strategy HeaderStrategy) (*Table, error) {
	t, err := normalize(raw, strategy)
	if err != nil {
		var hpe *HeaderParseError
		if errors.As(err, &hpe) {
			hpe.Dump(zap.L())
		}
		return nil, err
	}
	return t, nil
}

func normalize(raw RawSheet, strategy HeaderStrategy) (*Table, error) {
	width := raw.Width()
	start := StartOfData(raw)

	fail := func(reason string, columns map[int]string) error {
		return &HeaderParseError{
			Sheet:       raw.Name,
			StartOfData: start,
			Preview:     headerPreview(raw, start, 5),
			Columns:     columns,
			Reason:      reason,
		}
	}

	if width == 0 {
		return New(), nil
	}
	if start == 0 {
		return nil, fail("no header rows above the first data row", nil)
	}

	names := make(map[int]string, width)
	var base, current string
	for col := 0; col < width; col++ {
		for row := 0; row < start; row++ {
			cell := raw.At(row, col)
			if !cell.Valid() {
				continue
			}
			label := cell.String()
			if row == 0 {
				base = label
				current = label
				continue
			}
			switch strategy {
			case HeaderCumulative:
				current += " " + label
			case HeaderPrefix:
				current = base + " " + label
			default:
				return nil, fail(fmt.Sprintf("unknown header strategy %d", strategy), names)
			}
		}
		name := cleanName(current)
		if name == "" {
			return nil, fail(fmt.Sprintf("column %d has no header text", col), names)
		}
		names[col] = name
	}

	columns := make([]string, width)
	for col := range columns {
		columns[col] = names[col]
	}
	t := New(dedupe(columns)...)
	for row := start; row < len(raw.Rows); row++ {
		values := make([]string, width)
		blank := true
		for col := 0; col < width; col++ {
			cell := raw.At(row, col)
			if cell.Valid() {
				blank = false
			}
			values[col] = cell.String()
		}
		if blank {
			continue
		}
		t.Append(values...)
	}
	return t, nil
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func cleanName(s string) string {
	return strings.TrimSpace(newlines.Replace(s))
}

// dedupe appends ".1", ".2", ... to repeated names, the way spreadsheet
// readers mangle duplicate headers.
func dedupe(names []string) []string {
	seen := make(map[string]int, len(names))
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}
	out := make([]string, len(names))
	for i, n := range names {
		k := seen[n]
		seen[n] = k + 1
		if k == 0 {
			out[i] = n
			continue
		}
		cand := fmt.Sprintf("%s.%d", n, k)
		for taken[cand] {
			k++
			cand = fmt.Sprintf("%s.%d", n, k)
		}
		seen[n] = k + 1
		taken[cand] = true
		out[i] = cand
	}
	return out
}

func headerPreview(raw RawSheet, start, limit int) [][]string {
	if start > limit {
		start = limit
	}
	width := raw.Width()
	out := make([][]string, 0, start)
	for row := 0; row < start; row++ {
		vals := make([]string, width)
		for col := 0; col < width; col++ {
			vals[col] = raw.At(row, col).String()
		}
		out = append(out, vals)
	}
	return out
}
