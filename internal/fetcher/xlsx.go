package fetcher

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/dazubi/internal/table"
)

// Workbook is a decoded spreadsheet file with its sheets in file order.
type Workbook struct {
	Sheets []table.RawSheet
}

// Names returns the sheet names in file order.
func (w *Workbook) Names() []string {
	out := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		out[i] = s.Name
	}
	return out
}

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// ErrUnknownFormat is returned for bodies that are neither xlsx nor xls.
var ErrUnknownFormat = eris.New("fetcher: not a spreadsheet")

// DefaultSkipRows drops the title row the portal puts above every table.
const DefaultSkipRows = 1

// ParseWorkbook decodes an xlsx (OOXML) or legacy xls (BIFF) workbook and
// drops the first skipRows rows of every sheet.
func ParseWorkbook(data []byte, skipRows int) (*Workbook, error) {
	var (
		wb  *Workbook
		err error
	)
	switch {
	case bytes.HasPrefix(data, zipMagic):
		wb, err = parseXLSX(data)
	case bytes.HasPrefix(data, ole2Magic):
		wb, err = parseXLS(data)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}
	for i := range wb.Sheets {
		rows := wb.Sheets[i].Rows
		wb.Sheets[i].Rows = rows[min(max(skipRows, 0), len(rows)):]
	}
	return wb, nil
}

func parseXLSX(data []byte) (*Workbook, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open")
	}
	wb := &Workbook{Sheets: make([]table.RawSheet, 0, len(f.Sheets))}
	for _, sh := range f.Sheets {
		raw := table.RawSheet{Name: sh.Name, Rows: make([][]table.Cell, len(sh.Rows))}
		for i, row := range sh.Rows {
			if row == nil {
				continue
			}
			cells := make([]table.Cell, len(row.Cells))
			for j, c := range row.Cells {
				cells[j] = xlsxCell(c)
			}
			raw.Rows[i] = cells
		}
		wb.Sheets = append(wb.Sheets, raw)
	}
	return wb, nil
}

func xlsxCell(c *xlsx.Cell) table.Cell {
	if c == nil || c.Value == "" {
		return table.Blank()
	}
	switch c.Type() {
	case xlsx.CellTypeNumeric:
		f, err := c.Float()
		if err != nil {
			return table.Text(c.Value)
		}
		return table.Number(f)
	default:
		return table.Text(c.String())
	}
}

func parseXLS(data []byte) (*Workbook, error) {
	f, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, eris.Wrap(err, "xls: open")
	}
	if f == nil {
		return nil, eris.New("xls: open: no workbook stream")
	}
	n := f.NumSheets()
	wb := &Workbook{Sheets: make([]table.RawSheet, 0, n)}
	for i := 0; i < n; i++ {
		sh := f.GetSheet(i)
		if sh == nil {
			continue
		}
		rows := make([]*xls.Row, int(sh.MaxRow)+1)
		width := 0
		for r := range rows {
			rows[r] = xlsRow(sh, r)
			if rows[r] != nil {
				width = max(width, rows[r].LastCol())
			}
		}

		raw := table.RawSheet{Name: sh.Name, Rows: make([][]table.Cell, len(rows))}
		for r, row := range rows {
			if row == nil {
				continue
			}
			cells := make([]table.Cell, width)
			for j := range cells {
				cells[j] = xlsCell(row.Col(j))
			}
			raw.Rows[r] = cells
		}
		wb.Sheets = append(wb.Sheets, raw)
	}
	return wb, nil
}

// xlsRow returns row r of sh, or nil when the sheet has no such row. The
// BIFF reader dereferences missing rows, so the panic is turned into nil.
func xlsRow(sh *xls.WorkSheet, r int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sh.Row(r)
}

// xlsCell types a BIFF cell. The BIFF reader only exposes formatted text, so
// anything that parses as a number is treated as one.
func xlsCell(s string) table.Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return table.Blank()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return table.Number(f)
	}
	return table.Text(s)
}
