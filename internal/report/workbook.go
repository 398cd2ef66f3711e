package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

const (
	sheetFeatures   = "Features"
	sheetComparison = "Vergleich"
)

// WriteHeaderSurvey writes the survey to an xlsx file at path. The first
// sheet has one column per attribute listing its workbook sheets followed
// by the reconstructed column names; the second compares both header
// strategies column by column.
func WriteHeaderSurvey(path string, attrs []Attribute) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", sheetFeatures); err != nil {
		return eris.Wrap(err, "report: rename sheet")
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return eris.Wrap(err, "report: header style")
	}

	for i, a := range attrs {
		col := i + 1
		values := append([]string{a.Option.Name}, a.Sheets...)
		for _, c := range a.Columns {
			values = append(values, c.Prefix)
		}
		if a.Err != nil {
			values = append(values, "ERROR: "+a.Err.Error())
		}
		for row, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col, row+1)
			if err := f.SetCellValue(sheetFeatures, cell, v); err != nil {
				return eris.Wrapf(err, "report: write %s", cell)
			}
		}
	}
	if len(attrs) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(attrs), 1)
		if err := f.SetCellStyle(sheetFeatures, "A1", last, bold); err != nil {
			return eris.Wrap(err, "report: style header")
		}
	}

	if _, err := f.NewSheet(sheetComparison); err != nil {
		return eris.Wrap(err, "report: add comparison sheet")
	}
	headers := []any{"Attribut", "ID", "Blatt", "Spalte", "Präfix", "Kumulativ", "Abweichung"}
	if err := f.SetSheetRow(sheetComparison, "A1", &headers); err != nil {
		return eris.Wrap(err, "report: comparison header")
	}
	if err := f.SetCellStyle(sheetComparison, "A1", "G1", bold); err != nil {
		return eris.Wrap(err, "report: style comparison header")
	}
	row := 2
	for _, a := range attrs {
		for _, c := range a.Columns {
			differs := "nein"
			if c.Differs() {
				differs = "ja"
			}
			values := []any{a.Option.Name, a.Option.ID, c.Sheet, c.Position, c.Prefix, c.Cumulative, differs}
			if err := f.SetSheetRow(sheetComparison, fmt.Sprintf("A%d", row), &values); err != nil {
				return eris.Wrapf(err, "report: comparison row %d", row)
			}
			row++
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "report: create dir")
	}
	return eris.Wrapf(f.SaveAs(path), "report: save %s", path)
}
