// Package report surveys the header shapes of every attribute export and
// writes the result as a workbook for manual review.
package report

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/catalog"
	"github.com/sells-group/dazubi/internal/fetcher"
	"github.com/sells-group/dazubi/internal/table"
)

// Source downloads one workbook. fetcher.HTTPFetcher implements it.
type Source interface {
	FetchWorkbook(ctx context.Context, url string) (*fetcher.Workbook, error)
}

// ColumnNames compares the two header strategies for one column.
type ColumnNames struct {
	Sheet      string
	Position   int
	Prefix     string
	Cumulative string
}

// Differs reports whether the strategies disagree.
func (c ColumnNames) Differs() bool { return c.Prefix != c.Cumulative }

// Attribute is the survey result for one attribute.
type Attribute struct {
	Option  catalog.Option
	URL     string
	Sheets  []string
	Columns []ColumnNames
	// Err is set when the workbook could not be fetched or a sheet header
	// could not be parsed. The survey continues with the next attribute.
	Err error
}

// Options configures Survey.
type Options struct {
	ExportURL  string
	CoverSheet string
	Sleep      time.Duration
}

// Survey downloads every attribute for the first occupation and country of
// cat and reconstructs the column names under both header strategies.
func Survey(ctx context.Context, cat *catalog.Catalog, src Source, opts Options) ([]Attribute, error) {
	if cat == nil || len(cat.Attributes) == 0 || len(cat.Occupations) == 0 || len(cat.Countries) == 0 {
		return nil, eris.New("report: catalog has nothing to survey")
	}
	if opts.CoverSheet == "" {
		opts.CoverSheet = "Deckblatt"
	}
	if opts.ExportURL == "" {
		opts.ExportURL = catalog.DefaultExportURL
	}
	year, _ := cat.Year()

	out := make([]Attribute, 0, len(cat.Attributes))
	for i, a := range cat.Attributes {
		if i > 0 && opts.Sleep > 0 {
			select {
			case <-ctx.Done():
				return out, eris.Wrap(ctx.Err(), "report: survey interrupted")
			case <-time.After(opts.Sleep):
			}
		}
		cb := catalog.Combination{Attribute: a, Occupation: cat.Occupations[0], Country: cat.Countries[0], Year: year}
		res := Attribute{Option: a, URL: cb.URL(opts.ExportURL)}

		wb, err := src.FetchWorkbook(ctx, res.URL)
		if err != nil {
			if ctx.Err() != nil {
				return out, eris.Wrap(ctx.Err(), "report: survey interrupted")
			}
			res.Err = err
			zap.L().Warn("survey: fetch failed", zap.String("attribute", a.Name), zap.Error(err))
			out = append(out, res)
			continue
		}
		res.Sheets = wb.Names()
		for _, sheet := range wb.Sheets {
			if sheet.Name == opts.CoverSheet {
				continue
			}
			cols, err := compare(sheet)
			if err != nil {
				res.Err = err
				break
			}
			res.Columns = append(res.Columns, cols...)
		}
		zap.L().Info("survey: attribute done",
			zap.String("attribute", a.Name),
			zap.Int("sheets", len(res.Sheets)),
			zap.Int("columns", len(res.Columns)),
		)
		out = append(out, res)
	}
	return out, nil
}

func compare(sheet table.RawSheet) ([]ColumnNames, error) {
	prefix, err := table.Normalize(sheet, table.HeaderPrefix)
	if err != nil {
		return nil, err
	}
	cumulative, err := table.Normalize(sheet, table.HeaderCumulative)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnNames, prefix.Width())
	for i := range out {
		out[i] = ColumnNames{Sheet: sheet.Name, Position: i, Prefix: prefix.Columns[i]}
		if i < cumulative.Width() {
			out[i].Cumulative = cumulative.Columns[i]
		}
	}
	return out, nil
}
