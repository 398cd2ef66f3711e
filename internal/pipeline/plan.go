package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/dazubi/internal/catalog"
)

// Request is one combination with its export URL.
type Request struct {
	catalog.Combination
	URL string
}

// Plan lists every request of a run in iteration order: country, then
// occupation, then attribute. Only the first year is requested since each
// export covers all years.
func Plan(cat *catalog.Catalog, exportURL string) ([]Request, error) {
	if cat == nil || cat.Total() == 0 {
		var a, o, c int
		if cat != nil {
			a, o, c = len(cat.Attributes), len(cat.Occupations), len(cat.Countries)
		}
		return nil, eris.Wrapf(ErrNoCombinations, "%d attributes, %d occupations, %d countries", a, o, c)
	}
	if exportURL == "" {
		exportURL = catalog.DefaultExportURL
	}
	combos := cat.Combinations()
	out := make([]Request, len(combos))
	for i, cb := range combos {
		out[i] = Request{Combination: cb, URL: cb.URL(exportURL)}
	}
	return out, nil
}
