package catalog

import (
	"net/url"
	"strings"
)

// DefaultExportURL is the spreadsheet export of the DAZUBI time series.
const DefaultExportURL = "https://www.bibb.de/dienst/dazubi/dazubi/timeserie/download/timeseries.xls?st[attribute]={attribute}&st[countries][0]={country}&st[occupations][0]={occupation}&st[year]={year}&st[search]=&department=10"

// DefaultPageURL is the portal page carrying the selection controls.
const DefaultPageURL = "https://www.bibb.de/dienst/dazubi/de/2252.php"

// Combination is one (attribute, occupation, country) request. Index is
// its position in country → occupation → attribute order.
type Combination struct {
	Index      int
	Attribute  Option
	Occupation Option
	Country    Option
	Year       Option
}

// Combinations enumerates every combination in iteration order.
func (c *Catalog) Combinations() []Combination {
	year, _ := c.Year()
	out := make([]Combination, 0, c.Total())
	for _, country := range c.Countries {
		for _, occ := range c.Occupations {
			for _, a := range c.Attributes {
				out = append(out, Combination{
					Index:      len(out),
					Attribute:  a,
					Occupation: occ,
					Country:    country,
					Year:       year,
				})
			}
		}
	}
	return out
}

// URL fills the {attribute}, {occupation}, {country} and {year}
// placeholders of tmpl with the query-escaped option ids.
func (c Combination) URL(tmpl string) string {
	return strings.NewReplacer(
		"{attribute}", url.QueryEscape(c.Attribute.ID),
		"{occupation}", url.QueryEscape(c.Occupation.ID),
		"{country}", url.QueryEscape(c.Country.ID),
		"{year}", url.QueryEscape(c.Year.ID),
	).Replace(tmpl)
}
