// Package catalog loads the parameter catalog of the DAZUBI portal: the
// option lists of the attribute, occupation, country and year selectors.
package catalog

import (
	"bytes"
	"context"
	"io"
	"mime"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/dazubi/internal/fetcher"
)

// Ids of the selection controls on the portal page.
const (
	SelectAttribute  = "st_attribute"
	SelectOccupation = "st_occupations"
	SelectCountry    = "st_countries"
	SelectYear       = "st_year"
)

var (
	// ErrCatalogUnavailable means the portal page could not be fetched or
	// did not yield a usable catalog.
	ErrCatalogUnavailable = eris.New("catalog: unavailable")
	// ErrCatalogChanged means the catalog order differs from the one the
	// existing snapshots were numbered with.
	ErrCatalogChanged = eris.New("catalog: changed since last run")
)

// Option is one selectable value of a dimension.
type Option struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Catalog holds the four dimensions in page order. It is not modified
// after loading.
type Catalog struct {
	Attributes  []Option `yaml:"attributes"`
	Occupations []Option `yaml:"occupations"`
	Countries   []Option `yaml:"countries"`
	Years       []Option `yaml:"years"`
}

// Total returns the number of (attribute, occupation, country) combinations.
func (c *Catalog) Total() int {
	return len(c.Attributes) * len(c.Occupations) * len(c.Countries)
}

// Year returns the year option sent with every request. The portal returns
// the whole time series for any year, so only the first one is used.
func (c *Catalog) Year() (Option, bool) {
	if len(c.Years) == 0 {
		return Option{}, false
	}
	return c.Years[0], true
}

// Validate checks that every dimension is populated and ids are unique.
func (c *Catalog) Validate() error {
	dims := []struct {
		name string
		opts []Option
	}{
		{SelectAttribute, c.Attributes},
		{SelectOccupation, c.Occupations},
		{SelectCountry, c.Countries},
		{SelectYear, c.Years},
	}
	for _, d := range dims {
		if len(d.opts) == 0 {
			return eris.Wrapf(ErrCatalogUnavailable, "no options for %s", d.name)
		}
		seen := make(map[string]bool, len(d.opts))
		for _, o := range d.opts {
			if seen[o.ID] {
				return eris.Errorf("catalog: duplicate id %q in %s", o.ID, d.name)
			}
			seen[o.ID] = true
		}
	}
	return nil
}

// Load fetches the portal page and parses the catalog from it. Missing
// controls produce empty dimensions and a warning; use Validate to reject them.
func Load(ctx context.Context, f fetcher.Fetcher, pageURL string) (*Catalog, error) {
	resp, err := f.Fetch(ctx, pageURL)
	if err != nil {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "fetch %s: %v", pageURL, err)
	}

	body, err := decodeBody(resp.Body, resp.ContentType())
	if err != nil {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "decode %s: %v", pageURL, err)
	}

	c, err := Parse(body)
	if err != nil {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "parse %s: %v", pageURL, err)
	}

	zap.L().Info("catalog loaded",
		zap.String("url", pageURL),
		zap.Int("attributes", len(c.Attributes)),
		zap.Int("occupations", len(c.Occupations)),
		zap.Int("countries", len(c.Countries)),
		zap.Int("years", len(c.Years)),
	)
	return c, nil
}

// Parse extracts the four selection controls from an HTML document.
func Parse(r io.Reader) (*Catalog, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse html")
	}

	selects := make(map[string]*html.Node)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Select {
			if id := attr(n, "id"); id != "" {
				if _, dup := selects[id]; !dup {
					selects[id] = n
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)

	dim := func(id string) []Option {
		sel, ok := selects[id]
		if !ok {
			zap.L().Warn("catalog: selection control missing", zap.String("id", id))
			return nil
		}
		return options(sel)
	}

	return &Catalog{
		Attributes:  dim(SelectAttribute),
		Occupations: dim(SelectOccupation),
		Countries:   dim(SelectCountry),
		Years:       dim(SelectYear),
	}, nil
}

// options returns the (value, label) pairs of every option with a non-empty
// value, including options nested in optgroups.
func options(sel *html.Node) []Option {
	var out []Option
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Option {
			if v, ok := attrOK(n, "value"); ok && v != "" {
				out = append(out, Option{ID: v, Name: strings.TrimSpace(text(n))})
			}
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(sel)
	return out
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return b.String()
}

// decodeBody converts body to UTF-8 using the charset of the Content-Type
// header. Without a charset the body is passed through unchanged.
func decodeBody(body []byte, contentType string) (io.Reader, error) {
	r := bytes.NewReader(body)
	if contentType == "" {
		return r, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return r, nil
	}
	charset := params["charset"]
	if charset == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}
