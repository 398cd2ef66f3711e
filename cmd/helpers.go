package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/catalog"
	"github.com/sells-group/dazubi/internal/config"
	"github.com/sells-group/dazubi/internal/fetcher"
	"github.com/sells-group/dazubi/internal/resilience"
	"github.com/sells-group/dazubi/internal/runlog"
	"github.com/sells-group/dazubi/internal/snapshot"
)

func newFetcher(c *config.Config) *fetcher.HTTPFetcher {
	skip := c.Fetch.SkipRows
	if skip == 0 {
		skip = -1
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:     c.Fetch.UserAgent,
		Timeout:       c.Fetch.Timeout(),
		Retry:         resilience.Policy{MaxRetries: c.Fetch.MaxRetries},
		RatePerSecond: c.Fetch.RatePerSecond,
		SkipRows:      skip,
	})
}

func loadCatalog(ctx context.Context, c *config.Config, f fetcher.Fetcher) (*catalog.Catalog, error) {
	cat, err := catalog.Load(ctx, f, c.Portal.CatalogURL)
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// dataPath resolves name relative to the data directory.
func dataPath(c *config.Config, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Output.DataDir, name)
}

func snapshotStore(c *config.Config, dir string) *snapshot.Store {
	return snapshot.New(snapshot.Options{
		Dir:       dataPath(c, dir),
		Prefix:    c.Output.Prefix,
		Compress:  c.Pipeline.Compress,
		Delimiter: c.Output.Comma(),
	})
}

func finalPath(c *config.Config) string {
	p := dataPath(c, c.Output.FinalName)
	if c.Pipeline.Compress {
		p += snapshot.CompressedExt
	}
	return p
}

// openRunLog opens and migrates the run ledger.
func openRunLog(ctx context.Context, c *config.Config) (*runlog.Store, error) {
	if c.RunLog.DSN == "" {
		return nil, eris.New("runlog.dsn is not configured")
	}
	if dir := filepath.Dir(c.RunLog.DSN); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "create run ledger dir")
		}
	}
	st, err := runlog.Open(c.RunLog.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// seconds is a pause flag that takes plain seconds ("2", "0.5") or a Go
// duration ("1500ms").
type seconds time.Duration

func (s *seconds) String() string { return time.Duration(*s).String() }

func (s *seconds) Set(v string) error {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 {
			return eris.Errorf("negative pause %q", v)
		}
		*s = seconds(f * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return eris.Errorf("invalid pause %q: use seconds or a duration like 500ms", v)
	}
	if d < 0 {
		return eris.Errorf("negative pause %q", v)
	}
	*s = seconds(d)
	return nil
}

func (s *seconds) Type() string { return "seconds" }

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func logCatalog(cat *catalog.Catalog) {
	zap.L().Info("catalog",
		zap.Int("attributes", len(cat.Attributes)),
		zap.Int("occupations", len(cat.Occupations)),
		zap.Int("countries", len(cat.Countries)),
		zap.Int("years", len(cat.Years)),
		zap.Int("combinations", cat.Total()),
	)
}
