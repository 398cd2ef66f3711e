package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dazubi/internal/catalog"
	"github.com/sells-group/dazubi/internal/fetcher"
	"github.com/sells-group/dazubi/internal/snapshot"
	"github.com/sells-group/dazubi/internal/table"
)

const testExportURL = "http://portal.test/export.xls?a={attribute}&o={occupation}&c={country}&y={year}"

// fakeSource serves one workbook per attribute id and records every URL.
type fakeSource struct {
	sheets map[string][]table.RawSheet
	failAt map[string]error
	urls   []string
}

func (f *fakeSource) FetchWorkbook(_ context.Context, raw string) (*fetcher.Workbook, error) {
	f.urls = append(f.urls, raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	key := q.Get("a") + "/" + q.Get("o") + "/" + q.Get("c")
	if err, ok := f.failAt[key]; ok {
		return nil, err
	}
	sheets, ok := f.sheets[q.Get("a")]
	if !ok {
		return nil, fmt.Errorf("no workbook for attribute %s", q.Get("a"))
	}
	return &fetcher.Workbook{Sheets: sheets}, nil
}

type recorder struct {
	states      []State
	progress    []Progress
	checkpoints []Checkpoint
}

func (r *recorder) OnState(_, to State)       { r.states = append(r.states, to) }
func (r *recorder) OnProgress(p Progress)     { r.progress = append(r.progress, p) }
func (r *recorder) OnCheckpoint(c Checkpoint) { r.checkpoints = append(r.checkpoints, c) }

func options(n int, prefix string) []catalog.Option {
	out := make([]catalog.Option, n)
	for i := range out {
		out[i] = catalog.Option{ID: fmt.Sprintf("%s%d", prefix, i+1), Name: fmt.Sprintf("%s name %d", prefix, i+1)}
	}
	return out
}

func testCatalog(attrs, occs, countries int) *catalog.Catalog {
	return &catalog.Catalog{
		Attributes:  options(attrs, "a"),
		Occupations: options(occs, "o"),
		Countries:   options(countries, "c"),
		Years:       []catalog.Option{{ID: "2023", Name: "2023"}, {ID: "2022", Name: "2022"}},
	}
}

func cover() table.RawSheet {
	return table.RawSheet{Name: DefaultCoverSheet, Rows: [][]table.Cell{{table.Text("Datensystem Auszubildende")}}}
}

// valueSheet is a one-header-row sheet with a year column and one value column.
func valueSheet(column string, base float64) table.RawSheet {
	return table.RawSheet{Name: "Daten", Rows: [][]table.Cell{
		{table.Text("Jahr"), table.Text(column)},
		{table.Number(2020), table.Number(base)},
		{table.Number(2021), table.Number(base + 1)},
	}}
}

func sourceFor(cat *catalog.Catalog) *fakeSource {
	src := &fakeSource{sheets: map[string][]table.RawSheet{}, failAt: map[string]error{}}
	for i, a := range cat.Attributes {
		src.sheets[a.ID] = []table.RawSheet{cover(), valueSheet("Wert "+a.ID, float64(10*(i+1)))}
	}
	return src
}

type ledgerCall struct {
	op         string
	start, end int
	total      int
	err        error
}

// fakeLedger records Start and Finish calls.
type fakeLedger struct {
	calls []ledgerCall
}

func (l *fakeLedger) Start(_ context.Context, startIndex, total int) (string, error) {
	l.calls = append(l.calls, ledgerCall{op: "start", start: startIndex, total: total})
	return fmt.Sprintf("run-%d", len(l.calls)), nil
}

func (l *fakeLedger) Finish(_ context.Context, id string, endIndex int, runErr error) error {
	l.calls = append(l.calls, ledgerCall{op: "finish:" + id, end: endIndex, err: runErr})
	return nil
}

type env struct {
	dir       string
	snapshots *snapshot.Store
	sleeps    int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	return &env{dir: dir, snapshots: snapshot.New(snapshot.Options{Dir: filepath.Join(dir, "occ")})}
}

func (e *env) context(cat *catalog.Catalog, src WorkbookSource, obs Observer, opts Options) Context {
	opts.ExportURL = testExportURL
	if opts.FinalPath == "" {
		opts.FinalPath = filepath.Join(e.dir, "dazubi_complete.csv")
	}
	if opts.CatalogLock == "" {
		opts.CatalogLock = filepath.Join(e.dir, "catalog.yaml")
	}
	return Context{
		Catalog:   cat,
		Source:    src,
		Snapshots: e.snapshots,
		Observer:  obs,
		Options:   opts,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			e.sleeps++
			return ctx.Err()
		},
	}
}

func TestRun_TwoAttributesOnePair(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(2, 1, 1)
	src := sourceFor(cat)
	rec := &recorder{}

	res, err := NewDriver(e.context(cat, src, rec, Options{Sleep: time.Second})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Next)
	assert.Equal(t, 2, e.sleeps)
	assert.Equal(t, []string{"Jahr", "Beruf", "Region", "Wert a1", "Wert a2"}, res.Dataset.Columns)
	assert.Equal(t, [][]string{
		{"2020", "o name 1", "c name 1", "10", "20"},
		{"2021", "o name 1", "c name 1", "11", "21"},
	}, res.Dataset.Rows)

	final, err := snapshot.ReadFile(res.FinalPath, ',')
	require.NoError(t, err)
	assert.Equal(t, res.Dataset.Rows, final.Rows)

	snaps, err := e.snapshots.List()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].Index)

	assert.Equal(t, StateDone, rec.states[len(rec.states)-1])
	assert.Contains(t, rec.states, StateRestoring)
	assert.Contains(t, rec.states, StateCheckpointing)
}

func TestRun_RequestsEveryCombinationInOrder(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(3, 2, 2)
	src := sourceFor(cat)
	rec := &recorder{}

	res, err := NewDriver(e.context(cat, src, rec, Options{})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cat.Total(), res.Fetched)
	require.Len(t, rec.progress, 12)
	seen := map[string]bool{}
	for i, p := range rec.progress {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, 12, p.Total)
		seen[p.URL] = true
	}
	assert.Len(t, seen, 12)
	assert.Equal(t, "c name 1", rec.progress[0].Country)
	assert.Equal(t, "o name 2", rec.progress[3].Occupation)
	assert.Equal(t, "c name 2", rec.progress[6].Country)
	assert.Equal(t, "http://portal.test/export.xls?a=a1&o=o1&c=c1&y=2023", src.urls[0])

	// four pairs of two rows each
	assert.Equal(t, 8, res.Dataset.Len())
}

func TestRun_ResumeAfterCompletionFetchesNothing(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(2, 2, 1)

	first, err := NewDriver(e.context(cat, sourceFor(cat), nil, Options{})).Run(context.Background())
	require.NoError(t, err)

	src := sourceFor(cat)
	second, err := NewDriver(e.context(cat, src, nil, Options{})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cat.Total(), second.Restored)
	assert.Equal(t, cat.Total(), second.Next)
	assert.Equal(t, 0, second.Fetched)
	assert.Empty(t, src.urls)
	assert.Equal(t, first.Dataset, second.Dataset)
}

func TestRun_AbortCheckpointsCompletePairs(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(2, 2, 1)
	src := sourceFor(cat)
	src.failAt["a2/o2/c1"] = &fetcher.FetchExhausted{URL: "x", Attempts: 6, Err: errors.New("boom")}
	rec := &recorder{}

	d := NewDriver(e.context(cat, src, rec, Options{WriteEvery: 100}))
	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetcher.ErrFetchExhausted))
	assert.Equal(t, StateAborted, d.State())

	snaps, err := e.snapshots.List()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].Index)
	saved, err := snapshot.ReadFile(snaps[0].Path, ',')
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Len())

	_, err = os.Stat(filepath.Join(e.dir, "dazubi_complete.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	retry := sourceFor(cat)
	res, err := NewDriver(e.context(cat, retry, nil, Options{WriteEvery: 100})).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restored)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 4, res.Dataset.Len())
}

func TestRun_InterruptDuringSleep(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(1, 3, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pc := e.context(cat, sourceFor(cat), nil, Options{WriteEvery: 100})
	calls := 0
	pc.Sleep = func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}
	_, err := NewDriver(pc).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	next, saved, err := e.snapshots.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, next)
	assert.Equal(t, 2, saved.Len())
}

func TestRun_StartWithSkipsWithoutFetching(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(2, 2, 1)
	src := sourceFor(cat)

	res, err := NewDriver(e.context(cat, src, nil, Options{StartWith: 2})).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Start)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, e.sleeps)
	assert.Equal(t, "http://portal.test/export.xls?a=a1&o=o2&c=c1&y=2023", src.urls[0])
}

func TestRun_CheckpointCadence(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(1, 5, 1)
	rec := &recorder{}

	_, err := NewDriver(e.context(cat, sourceFor(cat), rec, Options{WriteEvery: 2})).Run(context.Background())
	require.NoError(t, err)

	var idx []int
	for _, c := range rec.checkpoints {
		if !c.Final {
			idx = append(idx, c.Index)
		}
	}
	assert.Equal(t, []int{2, 4, 5}, idx)
}

func TestRun_RetainCleansOldSnapshots(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(1, 4, 1)

	res, err := NewDriver(e.context(cat, sourceFor(cat), nil, Options{Retain: 2, SanityCheck: true})).Run(context.Background())
	require.NoError(t, err)

	snaps, err := e.snapshots.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 3, snaps[0].Index)
	assert.Equal(t, 4, snaps[1].Index)
	assert.NoError(t, res.CleanupErr)
}

func TestRun_CleanupOrderingViolationKeepsSnapshots(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(1, 3, 1)
	base := time.Now().Add(-time.Hour)

	seed := func(index, rows int, mtime time.Time) {
		tb := table.New("Jahr", "Beruf", "Region", "Wert a1")
		for i := 0; i < rows; i++ {
			tb.Append("2020", "o name 1", "c name 1", "10")
		}
		path, err := e.snapshots.Persist(context.Background(), tb, index)
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	seed(1, 200, base)
	seed(2, 2, base.Add(time.Minute))

	rec := &recorder{}
	res, err := NewDriver(e.context(cat, sourceFor(cat), rec, Options{Retain: 1, SanityCheck: true})).Run(context.Background())
	require.NoError(t, err)

	require.Error(t, res.CleanupErr)
	assert.True(t, errors.Is(res.CleanupErr, snapshot.ErrOrderingViolation))
	assert.Equal(t, 2, res.Restored)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 4, res.Dataset.Len())

	snaps, err := e.snapshots.List()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{snaps[0].Index, snaps[1].Index, snaps[2].Index})
	for _, c := range rec.checkpoints {
		assert.Empty(t, c.Removed)
	}
	assert.Equal(t, StateDone, rec.states[len(rec.states)-1])
}

func TestRun_LedgerRecordsSuccess(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(2, 1, 1)
	ledger := &fakeLedger{}

	pc := e.context(cat, sourceFor(cat), nil, Options{})
	pc.Ledger = ledger
	res, err := NewDriver(pc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []ledgerCall{
		{op: "start", start: 0, total: 2},
		{op: "finish:run-1", end: 2},
	}, ledger.calls)
}

func TestRun_LedgerRecordsAbort(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(2, 2, 1)
	src := sourceFor(cat)
	src.failAt["a2/o2/c1"] = &fetcher.FetchExhausted{URL: "x", Attempts: 6, Err: errors.New("boom")}
	ledger := &fakeLedger{}

	pc := e.context(cat, src, nil, Options{})
	pc.Ledger = ledger
	_, err := NewDriver(pc).Run(context.Background())
	require.Error(t, err)

	require.Len(t, ledger.calls, 2)
	assert.Equal(t, ledgerCall{op: "start", start: 0, total: 4}, ledger.calls[0])
	assert.Equal(t, "finish:run-1", ledger.calls[1].op)
	assert.Equal(t, 2, ledger.calls[1].end)
	assert.True(t, errors.Is(ledger.calls[1].err, fetcher.ErrFetchExhausted))
}

func TestRun_RepeatedSheetColumnsStayAligned(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(1, 1, 3)
	src := sourceFor(cat)
	src.sheets["a1"] = []table.RawSheet{cover(), valueSheet("Wert", 1), valueSheet("Wert", 10), valueSheet("Wert", 100)}

	res, err := NewDriver(e.context(cat, src, nil, Options{})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Jahr", "Beruf", "Region", "Wert", "Wert_a1", "Wert_a1.1"}, res.Dataset.Columns)
	require.Equal(t, 6, res.Dataset.Len())
	for i, row := range res.Dataset.Rows {
		require.Len(t, row, 6)
		country := fmt.Sprintf("c name %d", i/2+1)
		if i%2 == 0 {
			assert.Equal(t, []string{"2020", "o name 1", country, "1", "10", "100"}, row)
		} else {
			assert.Equal(t, []string{"2021", "o name 1", country, "2", "11", "101"}, row)
		}
	}

	final, err := snapshot.ReadFile(res.FinalPath, ',')
	require.NoError(t, err)
	assert.Equal(t, res.Dataset.Columns, final.Columns)
	assert.Equal(t, res.Dataset.Rows, final.Rows)
}

func TestRun_NoCombinations(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(2, 2, 0)
	src := sourceFor(cat)

	_, err := NewDriver(e.context(cat, src, nil, Options{})).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCombinations))
	assert.Empty(t, src.urls)
}

func TestRun_HeaderParseErrorAborts(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(1, 1, 1)
	src := sourceFor(cat)
	src.sheets["a1"] = []table.RawSheet{{Name: "Daten", Rows: [][]table.Cell{{table.Number(2020), table.Number(1)}}}}

	_, err := NewDriver(e.context(cat, src, nil, Options{})).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, table.ErrHeaderParse))
}

func TestRun_CatalogChangeDetected(t *testing.T) {
	e := newEnv(t)
	cat := testCatalog(1, 2, 1)
	_, err := NewDriver(e.context(cat, sourceFor(cat), nil, Options{})).Run(context.Background())
	require.NoError(t, err)

	changed := testCatalog(1, 2, 1)
	changed.Occupations[0], changed.Occupations[1] = changed.Occupations[1], changed.Occupations[0]

	_, err = NewDriver(e.context(changed, sourceFor(changed), nil, Options{})).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrCatalogChanged))

	_, err = NewDriver(e.context(changed, sourceFor(changed), nil, Options{IgnoreCatalogChange: true})).Run(context.Background())
	assert.NoError(t, err)
}

func TestPlan(t *testing.T) {
	reqs, err := Plan(testCatalog(2, 1, 2), testExportURL)
	require.NoError(t, err)
	require.Len(t, reqs, 4)
	assert.Equal(t, "http://portal.test/export.xls?a=a2&o=o1&c=c2&y=2023", reqs[3].URL)
	assert.Equal(t, 3, reqs[3].Index)

	_, err = Plan(testCatalog(0, 1, 1), testExportURL)
	assert.True(t, errors.Is(err, ErrNoCombinations))
}
