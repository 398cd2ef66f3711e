// Package pipeline drives a harvesting run: it restores the newest snapshot,
// downloads and merges every remaining combination in catalog order and
// checkpoints the accumulated dataset along the way.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/catalog"
	"github.com/sells-group/dazubi/internal/fetcher"
	"github.com/sells-group/dazubi/internal/snapshot"
	"github.com/sells-group/dazubi/internal/table"
)

// DefaultCoverSheet is the title tab present in every exported workbook.
const DefaultCoverSheet = "Deckblatt"

// ErrNoCombinations is returned when the catalog has an empty dimension.
var ErrNoCombinations = eris.New("pipeline: catalog yields no combinations")

// WorkbookSource downloads and decodes one spreadsheet export.
type WorkbookSource interface {
	FetchWorkbook(ctx context.Context, url string) (*fetcher.Workbook, error)
}

// Ledger records runs. runlog.Store implements it.
type Ledger interface {
	Start(ctx context.Context, startIndex, total int) (string, error)
	Finish(ctx context.Context, id string, endIndex int, runErr error) error
}

// Options are the per-run settings.
type Options struct {
	ExportURL string
	// StartWith skips every combination below it, even without a snapshot.
	StartWith int
	// Sleep is the pause after each download.
	Sleep time.Duration
	// WriteEvery is the checkpoint cadence in combinations. Checkpoints are
	// only taken after a complete (occupation, country) pair. Default 1.
	WriteEvery  int
	Retain      int
	SanityCheck bool
	// HeaderStrategy selects how multi-row headers become column names.
	HeaderStrategy table.HeaderStrategy
	// CoverSheet is skipped in every workbook. Default "Deckblatt".
	CoverSheet string
	// CatalogLock is where the catalog of the run is recorded; empty disables
	// the stability check.
	CatalogLock         string
	IgnoreCatalogChange bool
	// FinalPath receives the complete dataset when the run finishes.
	FinalPath string
	Delimiter rune
}

// Context is everything a run needs. It is built once at startup and not
// modified while the driver runs.
type Context struct {
	Catalog   *catalog.Catalog
	Source    WorkbookSource
	Snapshots *snapshot.Store
	// Attributes receives a dump of the pair table after every sheet when set.
	Attributes *snapshot.Store
	Ledger     Ledger
	Observer   Observer
	Options    Options

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Result summarises a finished run.
type Result struct {
	RunID     string
	Dataset   *table.Table
	Restored  int
	Start     int
	Next      int
	Total     int
	Fetched   int
	FinalPath string
	// CleanupErr is the last snapshot cleanup failure. Cleanup failures do
	// not abort the run.
	CleanupErr error
}

// Driver runs the harvesting state machine.
type Driver struct {
	pc    Context
	opts  Options
	obs   Observer
	log   *zap.Logger
	state State

	runID        string
	began        time.Time
	acc          *table.Table
	done         int
	checkpointed int
	fetched      int
	cleanupErr   error
}

// NewDriver fills in defaults and returns a driver for one run.
func NewDriver(pc Context) *Driver {
	if pc.Observer == nil {
		pc.Observer = NopObserver{}
	}
	if pc.Sleep == nil {
		pc.Sleep = sleepContext
	}
	if pc.Now == nil {
		pc.Now = time.Now
	}
	opts := pc.Options
	if opts.ExportURL == "" {
		opts.ExportURL = catalog.DefaultExportURL
	}
	if opts.WriteEvery <= 0 {
		opts.WriteEvery = 1
	}
	if opts.CoverSheet == "" {
		opts.CoverSheet = DefaultCoverSheet
	}
	return &Driver{
		pc:    pc,
		opts:  opts,
		obs:   pc.Observer,
		log:   zap.L().With(zap.String("component", "pipeline")),
		state: StateInit,
	}
}

// State returns the current state.
func (d *Driver) State() State { return d.state }

// Run executes the pipeline. On failure the accumulated dataset of all
// complete pairs is checkpointed before the error is returned.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	d.began = d.pc.Now()
	d.obs.OnState("", StateInit)

	if d.pc.Catalog == nil || d.pc.Source == nil || d.pc.Snapshots == nil {
		return nil, d.abort(ctx, eris.New("pipeline: catalog, source and snapshot store are required"))
	}
	reqs, err := Plan(d.pc.Catalog, d.opts.ExportURL)
	if err != nil {
		return nil, d.abort(ctx, err)
	}
	if err := d.pc.Catalog.Validate(); err != nil {
		return nil, d.abort(ctx, err)
	}
	total := len(reqs)

	d.transition(StateRestoring)
	restored, acc, err := d.pc.Snapshots.Restore()
	if err != nil {
		return nil, d.abort(ctx, err)
	}
	d.acc, d.done, d.checkpointed = acc, restored, restored
	if err := d.lockCatalog(restored); err != nil {
		return nil, d.abort(ctx, err)
	}

	start := max(restored, d.opts.StartWith)
	if start > total {
		d.log.Warn("start index beyond last combination", zap.Int("start", start), zap.Int("total", total))
		start = total
	}
	d.startLedger(ctx, start, total)
	d.log.Info("starting run",
		zap.Int("total", total),
		zap.Int("restored", restored),
		zap.Int("start", start),
	)

	d.transition(StateIterating)
	per := len(d.pc.Catalog.Attributes)
	pending := 0
	for p := 0; p < total; p += per {
		end := p + per
		if end <= start {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, d.abort(ctx, eris.Wrap(err, "pipeline: interrupted"))
		}
		occ, err := d.harvestPair(ctx, reqs[p:end], start, total)
		if err != nil {
			return nil, d.abort(ctx, err)
		}
		d.acc = table.AppendRows(d.acc, occ)
		pending += end - max(p, start)
		d.done = end

		if pending >= d.opts.WriteEvery {
			if err := d.checkpoint(ctx); err != nil {
				return nil, d.abort(ctx, err)
			}
			pending = 0
		}
	}

	if d.done > d.checkpointed {
		if err := d.checkpoint(ctx); err != nil {
			return nil, d.abort(ctx, err)
		}
	}
	if d.opts.FinalPath != "" {
		if err := snapshot.WriteFile(ctx, d.opts.FinalPath, d.acc, d.opts.Delimiter); err != nil {
			return nil, d.abort(ctx, err)
		}
		d.obs.OnCheckpoint(Checkpoint{Index: d.done, Path: d.opts.FinalPath, Rows: d.acc.Len(), Final: true})
	}

	d.transition(StateDone)
	d.finishLedger(ctx, nil)
	d.log.Info("run complete",
		zap.Int("combinations", d.done),
		zap.Int("fetched", d.fetched),
		zap.Int("rows", d.acc.Len()),
		zap.Duration("elapsed", d.pc.Now().Sub(d.began)),
	)
	return &Result{
		RunID:      d.runID,
		Dataset:    d.acc,
		Restored:   restored,
		Start:      start,
		Next:       d.done,
		Total:      total,
		Fetched:    d.fetched,
		FinalPath:  d.opts.FinalPath,
		CleanupErr: d.cleanupErr,
	}, nil
}

// harvestPair downloads every attribute of one (occupation, country) pair
// at or after start and merges the sheets into one table.
func (d *Driver) harvestPair(ctx context.Context, pair []Request, start, total int) (*table.Table, error) {
	var occ *table.Table
	for _, r := range pair {
		if r.Index < start {
			continue
		}
		d.obs.OnProgress(Progress{
			Index:      r.Index,
			Total:      total,
			Elapsed:    d.pc.Now().Sub(d.began),
			URL:        r.URL,
			Attribute:  r.Attribute.Name,
			Occupation: r.Occupation.Name,
			Country:    r.Country.Name,
		})

		wb, err := d.pc.Source.FetchWorkbook(ctx, r.URL)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: combination %d", r.Index)
		}
		d.fetched++

		for _, sheet := range wb.Sheets {
			if sheet.Name == d.opts.CoverSheet {
				continue
			}
			norm, err := table.Normalize(sheet, d.opts.HeaderStrategy)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: combination %d sheet %q", r.Index, sheet.Name)
			}
			occ, err = table.MergeAttribute(occ, norm, r.Attribute.ID, r.Occupation.Name, r.Country.Name)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: combination %d sheet %q", r.Index, sheet.Name)
			}
			d.dumpAttribute(ctx, occ, r.Index)
		}

		if err := d.pc.Sleep(ctx, d.opts.Sleep); err != nil {
			return nil, eris.Wrap(err, "pipeline: interrupted")
		}
	}
	return occ, nil
}

func (d *Driver) dumpAttribute(ctx context.Context, occ *table.Table, index int) {
	if d.pc.Attributes == nil {
		return
	}
	if _, err := d.pc.Attributes.Persist(ctx, occ, index); err != nil {
		d.log.Warn("attribute dump failed", zap.Int("index", index), zap.Error(err))
	}
}

func (d *Driver) checkpoint(ctx context.Context) error {
	d.transition(StateCheckpointing)
	path, err := d.pc.Snapshots.Persist(ctx, d.acc, d.done)
	if err != nil {
		return err
	}
	d.checkpointed = d.done
	cp := Checkpoint{Index: d.done, Path: path, Rows: d.acc.Len()}

	if d.opts.Retain > 0 {
		removed, err := d.pc.Snapshots.Cleanup(d.opts.Retain, d.opts.SanityCheck)
		if err != nil {
			d.cleanupErr = err
			d.log.Error("snapshot cleanup skipped", zap.Error(err))
		}
		cp.Removed = removed
	}
	d.obs.OnCheckpoint(cp)
	d.transition(StateIterating)
	return nil
}

// abort saves the complete pairs accumulated so far and moves to ABORTED.
// The save ignores cancellation of ctx so an interrupt still keeps progress.
func (d *Driver) abort(ctx context.Context, cause error) error {
	if d.acc != nil && d.done > d.checkpointed {
		saveCtx := context.WithoutCancel(ctx)
		if path, err := d.pc.Snapshots.Persist(saveCtx, d.acc, d.done); err != nil {
			d.log.Error("checkpoint before abort failed", zap.Error(err))
		} else {
			d.checkpointed = d.done
			d.obs.OnCheckpoint(Checkpoint{Index: d.done, Path: path, Rows: d.acc.Len()})
		}
	}
	d.transition(StateAborted)
	d.finishLedger(ctx, cause)
	d.log.Error("run aborted", zap.Int("index", d.done), zap.Error(cause))
	return cause
}

func (d *Driver) transition(to State) {
	from := d.state
	d.state = to
	d.obs.OnState(from, to)
}

// lockCatalog compares the catalog with the one recorded by a previous run
// and records the current one. Indexes from a snapshot only mean the same
// combinations if country, occupation and attribute order are unchanged.
func (d *Driver) lockCatalog(restored int) error {
	path := d.opts.CatalogLock
	if path == "" {
		return nil
	}
	prev, err := catalog.LoadLock(path)
	if err != nil {
		return err
	}
	if restored > 0 {
		switch {
		case prev == nil:
			d.log.Warn("resuming without a catalog lock", zap.String("path", path))
		default:
			if err := d.pc.Catalog.CompatibleWith(prev); err != nil {
				if !d.opts.IgnoreCatalogChange {
					return err
				}
				d.log.Warn("catalog changed since the last run", zap.Error(err))
			}
		}
	}
	return catalog.SaveLock(path, d.pc.Catalog)
}

func (d *Driver) startLedger(ctx context.Context, start, total int) {
	if d.pc.Ledger == nil {
		return
	}
	id, err := d.pc.Ledger.Start(ctx, start, total)
	if err != nil {
		d.log.Warn("run ledger unavailable", zap.Error(err))
		return
	}
	d.runID = id
	d.log = d.log.With(zap.String("run_id", id))
}

func (d *Driver) finishLedger(ctx context.Context, runErr error) {
	if d.pc.Ledger == nil || d.runID == "" {
		return
	}
	if err := d.pc.Ledger.Finish(context.WithoutCancel(ctx), d.runID, d.done, runErr); err != nil {
		d.log.Warn("failed to record run result", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
