package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/catalog"
	"github.com/sells-group/dazubi/internal/config"
	"github.com/sells-group/dazubi/internal/monitoring"
	"github.com/sells-group/dazubi/internal/pipeline"
	"github.com/sells-group/dazubi/internal/snapshot"
	"github.com/sells-group/dazubi/internal/table"
)

var (
	dlDownload            bool
	dlStartWith           int
	dlIgnoreCatalogChange bool
	dlPlanLimit           int
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download every combination and build the dataset",
	Long: `Loads the catalog from the portal and, with --download, fetches one
spreadsheet per attribute, occupation and country. The run resumes from the
newest snapshot in the occupation directory. Without --download only the
catalog and the plan are shown.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyDownloadFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		strategy, err := table.ParseHeaderStrategy(cfg.Pipeline.HeaderStrategy)
		if err != nil {
			return err
		}

		f := newFetcher(cfg)
		cat, err := loadCatalog(ctx, cfg, f)
		if err != nil {
			return err
		}
		logCatalog(cat)

		snapshots := snapshotStore(cfg, cfg.Output.OccDir)
		if !dlDownload {
			return printPlan(os.Stdout, cat, snapshots, cfg.Portal.ExportURL, dlStartWith, dlPlanLimit)
		}

		pc := pipeline.Context{
			Catalog:   cat,
			Source:    f,
			Snapshots: snapshots,
			Options: pipeline.Options{
				ExportURL:           cfg.Portal.ExportURL,
				StartWith:           dlStartWith,
				Sleep:               cfg.Pipeline.Sleep(),
				WriteEvery:          cfg.Pipeline.WriteEvery,
				Retain:              cfg.Pipeline.Retain,
				SanityCheck:         cfg.Pipeline.SanityCheck,
				HeaderStrategy:      strategy,
				CoverSheet:          cfg.Pipeline.CoverSheet,
				CatalogLock:         dataPath(cfg, cfg.Output.CatalogLock),
				IgnoreCatalogChange: dlIgnoreCatalogChange,
				FinalPath:           finalPath(cfg),
				Delimiter:           cfg.Output.Comma(),
			},
		}
		if cfg.Pipeline.SaveAttributes {
			pc.Attributes = snapshotStore(cfg, cfg.Output.AttrDir)
		}

		metrics := monitoring.NewMetricsObserver(cfg.Metrics.TextfilePath)
		pc.Observer = monitoring.Multi{monitoring.NewLogObserver(nil), metrics}

		if ledger, err := openRunLog(ctx, cfg); err != nil {
			zap.L().Warn("run ledger disabled", zap.Error(err))
		} else {
			defer ledger.Close() //nolint:errcheck
			pc.Ledger = ledger
		}

		res, err := pipeline.NewDriver(pc).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "download")
		}
		if res.CleanupErr != nil {
			fmt.Fprintf(os.Stderr, "warning: snapshot cleanup skipped: %v\n", res.CleanupErr)
		}
		fmt.Fprintf(os.Stdout, "%d of %d combinations done, %d downloaded in this run, %d rows written to %s\n",
			res.Next, res.Total, res.Fetched, res.Dataset.Len(), res.FinalPath)
		return nil
	},
}

// applyDownloadFlags copies explicitly set flags over the configuration.
func applyDownloadFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	var err error
	setInt := func(name string, dst *int) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetBool(name)
		}
	}

	setInt("write-skip", &c.Pipeline.WriteEvery)
	setInt("retain", &c.Pipeline.Retain)
	setInt("retries", &c.Fetch.MaxRetries)
	setBool("compress", &c.Pipeline.Compress)
	setBool("save-attributes", &c.Pipeline.SaveAttributes)

	var noSanity bool
	setBool("no-sanity-check", &noSanity)
	if noSanity {
		c.Pipeline.SanityCheck = false
	}
	if err == nil && flags.Changed("sleep") {
		if f := flags.Lookup("sleep"); f != nil {
			if v, ok := f.Value.(*seconds); ok {
				c.Pipeline.SleepSecs = time.Duration(*v).Seconds()
			}
		}
	}
	if err == nil && flags.Changed("header-strategy") {
		c.Pipeline.HeaderStrategy, err = flags.GetString("header-strategy")
	}
	return eris.Wrap(err, "download flags")
}

// printPlan shows the counts, the resume point and the next requests.
func printPlan(out io.Writer, cat *catalog.Catalog, snapshots *snapshot.Store, exportURL string, startWith, limit int) error {
	reqs, err := pipeline.Plan(cat, exportURL)
	if err != nil {
		return err
	}
	snaps, err := snapshots.List()
	if err != nil {
		return err
	}
	next := 0
	if len(snaps) > 0 {
		next = snaps[len(snaps)-1].Index
	}
	start := min(max(next, startWith), len(reqs))

	_, _ = fmt.Fprintf(out, "%d attributes, %d occupations, %d countries, %d years\n",
		len(cat.Attributes), len(cat.Occupations), len(cat.Countries), len(cat.Years))
	_, _ = fmt.Fprintf(out, "%d combinations, resume at %d, %d remaining\n", len(reqs), start, len(reqs)-start)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDEX\tCOUNTRY\tOCCUPATION\tATTRIBUTE\tURL")
	shown := 0
	for _, r := range reqs {
		if r.Index < start {
			continue
		}
		if limit > 0 && shown >= limit {
			break
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Index,
			truncate(r.Country.Name, 20), truncate(r.Occupation.Name, 30), truncate(r.Attribute.Name, 30), r.URL)
		shown++
	}
	_ = w.Flush()
	_, _ = fmt.Fprintln(out, "use --download to start")
	return nil
}

// registerOverrideFlags adds the flags that override configuration values.
func registerOverrideFlags(fs *pflag.FlagSet) {
	sleep := seconds(time.Second)
	fs.VarP(&sleep, "sleep", "s", "pause after each download, in seconds (2, 0.5) or as a duration (1500ms)")
	fs.BoolP("save-attributes", "a", false, "dump the pair table after every attribute sheet")
	fs.Int("write-skip", 1, "write a snapshot every N combinations")
	fs.Bool("no-sanity-check", false, "skip the size and mtime ordering check before cleanup")
	fs.Bool("compress", false, "write bzip2 compressed snapshots")
	fs.Int("retain", 0, "keep only the N newest snapshots (0 keeps all)")
	fs.Int("retries", 5, "retries per download after the first attempt")
	fs.String("header-strategy", "prefix", "header reconstruction: prefix or cumulative")
}

func init() {
	downloadCmd.Flags().BoolVarP(&dlDownload, "download", "d", false, "start the download; without it only the plan is shown")
	downloadCmd.Flags().IntVarP(&dlStartWith, "start-with", "w", 0, "skip every combination below this index")
	registerOverrideFlags(downloadCmd.Flags())
	downloadCmd.Flags().BoolVar(&dlIgnoreCatalogChange, "ignore-catalog-change", false, "resume even if the catalog order changed")
	downloadCmd.Flags().IntVar(&dlPlanLimit, "plan-limit", 20, "rows of the plan to show without --download (0 shows all)")
	rootCmd.AddCommand(downloadCmd)
}
