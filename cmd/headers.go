package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dazubi/internal/report"
)

var headersOut string

var headersSleep = seconds(time.Second)

var headersCmd = &cobra.Command{
	Use:   "headers",
	Short: "Survey the column names of every attribute",
	Long: `Downloads every attribute for the first occupation and country and
writes the reconstructed column names under both header strategies to an
Excel workbook.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f := newFetcher(cfg)
		cat, err := loadCatalog(ctx, cfg, f)
		if err != nil {
			return err
		}

		out := headersOut
		if out == "" {
			out = dataPath(cfg, "new_names.xlsx")
		}

		attrs, err := report.Survey(ctx, cat, f, report.Options{
			ExportURL:  cfg.Portal.ExportURL,
			CoverSheet: cfg.Pipeline.CoverSheet,
			Sleep:      time.Duration(headersSleep),
		})
		if err != nil {
			return err
		}
		if err := report.WriteHeaderSurvey(out, attrs); err != nil {
			return err
		}

		failed, differing := 0, 0
		for _, a := range attrs {
			if a.Err != nil {
				failed++
			}
			for _, c := range a.Columns {
				if c.Differs() {
					differing++
				}
			}
		}
		fmt.Fprintf(os.Stdout, "%d attributes surveyed (%d failed), %d columns differ between strategies, written to %s\n",
			len(attrs), failed, differing, out)
		return nil
	},
}

func init() {
	headersCmd.Flags().StringVarP(&headersOut, "out", "o", "", "output workbook (default <data_dir>/new_names.xlsx)")
	headersCmd.Flags().VarP(&headersSleep, "sleep", "s", "pause between downloads, in seconds or as a duration")
	rootCmd.AddCommand(headersCmd)
}
