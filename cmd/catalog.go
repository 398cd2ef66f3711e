package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dazubi/internal/catalog"
)

var (
	catalogYAML bool
	catalogSave string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the selectable attributes, occupations, countries and years",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cat, err := loadCatalog(ctx, cfg, newFetcher(cfg))
		if err != nil {
			return err
		}
		logCatalog(cat)

		if catalogSave != "" {
			if err := catalog.SaveLock(catalogSave, cat); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "catalog written to %s\n", catalogSave)
		}
		if catalogYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(cat); err != nil {
				return eris.Wrap(err, "encode catalog")
			}
			return eris.Wrap(enc.Close(), "encode catalog")
		}
		return printCatalog(os.Stdout, cat)
	},
}

func printCatalog(out io.Writer, cat *catalog.Catalog) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DIMENSION\tPOS\tID\tNAME")
	_, _ = fmt.Fprintln(w, "---------\t---\t--\t----")
	dims := []struct {
		name string
		opts []catalog.Option
	}{
		{"attribute", cat.Attributes},
		{"occupation", cat.Occupations},
		{"country", cat.Countries},
		{"year", cat.Years},
	}
	for _, d := range dims {
		for i, o := range d.opts {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.name, i, o.ID, truncate(o.Name, 60))
		}
	}
	if err := w.Flush(); err != nil {
		return eris.Wrap(err, "write catalog")
	}
	_, _ = fmt.Fprintf(out, "\n%d combinations\n", cat.Total())
	return nil
}

func init() {
	catalogCmd.Flags().BoolVar(&catalogYAML, "yaml", false, "print the catalog as YAML")
	catalogCmd.Flags().StringVar(&catalogSave, "save", "", "also write the catalog as a lock file to this path")
	rootCmd.AddCommand(catalogCmd)
}
