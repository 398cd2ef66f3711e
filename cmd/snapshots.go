package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/snapshot"
)

var (
	snapAttributes bool
	snapRetain     int
	snapNoSanity   bool
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List the dataset snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store := snapshotStoreFor(snapAttributes)
		snaps, err := store.List()
		if err != nil {
			return err
		}
		return formatSnapshots(os.Stdout, store.Dir(), snaps)
	},
}

var snapshotsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete all but the newest snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if snapRetain <= 0 {
			return eris.New("--retain must be positive")
		}
		removed, err := snapshotStoreFor(snapAttributes).Cleanup(snapRetain, !snapNoSanity)
		for _, p := range removed {
			fmt.Fprintf(os.Stdout, "removed %s\n", p)
		}
		if err != nil {
			return err
		}
		zap.L().Info("snapshot cleanup finished", zap.Int("removed", len(removed)))
		fmt.Fprintf(os.Stdout, "%d snapshots removed\n", len(removed))
		return nil
	},
}

func snapshotStoreFor(attributes bool) *snapshot.Store {
	if attributes {
		return snapshotStore(cfg, cfg.Output.AttrDir)
	}
	return snapshotStore(cfg, cfg.Output.OccDir)
}

func formatSnapshots(out io.Writer, dir string, snaps []snapshot.Snapshot) error {
	if len(snaps) == 0 {
		_, _ = fmt.Fprintf(out, "No snapshots found in %s.\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDEX\tFILE\tSIZE\tMODIFIED")
	_, _ = fmt.Fprintln(w, "-----\t----\t----\t--------")
	for _, s := range snaps {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", s.Index, filepath.Base(s.Path), s.Size, s.ModTime.Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if err := snapshot.CheckOrdering(snaps); err != nil {
		_, _ = fmt.Fprintf(out, "\nordering check failed: %v\n", err)
	} else {
		_, _ = fmt.Fprintln(out, "\nordering check passed")
	}
	return nil
}

func init() {
	snapshotsCmd.PersistentFlags().BoolVar(&snapAttributes, "attributes", false, "use the attribute dump directory")
	snapshotsCleanupCmd.Flags().IntVar(&snapRetain, "retain", 2, "number of newest snapshots to keep")
	snapshotsCleanupCmd.Flags().BoolVar(&snapNoSanity, "no-sanity-check", false, "skip the size and mtime ordering check")
	snapshotsCmd.AddCommand(snapshotsCleanupCmd)
	rootCmd.AddCommand(snapshotsCmd)
}
