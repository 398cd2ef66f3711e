package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dazubi",
	Short: "Harvest the DAZUBI apprenticeship statistics",
	Long:  "Downloads one spreadsheet per attribute, occupation and country from the BIBB DAZUBI portal, flattens the multi-row headers and merges everything into one resumable CSV dataset.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
