package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "shaderoute",
	Short: "Sun-exposure-aware pedestrian routing",
	Long:  "Projects building shadows for a sun position, measures how much of each street is shaded, and routes pedestrians along the shadiest acceptable path.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
