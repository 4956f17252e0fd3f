package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "salud",
	Short: "Health, food composition and price integration pipeline",
	Long:  "Loads survey, food-composition and retail price snapshots, reshapes measurements into feature vectors, links price and nutrient catalogs, and derives clinical and food-cost indicators.",
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
