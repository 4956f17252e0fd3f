package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Copy every relation and the run log into another store",
	Long:  "Copies the configured store into a second store, e.g. a local SQLite run published to Postgres.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		driver, _ := cmd.Flags().GetString("to-driver")
		dsn, _ := cmd.Flags().GetString("to")
		if dsn == "" {
			return eris.New("mirror: --to is required")
		}

		from, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer from.Close() //nolint:errcheck

		to, err := store.Open(ctx, driver, dsn)
		if err != nil {
			return err
		}
		defer to.Close() //nolint:errcheck
		if err := to.Migrate(ctx); err != nil {
			return err
		}

		res, err := store.Mirror(ctx, from, to)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "mirrored %d relations (%d rows) and %d runs\n", res.Relations, res.Rows, res.Runs)
		return nil
	},
}

func init() {
	mirrorCmd.Flags().String("to-driver", "postgres", "destination store driver (sqlite, postgres)")
	mirrorCmd.Flags().String("to", "", "destination database URL or path")
	rootCmd.AddCommand(mirrorCmd)
}
