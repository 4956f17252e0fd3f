package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaaleriarv/proyecto-salud/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export [relation...]",
	Short: "Write stored relations as Parquet files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("export"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Export.Dir
		}

		files, err := export.Relations(ctx, st, dir, args)
		for _, f := range files {
			_, _ = fmt.Fprintf(os.Stdout, "%s\t%d rows\t%s\n", f.Relation, f.Rows, f.Path)
		}
		return err
	},
}

func init() {
	exportCmd.Flags().String("dir", "", "output directory (default from config)")
	rootCmd.AddCommand(exportCmd)
}
