package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vaaleriarv/proyecto-salud/internal/source"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load configured sources into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		engine, st, err := initEngine(ctx, "load")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, _, err := engine.Load(ctx, cfg.Sources)
		if err != nil {
			return err
		}
		formatLoadReports(os.Stdout, res.Reports)

		if missing := res.Missing(true); len(missing) > 0 {
			return fmt.Errorf("load: %d required source(s) unavailable", len(missing))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

// formatLoadReports writes a tabular list of source reports to out.
func formatLoadReports(out io.Writer, reports []source.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tRELATION\tROWS\tPARSE_ERRORS\tSTATUS")
	for _, r := range reports {
		status := "ok"
		switch {
		case r.Err != nil && r.Optional:
			status = "absent (optional)"
		case r.Err != nil:
			status = "failed: " + r.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.Source, r.Relation, r.Rows, r.ParseErrors, status)
	}
	_ = w.Flush()
}
