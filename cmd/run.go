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

	"github.com/vaaleriarv/proyecto-salud/internal/pipeline"
	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load sources and run the integration stages",
	Long:  "Loads every configured source into the store, then runs the selected stages in dependency order and records the run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, st, err := initEngine(ctx, "run")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stages, _ := cmd.Flags().GetStringSlice("stages")
		skipLoad, _ := cmd.Flags().GetBool("skip-load")

		opts := pipeline.RunOpts{Stages: stages}
		if !skipLoad {
			opts.Sources = cfg.Sources
		}

		sum, err := engine.Run(ctx, opts)
		if sum != nil {
			formatSummary(os.Stdout, sum)
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}
		if sum.Status == store.RunFailed {
			return eris.New("run: failed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSlice("stages", nil, "run only these stages (default: all)")
	runCmd.Flags().Bool("skip-load", false, "use relations already in the store instead of reloading sources")
	rootCmd.AddCommand(runCmd)
}

// formatSummary writes one line per stage and the run status to out.
func formatSummary(out io.Writer, sum *pipeline.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tROWS\tWARNINGS\tNOTE")
	for _, s := range sum.Stages {
		rows := 0
		for _, n := range s.Rows {
			rows += n
		}
		note := s.Error
		switch {
		case len(s.MissingRequired) > 0:
			note = fmt.Sprintf("missing %v", s.MissingRequired)
		case note == "" && len(s.MissingOptional) > 0:
			note = fmt.Sprintf("without %v", s.MissingOptional)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.Name, s.Status, rows, s.Warnings, note)
	}
	_ = w.Flush()

	ok, skipped, failed := sum.Counts()
	_, _ = fmt.Fprintf(out, "\nstatus: %s (%d ok, %d skipped, %d failed) in %s\n",
		sum.Status, ok, skipped, failed, sum.Elapsed.Round(1e6))
}
