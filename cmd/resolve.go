package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/pipeline"
	"github.com/vaaleriarv/proyecto-salud/internal/resolve"
	"github.com/vaaleriarv/proyecto-salud/internal/schema"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Link the stored price catalog to the nutrition catalog",
	Long:  "Runs only the catalog resolution stage over relations already in the store and prints the resulting links.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		engine, st, err := initEngine(ctx, "run")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := engine.Run(ctx, pipeline.RunOpts{Stages: []string{"resolve_catalogs"}})
		if err != nil {
			return eris.Wrap(err, "resolve")
		}
		if s := sum.Stage("resolve_catalogs"); s == nil || s.Status != pipeline.StageOK {
			formatSummary(os.Stderr, sum)
			return eris.New("resolve: stage did not complete")
		}

		rel, err := st.ReadRelation(ctx, schema.MatchLinks(pipeline.CatalogLinks), 0)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		formatLinks(os.Stdout, resolve.DecodeLinks(rel), limit)
		return nil
	},
}

func init() {
	resolveCmd.Flags().Int("limit", 50, "max number of links to print (0 prints all)")
	rootCmd.AddCommand(resolveCmd)
}

// formatLinks prints up to limit links followed by counts per status.
func formatLinks(out io.Writer, links []model.MatchLink, limit int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY_A\tNAME_A\tENTITY_B\tNAME_B\tSCORE\tSTATUS")
	counts := make(map[model.MatchStatus]int)
	for i, l := range links {
		counts[l.Status]++
		if limit > 0 && i >= limit {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\n",
			l.EntityIDA, l.NormalizedNameA, l.EntityIDB, l.NormalizedNameB, l.Score, l.Status)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d matched, %d ambiguous, %d unmatched\n",
		counts[model.Matched], counts[model.Ambiguous], counts[model.Unmatched])
}
