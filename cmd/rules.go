package main

import (
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vaaleriarv/proyecto-salud/internal/indicator"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective indicator rule sets as YAML",
	Long:  "Prints the built-in indicator rule sets, overlaid with indicators.rules_file when set, in the rules file format. The output is a starting point for a custom rules file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sets, err := indicator.LoadRuleSets(cfg.Indicators.RulesFile)
		if err != nil {
			return eris.Wrap(err, "rules")
		}
		only, _ := cmd.Flags().GetStringSlice("set")
		return writeRuleSets(os.Stdout, sets, only)
	},
}

func init() {
	rulesCmd.Flags().StringSlice("set", nil, "print only these rule sets (default: all)")
	rootCmd.AddCommand(rulesCmd)
}

// writeRuleSets renders the selected sets, sorted by name, to out.
func writeRuleSets(out io.Writer, sets map[string]indicator.RuleSet, only []string) error {
	names := only
	if len(names) == 0 {
		for name := range sets {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	selected := make([]indicator.RuleSet, 0, len(names))
	for _, name := range names {
		s, ok := sets[name]
		if !ok {
			return eris.Errorf("rules: unknown rule set %q", name)
		}
		selected = append(selected, s)
	}
	data, err := indicator.MarshalRuleSets(selected...)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return eris.Wrap(err, "rules: write")
}
