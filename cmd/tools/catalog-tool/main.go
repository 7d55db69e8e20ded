// cmd/tools/catalog-tool/main.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"assessment-sync/internal/assessment/replay"
	"assessment-sync/internal/models"
	"assessment-sync/pkg/catalog"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var catalogPath string

	rootCmd := &cobra.Command{
		Use:          "catalog-tool",
		Short:        "Inspect an indicator catalog and score answer sets against it",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Path to catalog JSON (empty uses the embedded default)")

	load := func() (*catalog.Catalog, error) {
		return catalog.Load(catalogPath)
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the catalog against its schema and structural rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ catalog %s is valid: %d pillars, %d indicators\n",
				cat.Version, len(cat.PillarIDs()), cat.Len())
			return nil
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print indicators per pillar with unit and evidence rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := load()
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cat)
			return nil
		},
	}

	var scriptPath string
	var asJSON bool
	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Score a YAML answer script offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := load()
			if err != nil {
				return err
			}
			script, err := replay.LoadScript(scriptPath)
			if err != nil {
				return err
			}
			app, missing, err := replay.Score(script, cat, time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{"scores": app.Scores, "missing": missing})
			}
			printScores(cmd.OutOrStdout(), cat, app.Scores.Overall, app.Scores.Completion, app.Scores.Pillars, missing)
			return nil
		},
	}
	scoreCmd.Flags().StringVar(&scriptPath, "script", "", "Answer script (YAML)")
	scoreCmd.Flags().BoolVar(&asJSON, "json", false, "Print scores as JSON")
	_ = scoreCmd.MarkFlagRequired("script")

	rootCmd.AddCommand(validateCmd, summaryCmd, scoreCmd)
	return rootCmd
}

func printSummary(w io.Writer, cat *catalog.Catalog) {
	fmt.Fprintf(w, "Catalog %s\n", cat.Version)
	for _, pillarID := range cat.PillarIDs() {
		p, _ := cat.Pillar(pillarID)
		fmt.Fprintf(w, "\n%s  %s (%d indicators)\n", p.ID, p.Title, len(p.Indicators))
		for _, ind := range p.Indicators {
			rule := string(ind.Evidence.Rule)
			if ind.Evidence.Rule == catalog.RuleBelowScore {
				rule = fmt.Sprintf("%s %.0f", rule, ind.Evidence.Threshold)
			}
			unit := string(ind.Unit)
			if ind.MaxScore > 0 {
				unit = fmt.Sprintf("%s/%.0f", unit, ind.MaxScore)
			}
			fmt.Fprintf(w, "  %-8s %-14s evidence=%-16s %s\n", ind.ID, unit, rule, ind.Title)
		}
	}
}

func printScores(w io.Writer, cat *catalog.Catalog, overall, completion float64, pillars map[string]models.PillarScore, missing []string) {
	fmt.Fprintf(w, "Overall score: %.1f  completion: %.1f%%\n", overall, completion)
	for _, id := range cat.PillarIDs() {
		ps := pillars[id]
		fmt.Fprintf(w, "  %-9s score %5.1f  completion %5.1f%%  (%d/%d complete)\n",
			id, ps.Score, ps.Completion, ps.Completed, ps.Total)
	}
	if len(missing) == 0 {
		fmt.Fprintln(w, "Ready to submit")
		return
	}
	fmt.Fprintf(w, "Missing (%d):\n", len(missing))
	for _, m := range missing {
		fmt.Fprintf(w, "  - %s\n", m)
	}
}
