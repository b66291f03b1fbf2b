package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/ccobench/internal/analysis"
	"github.com/signalnine/ccobench/internal/compare"
	"github.com/signalnine/ccobench/internal/workspace"
)

var flagCompareJSON bool

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <project>",
		Short: "Compare the cached analyses of both variants of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if _, ok := cfg.Project(args[0]); !ok {
				return fmt.Errorf("unknown project %q", args[0])
			}
			layout := workspace.New(cfg.Workspace.Dir, cfg.Results.Dir, cfg.Workspace.MarkerDir)

			var reports [2]*analysis.Report
			for i, v := range []workspace.Variant{workspace.Vanilla, workspace.CCO} {
				r, err := analysis.ReadReport(layout.AnalysisPath(args[0], v))
				if errors.Is(err, analysis.ErrNoReport) {
					return fmt.Errorf("no %s analysis for %s; run the benchmark first", v, args[0])
				}
				if err != nil {
					return err
				}
				reports[i] = r
			}

			engine := compare.NewEngine(compare.Thresholds{
				Significant: cfg.Comparison.SignificantDelta,
				Notable:     cfg.Comparison.NotableDelta,
			})
			res := engine.Compare(reports[0].Metrics, reports[0].AI, reports[1].Metrics, reports[1].AI)
			if flagCompareJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return writeComparison(cmd.OutOrStdout(), args[0], res)
		},
	}
	cmd.Flags().BoolVar(&flagCompareJSON, "json", false, "print the comparison as JSON")
	return cmd
}

func writeComparison(w io.Writer, project string, res *compare.Result) error {
	fmt.Fprintf(w, "Project: %s\n", project)
	if res.Failed() {
		fmt.Fprintf(w, "Verdict: %s (%s)\n", res.Verdict, res.Error)
		return nil
	}
	fmt.Fprintf(w, "Static score: vanilla %.2f, cco %.2f (%+.2f)\n", res.VanillaScore, res.CCOScore, res.ScoreImprovement)
	fmt.Fprintf(w, "Verdict: %s\n", res.Verdict)
	if res.AIScoreImprovement == nil {
		return nil
	}
	fmt.Fprintf(w, "\nAI score change: %+.2f (cco wins %d, vanilla wins %d, ties %d)\n",
		*res.AIScoreImprovement, res.CCOWins, res.VanillaWins, res.Ties)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIMENSION\tVANILLA\tCCO\tDELTA\tWINNER")
	for _, d := range res.Dimensions {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%+.1f\t%s\n", d.Dimension, d.VanillaScore, d.CCOScore, d.Delta, d.Winner)
	}
	return tw.Flush()
}
