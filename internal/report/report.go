// Package report aggregates the summary.json files of one benchmark run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/ccobench/internal/result"
)

// ProjectSummary is one row of the report.
type ProjectSummary struct {
	Project            string   `json:"project"`
	Status             string   `json:"status"`
	FailureReason      string   `json:"failure_reason,omitempty"`
	VanillaScore       *float64 `json:"vanilla_score,omitempty"`
	CCOScore           *float64 `json:"cco_score,omitempty"`
	ScoreImprovement   *float64 `json:"score_improvement,omitempty"`
	AIScoreImprovement *float64 `json:"ai_score_improvement,omitempty"`
	Verdict            string   `json:"verdict"`
	FailedPhases       []string `json:"failed_phases,omitempty"`
	CostUSD            float64  `json:"cost_usd"`
	DurationSeconds    float64  `json:"duration_seconds"`
}

// Totals summarizes every project of the run.
type Totals struct {
	Projects             int            `json:"projects"`
	Completed            int            `json:"completed"`
	MeanScoreImprovement float64        `json:"mean_score_improvement"`
	Verdicts             map[string]int `json:"verdicts"`
	CostUSD              float64        `json:"cost_usd"`
}

type Report struct {
	Projects []ProjectSummary `json:"projects"`
	Totals   Totals           `json:"totals"`
}

// Generate reads every run result under runDir and writes the report in
// format (table, markdown or json).
func Generate(runDir, format string, w io.Writer) error {
	rep, err := Build(runDir)
	if err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(rep, w)
	case "json":
		return writeJSON(rep, w)
	case "table", "":
		return writeTable(rep, w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// Build loads the run results under runDir. Unreadable summaries are
// skipped.
func Build(runDir string) (*Report, error) {
	paths, err := result.FindRuns(runDir)
	if err != nil {
		return nil, err
	}
	var runs []*result.RunResult
	for _, p := range paths {
		r, err := result.ReadRun(p)
		if err != nil {
			continue
		}
		runs = append(runs, r)
	}
	return aggregate(runs), nil
}

func aggregate(runs []*result.RunResult) *Report {
	rep := &Report{Projects: []ProjectSummary{}, Totals: Totals{Verdicts: map[string]int{}}}
	var improvements float64
	var compared int
	for _, r := range runs {
		s := ProjectSummary{
			Project:         r.ProjectID,
			Status:          string(r.Status),
			FailureReason:   r.FailureReason,
			Verdict:         "-",
			CostUSD:         r.CostUSD(),
			DurationSeconds: r.DurationSeconds,
		}
		if r.Vanilla != nil && r.Vanilla.Metrics != nil {
			s.VanillaScore = &r.Vanilla.Metrics.OverallScore
		}
		if r.CCO != nil && r.CCO.Metrics != nil {
			s.CCOScore = &r.CCO.Metrics.OverallScore
		}
		if c := r.Comparison; c != nil {
			s.Verdict = c.Verdict
			if !c.Failed() {
				improvement := c.ScoreImprovement
				s.ScoreImprovement = &improvement
				improvements += improvement
				compared++
			}
			s.AIScoreImprovement = c.AIScoreImprovement
		}
		for _, p := range r.Phases {
			if !p.Success {
				s.FailedPhases = append(s.FailedPhases, string(p.Name))
			}
		}

		rep.Projects = append(rep.Projects, s)
		rep.Totals.Projects++
		if r.Status == result.StatusCompleted {
			rep.Totals.Completed++
		}
		rep.Totals.Verdicts[s.Verdict]++
		rep.Totals.CostUSD += s.CostUSD
	}
	if compared > 0 {
		rep.Totals.MeanScoreImprovement = improvements / float64(compared)
	}
	sort.Slice(rep.Projects, func(i, j int) bool {
		return rep.Projects[i].Project < rep.Projects[j].Project
	})
	return rep
}

func score(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func delta(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%+.2f", *v)
}

func writeTable(rep *Report, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tSTATUS\tVANILLA\tCCO\tDELTA\tAI DELTA\tVERDICT\tCOST")
	fmt.Fprintln(tw, strings.Repeat("-", 100))
	for _, s := range rep.Projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t$%.2f\n",
			s.Project, s.Status, score(s.VanillaScore), score(s.CCOScore),
			delta(s.ScoreImprovement), delta(s.AIScoreImprovement), s.Verdict, s.CostUSD)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d/%d completed, mean improvement %+.2f, total cost $%.2f\n",
		rep.Totals.Completed, rep.Totals.Projects, rep.Totals.MeanScoreImprovement, rep.Totals.CostUSD)
	return nil
}

func writeMarkdown(rep *Report, w io.Writer) error {
	fmt.Fprintln(w, "| Project | Status | Vanilla | CCO | Delta | AI Delta | Verdict | Cost |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	for _, s := range rep.Projects {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s | %s | $%.2f |\n",
			s.Project, s.Status, score(s.VanillaScore), score(s.CCOScore),
			delta(s.ScoreImprovement), delta(s.AIScoreImprovement), s.Verdict, s.CostUSD)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "**%d/%d completed**, mean improvement %+.2f\n\n", rep.Totals.Completed, rep.Totals.Projects, rep.Totals.MeanScoreImprovement)

	verdicts := make([]string, 0, len(rep.Totals.Verdicts))
	for v := range rep.Totals.Verdicts {
		verdicts = append(verdicts, v)
	}
	sort.Strings(verdicts)
	for _, v := range verdicts {
		fmt.Fprintf(w, "- %s: %d\n", v, rep.Totals.Verdicts[v])
	}
	return nil
}

func writeJSON(rep *Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
