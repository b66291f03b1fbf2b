package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/ccobench/internal/analysis"
	"github.com/signalnine/ccobench/internal/compare"
	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/report"
	"github.com/signalnine/ccobench/internal/result"
)

func writeRuns(t *testing.T) string {
	t.Helper()
	runDir := filepath.Join(t.TempDir(), "runs", "test-run")
	store := result.NewStore(runDir)

	done := result.NewRunResult("todo", "Todo", time.Now())
	exit := 0
	done.Append(phase.Result{Name: phase.VanillaGeneration, Success: true, Output: &phase.AgentOutput{ExitCode: &exit, CostUSD: 1.25}})
	done.Append(phase.Result{Name: phase.CCOOptimize, Error: "exit code 1", Failure: phase.FailureToolError, Output: &phase.AgentOutput{CostUSD: 0.75}})
	done.Vanilla = &analysis.Report{Metrics: &analysis.Metrics{OverallScore: 70}}
	done.CCO = &analysis.Report{Metrics: &analysis.Metrics{OverallScore: 85}}
	done.Comparison = compare.Compare(done.Vanilla.Metrics, nil, done.CCO.Metrics, nil)
	done.Finish(time.Now())

	failed := result.NewRunResult("api", "API", time.Now())
	failed.Append(phase.Result{Name: phase.VanillaGeneration, Error: "command not found: ccbox", Failure: phase.FailureNotFound})
	failed.Fail("command not found: ccbox")
	failed.Finish(time.Now())

	for _, r := range []*result.RunResult{done, failed} {
		if err := store.SaveRun(r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	// not a summary; ignored
	os.WriteFile(filepath.Join(runDir, "metrics.prom"), []byte("x 1\n"), 0o644)
	return runDir
}

func TestGenerateTable(t *testing.T) {
	runDir := writeRuns(t)
	var buf bytes.Buffer
	if err := report.Generate(runDir, "table", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"todo", "api", "+15.00", compare.VerdictBetter, "1/2 completed", "$2.00"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
	if strings.Index(output, "api") > strings.Index(output, "todo") {
		t.Error("expected projects sorted by id")
	}
}

func TestGenerateMarkdown(t *testing.T) {
	runDir := writeRuns(t)
	var buf bytes.Buffer
	if err := report.Generate(runDir, "markdown", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(buf.String(), "| todo | completed | 70.00 | 85.00 | +15.00 | - | CCO better | $2.00 |") {
		t.Errorf("unexpected markdown:\n%s", buf.String())
	}
}

func TestGenerateJSON(t *testing.T) {
	runDir := writeRuns(t)
	var buf bytes.Buffer
	if err := report.Generate(runDir, "json", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var rep report.Report
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if rep.Totals.Projects != 2 || rep.Totals.Completed != 1 {
		t.Errorf("totals: %+v", rep.Totals)
	}
	if rep.Totals.MeanScoreImprovement != 15 {
		t.Errorf("mean improvement: got %v", rep.Totals.MeanScoreImprovement)
	}
	api := rep.Projects[0]
	if api.Project != "api" || api.FailureReason != "command not found: ccbox" {
		t.Errorf("api row: %+v", api)
	}
	todo := rep.Projects[1]
	if len(todo.FailedPhases) != 1 || todo.FailedPhases[0] != "cco_optimize" {
		t.Errorf("failed phases: %v", todo.FailedPhases)
	}
}

func TestGenerateUnknownFormat(t *testing.T) {
	if err := report.Generate(writeRuns(t), "html", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestGenerateMissingDir(t *testing.T) {
	if err := report.Generate(filepath.Join(t.TempDir(), "nope"), "table", &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing run dir")
	}
}
