package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/signalnine/ccobench/internal/config"
	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/report"
	"github.com/signalnine/ccobench/internal/result"
	"github.com/signalnine/ccobench/internal/resume"
)

func TestFilterProjects(t *testing.T) {
	projects := []config.Project{{ID: "alpha"}, {ID: "beta"}, {ID: "gamma"}}

	tests := []struct {
		name    string
		ids     []string
		want    []string
		wantErr bool
	}{
		{"empty filter returns all", nil, []string{"alpha", "beta", "gamma"}, false},
		{"single id", []string{"beta"}, []string{"beta"}, false},
		{"keeps config order", []string{"gamma", "alpha"}, []string{"alpha", "gamma"}, false},
		{"trims spaces", []string{" beta"}, []string{"beta"}, false},
		{"unknown id", []string{"delta"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterProjects(projects, tt.ids)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var ids []string
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"# Todo CLI\n\nBuild it.", "Todo CLI"},
		{"  short  ", "short"},
		{strings.Repeat("x", 100), strings.Repeat("x", 17) + "..."},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in, 20); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResumePhase(t *testing.T) {
	tests := []struct {
		state resume.State
		want  phase.Name
	}{
		{resume.State{}, phase.VanillaGeneration},
		{resume.State{VanillaGenerated: true}, phase.VanillaAnalysis},
		{resume.State{VanillaGenerated: true, VanillaAnalyzed: true, CCODerived: true, CCOConfigured: true}, phase.CCOOptimize},
	}
	for _, tt := range tests {
		if got := resumePhase(tt.state); got != tt.want {
			t.Errorf("resumePhase(%+v) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

const fakeAgent = `#!/bin/sh
dir=""
prompt=""
while [ $# -gt 0 ]; do
  case "$1" in
    --path) dir="$2"; shift 2 ;;
    --prompt) prompt="$2"; shift 2 ;;
    *) shift ;;
  esac
done
case "$prompt" in
  /cco-config*) mkdir -p "$dir/.claude" ;;
esac
printf 'package main\n\nfunc main() {}\n' > "$dir/main.go"
echo '{"type":"system","subtype":"init"}'
echo '{"type":"result","subtype":"success","total_cost_usd":0.25,"num_turns":2}'
`

// setupWorkspace writes a fake agent and a config pointing at it, and
// returns the results dir.
func setupWorkspace(t *testing.T, agent string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent is a shell script")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	if agent == "" {
		agent = filepath.Join(dir, "fake-agent")
		if err := os.WriteFile(agent, []byte(fakeAgent), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	results := filepath.Join(dir, "results")
	cfg := "agent:\n  command: " + agent + "\n" +
		"workspace:\n  dir: " + filepath.Join(dir, "projects") + "\n" +
		"results:\n  dir: " + results + "\n" +
		"logging:\n  level: error\n" +
		"supervisor:\n  poll_interval: 50ms\n  grace_period: 1s\n" +
		"git:\n  disable_diff: true\n" +
		"projects:\n  - id: todo\n    prompt: Build a todo CLI.\n"
	cfgPath := filepath.Join(dir, "ccobench.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile = cfgPath
	return results
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestRunEndToEnd(t *testing.T) {
	results := setupWorkspace(t, "")

	out, err := execute(t, "run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "todo completed") {
		t.Errorf("expected completion line:\n%s", out)
	}

	run, err := result.ReadRun(filepath.Join(results, "latest", "todo", result.SummaryFile))
	if err != nil {
		t.Fatalf("reading summary: %v", err)
	}
	if run.Status != result.StatusCompleted {
		t.Fatalf("status %s: %s", run.Status, run.FailureReason)
	}
	if len(run.Phases) != len(phase.Order) {
		t.Errorf("expected %d phases, got %d", len(phase.Order), len(run.Phases))
	}
	if got := run.CostUSD(); got != 1.0 {
		t.Errorf("cost: got %v, want 1.0 (four agent phases)", got)
	}
	if _, err := os.Stat(filepath.Join(results, "latest", MetricsFile)); err != nil {
		t.Errorf("expected metrics textfile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(results, "logs", "todo", "cco", "cco_review.log")); err != nil {
		t.Errorf("expected phase log: %v", err)
	}

	out, err = execute(t, "status", "todo")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "cco_optimize") {
		t.Errorf("expected resume point cco_optimize:\n%s", out)
	}

	out, err = execute(t, "compare", "todo")
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !strings.Contains(out, "Verdict: Mixed/negligible") {
		t.Errorf("identical variants should be mixed:\n%s", out)
	}

	out, err = execute(t, "report", "--format", "json")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var rep report.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, out)
	}
	if rep.Totals.Projects != 1 || rep.Totals.Completed != 1 {
		t.Errorf("totals: %+v", rep.Totals)
	}
}

func TestRunMissingAgent(t *testing.T) {
	results := setupWorkspace(t, "/nonexistent/agent")

	out, err := execute(t, "run")
	if err == nil {
		t.Fatalf("expected run to fail:\n%s", out)
	}
	run, err := result.ReadRun(filepath.Join(results, "latest", "todo", result.SummaryFile))
	if err != nil {
		t.Fatalf("reading summary: %v", err)
	}
	if run.Status != result.StatusFailed || !strings.Contains(run.FailureReason, "not found") {
		t.Errorf("expected not-found failure, got %s: %q", run.Status, run.FailureReason)
	}
	if len(run.Phases) != 1 {
		t.Errorf("expected only the generation phase, got %d", len(run.Phases))
	}
}

func TestRunUnknownProject(t *testing.T) {
	setupWorkspace(t, "")
	if _, err := execute(t, "run", "--project", "nope"); err == nil {
		t.Error("expected error for unknown project")
	}
}

func TestCompareWithoutAnalysis(t *testing.T) {
	setupWorkspace(t, "")
	_, err := execute(t, "compare", "todo")
	if err == nil || !strings.Contains(err.Error(), "no vanilla analysis") {
		t.Errorf("expected missing analysis error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	setupWorkspace(t, "/nonexistent/agent")
	out, err := execute(t, "validate")
	if err == nil {
		t.Fatalf("expected validate to fail:\n%s", out)
	}
	if !strings.Contains(out, "FAIL agent command") {
		t.Errorf("expected agent check failure:\n%s", out)
	}
}
