package phase_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/supervisor"
	"github.com/signalnine/ccobench/internal/workspace"
)

type fakeReaper struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeReaper) Reap(_ context.Context, project string, variant workspace.Variant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, project+"/"+string(variant))
	return nil
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests drive sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newRunner(t *testing.T, reaper phase.Reaper) *phase.Runner {
	sup := supervisor.New(supervisor.Options{
		PollInterval: 20 * time.Millisecond,
		GracePeriod:  500 * time.Millisecond,
	}, zaptest.NewLogger(t))
	return phase.NewRunner(phase.RunnerOptions{
		Supervisor:   sup,
		BenignErrors: benign,
		Reaper:       reaper,
		Logger:       zaptest.NewLogger(t),
	})
}

func shellRequest(t *testing.T, name phase.Name, script string, timeout time.Duration) phase.Request {
	return phase.Request{
		Project: "todo",
		Name:    name,
		Command: supervisor.Command{Path: "sh", Args: []string{"-c", script}},
		WorkDir: t.TempDir(),
		LogDir:  filepath.Join(t.TempDir(), "logs", "todo", string(name.Variant())),
		Timeout: timeout,
	}
}

func TestRunPhaseWritesLogs(t *testing.T) {
	requireShell(t)
	req := shellRequest(t, phase.VanillaGeneration, `echo '{"type":"assistant"}'; echo '{"type":"result","subtype":"success","num_turns":3,"total_cost_usd":0.42}'; echo warn >&2`, 5*time.Second)

	res := newRunner(t, nil).RunPhase(context.Background(), req)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, phase.VanillaGeneration, res.Name)
	assert.Greater(t, res.DurationSeconds, 0.0)

	out, ok := res.Output.(*phase.AgentOutput)
	require.True(t, ok)
	assert.Equal(t, 0, *out.ExitCode)
	assert.Equal(t, 3, out.OutputLines)
	assert.Equal(t, 3, out.Turns)
	assert.InDelta(t, 0.42, out.CostUSD, 0.0001)

	logData, err := os.ReadFile(filepath.Join(req.LogDir, "vanilla_generation.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "exit_code: 0")
	assert.Contains(t, string(logData), "success: true")
	assert.Contains(t, string(logData), "=== STDERR ===\nwarn")
	assert.Equal(t, out.LogPath, filepath.Join(req.LogDir, "vanilla_generation.log"))

	raw, err := os.ReadFile(filepath.Join(req.LogDir, "vanilla_generation_stdout.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"subtype":"success"`)
}

func TestRunPhaseRecoversFromNonZeroExit(t *testing.T) {
	requireShell(t)
	req := shellRequest(t, phase.CCOConfig, `echo '{"type":"result","subtype":"success"}'; exit 1`, 5*time.Second)

	res := newRunner(t, nil).RunPhase(context.Background(), req)
	assert.True(t, res.Success)
	assert.True(t, res.Output.(*phase.AgentOutput).Recovered)
}

func TestRunPhaseToolError(t *testing.T) {
	requireShell(t)
	req := shellRequest(t, phase.CCOOptimize, `echo 'working'; echo 'fatal: boom' >&2; exit 1`, 5*time.Second)

	res := newRunner(t, nil).RunPhase(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, phase.FailureToolError, res.Failure)
	assert.Equal(t, "exit code 1: fatal: boom", res.Error)

	logData, err := os.ReadFile(filepath.Join(req.LogDir, "cco_optimize.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "error: exit code 1: fatal: boom")
}

func TestRunPhaseCommandNotFound(t *testing.T) {
	req := phase.Request{
		Project: "todo",
		Name:    phase.VanillaGeneration,
		Command: supervisor.Command{Path: "ccobench-missing-agent"},
		WorkDir: t.TempDir(),
		LogDir:  t.TempDir(),
		Timeout: time.Second,
	}
	res := newRunner(t, nil).RunPhase(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, phase.FailureNotFound, res.Failure)
	assert.Contains(t, res.Error, "command not found")
	assert.FileExists(t, filepath.Join(req.LogDir, "vanilla_generation.log"))
}

func TestRunPhaseTimeoutReapsContainer(t *testing.T) {
	requireShell(t)
	reaper := &fakeReaper{}
	req := shellRequest(t, phase.CCOReview, `echo started; sleep 5`, 500*time.Millisecond)

	res := newRunner(t, reaper).RunPhase(context.Background(), req)
	assert.False(t, res.Success)
	assert.Equal(t, phase.FailureTimeout, res.Failure)
	assert.Contains(t, res.Error, "no output for")
	assert.Nil(t, res.Output.(*phase.AgentOutput).ExitCode)
	assert.Equal(t, []string{"todo/cco"}, reaper.calls)
}
