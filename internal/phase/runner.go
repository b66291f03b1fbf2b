package phase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/ccobench/internal/supervisor"
	"github.com/signalnine/ccobench/internal/workspace"
)

// Reaper removes agent containers left running after a phase was killed.
type Reaper interface {
	Reap(ctx context.Context, project string, variant workspace.Variant) error
}

// Recorder receives one observation per phase recorded in a run, skipped
// phases included.
type Recorder interface {
	ObservePhase(project string, r Result)
}

// Request is one agent phase to execute.
type Request struct {
	Project string
	Name    Name
	Command supervisor.Command
	WorkDir string
	LogDir  string
	Timeout time.Duration
}

type RunnerOptions struct {
	Supervisor   *supervisor.Supervisor
	BenignErrors []string
	Reaper       Reaper
	Logger       *zap.Logger
}

type Runner struct {
	sup    *supervisor.Supervisor
	benign []string
	reaper Reaper
	logger *zap.Logger
}

func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sup := opts.Supervisor
	if sup == nil {
		sup = supervisor.New(supervisor.DefaultOptions(), logger)
	}
	return &Runner{
		sup:    sup,
		benign: opts.BenignErrors,
		reaper: opts.Reaper,
		logger: logger,
	}
}

// RunPhase runs the agent for one phase and interprets the outcome. It
// always returns a Result; failures are recorded in it, never returned.
func (r *Runner) RunPhase(ctx context.Context, req Request) Result {
	logger := r.logger.With(zap.String("project", req.Project), zap.String("phase", string(req.Name)))
	logger.Info("phase started", zap.String("command", req.Command.Path), zap.Duration("inactivity_timeout", req.Timeout))

	plog := newPhaseLog(req)
	if err := os.MkdirAll(req.LogDir, 0o755); err != nil {
		logger.Warn("creating log dir", zap.Error(err))
	}
	flush := func(stdout, stderr string) error {
		return plog.write(nil, stdout, stderr, nil)
	}

	res, startErr := r.sup.Run(ctx, req.Command, req.WorkDir, req.Timeout, supervisor.WithFlusher(flush))
	outcome := Interpret(res, r.benign)
	if startErr != nil {
		outcome = Outcome{Failure: FailureNotFound, Error: startError(req.Command, startErr)}
	}

	result := Result{
		Name:            req.Name,
		Success:         outcome.Success,
		DurationSeconds: res.Duration.Seconds(),
		Error:           outcome.Error,
		Failure:         outcome.Failure,
		Output: &AgentOutput{
			ExitCode:      res.ExitCode,
			OutputLines:   res.Activity.TotalOutputLines,
			StallWarnings: res.Activity.StallWarnings,
			CostUSD:       outcome.Stream.CostUSD,
			Turns:         outcome.Stream.Turns,
			Recovered:     outcome.Recovered,
			LogPath:       plog.logPath,
		},
	}

	if err := plog.write(res, res.Stdout, res.Stderr, &result); err != nil {
		logger.Warn("writing phase log", zap.Error(err))
	}

	if (res.TimedOut || res.Interrupted) && r.reaper != nil {
		// ctx may already be cancelled; cleanup gets its own deadline.
		reapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := r.reaper.Reap(reapCtx, req.Project, req.Name.Variant()); err != nil {
			logger.Warn("reaping agent container", zap.Error(err))
		}
		cancel()
	}

	fields := []zap.Field{
		zap.Bool("success", result.Success),
		zap.Float64("duration_seconds", result.DurationSeconds),
		zap.Intp("exit_code", res.ExitCode),
		zap.Int("output_lines", res.Activity.TotalOutputLines),
		zap.Int("stall_warnings", res.Activity.StallWarnings),
	}
	switch {
	case outcome.Recovered:
		logger.Info("phase recovered: non-zero exit but agent reported success", fields...)
	case result.Success:
		logger.Info("phase finished", fields...)
	default:
		logger.Warn("phase failed", append(fields, zap.String("failure", string(result.Failure)), zap.String("error", result.Error))...)
	}
	return result
}

func startError(cmd supervisor.Command, err error) string {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("command not found: %s", cmd.Path)
	}
	return fmt.Sprintf("command not found or not executable: %v", err)
}

// phaseLog writes <phase>.log and <phase>_stdout.jsonl. Both files are
// rewritten whole on every call so a later write always supersedes an
// earlier one.
type phaseLog struct {
	req        Request
	started    time.Time
	logPath    string
	stdoutPath string
}

func newPhaseLog(req Request) *phaseLog {
	return &phaseLog{
		req:        req,
		started:    time.Now(),
		logPath:    filepath.Join(req.LogDir, string(req.Name)+".log"),
		stdoutPath: filepath.Join(req.LogDir, string(req.Name)+"_stdout.jsonl"),
	}
}

// write records the current state. res and result are nil while the phase
// is still running.
func (l *phaseLog) write(res *supervisor.Result, stdout, stderr string, result *Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "project: %s\n", l.req.Project)
	fmt.Fprintf(&b, "phase: %s\n", l.req.Name)
	fmt.Fprintf(&b, "command: %s\n", l.req.Command)
	fmt.Fprintf(&b, "workdir: %s\n", l.req.WorkDir)
	fmt.Fprintf(&b, "started: %s\n", l.started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "inactivity_timeout: %s\n", l.req.Timeout)
	if res == nil {
		fmt.Fprintf(&b, "status: running\n")
		fmt.Fprintf(&b, "elapsed: %s\n", time.Since(l.started).Round(time.Millisecond))
	} else {
		exit := "none"
		if res.ExitCode != nil {
			exit = fmt.Sprint(*res.ExitCode)
		}
		fmt.Fprintf(&b, "exit_code: %s\n", exit)
		fmt.Fprintf(&b, "duration: %s\n", res.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "timed_out: %t\n", res.TimedOut)
		fmt.Fprintf(&b, "output_lines: %d\n", res.Activity.TotalOutputLines)
		fmt.Fprintf(&b, "stall_warnings: %d\n", res.Activity.StallWarnings)
		fmt.Fprintf(&b, "stalled: %t\n", res.Activity.Stalled)
	}
	if result != nil {
		fmt.Fprintf(&b, "success: %t\n", result.Success)
		if result.Error != "" {
			fmt.Fprintf(&b, "failure: %s\n", result.Failure)
			fmt.Fprintf(&b, "error: %s\n", result.Error)
		}
	}
	b.WriteString("\n=== STDOUT ===\n")
	b.WriteString(stdout)
	b.WriteString("\n=== STDERR ===\n")
	b.WriteString(stderr)

	if err := os.WriteFile(l.logPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", l.logPath, err)
	}
	if err := os.WriteFile(l.stdoutPath, []byte(stdout), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", l.stdoutPath, err)
	}
	return nil
}
