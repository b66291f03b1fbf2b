// Package supervisor runs one external process under an inactivity watchdog.
//
// A process is considered alive while it writes to stdout or stderr. When it
// goes quiet for longer than the stall threshold the supervisor looks for
// secondary evidence of work (new files in the working directory) before
// flagging a stall. Only the inactivity timeout terminates the process.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Command is the process to launch. Env entries are appended to the parent
// environment.
type Command struct {
	Path string
	Args []string
	Env  []string
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Path}, c.Args...) {
		if p == "" || strings.ContainsAny(p, " \t\n\"'") {
			p = strconv.Quote(p)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

type Options struct {
	PollInterval       time.Duration
	StallThreshold     time.Duration
	StallCheckInterval time.Duration
	FlushInterval      time.Duration
	GracePeriod        time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:       500 * time.Millisecond,
		StallThreshold:     60 * time.Second,
		StallCheckInterval: 30 * time.Second,
		FlushInterval:      30 * time.Second,
		GracePeriod:        5 * time.Second,
	}
}

// Result describes how a supervised process ended. ExitCode is nil when the
// supervisor terminated the process or it never started.
type Result struct {
	ExitCode    *int
	Stdout      string
	Stderr      string
	Activity    ActivityState
	Duration    time.Duration
	TimedOut    bool
	Interrupted bool
	// IdleFor is the silence that triggered a timeout.
	IdleFor time.Duration
}

// HasOutput reports whether the process wrote anything at all.
func (r *Result) HasOutput() bool {
	return r.Activity.SeenOutput() || r.Stdout != "" || r.Stderr != ""
}

// Flusher receives periodic snapshots of the accumulated output.
type Flusher func(stdout, stderr string) error

type RunOption func(*runConfig)

type runConfig struct {
	flush Flusher
}

func WithFlusher(f Flusher) RunOption {
	return func(rc *runConfig) { rc.flush = f }
}

type Supervisor struct {
	opts   Options
	logger *zap.Logger
}

// New returns a supervisor. Zero-valued options fall back to DefaultOptions.
func New(opts Options, logger *zap.Logger) *Supervisor {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = def.StallThreshold
	}
	if opts.StallCheckInterval <= 0 {
		opts.StallCheckInterval = def.StallCheckInterval
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = def.GracePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{opts: opts, logger: logger}
}

func (s *Supervisor) Options() Options { return s.opts }

// streams is the state shared between the reader goroutines and the
// supervising loop.
type streams struct {
	mu       sync.Mutex
	stdout   strings.Builder
	stderr   strings.Builder
	activity ActivityState
}

func (st *streams) appendLine(buf *strings.Builder, line string) {
	line = strings.TrimRight(line, "\r\n")
	st.mu.Lock()
	defer st.mu.Unlock()
	buf.WriteString(line)
	buf.WriteByte('\n')
	st.activity.UpdateOutput(time.Now())
}

func (st *streams) drain(r io.Reader, buf *strings.Builder) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			st.appendLine(buf, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (st *streams) snapshot() (string, string, ActivityState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stdout.String(), st.stderr.String(), st.activity
}

func (st *streams) idle(start, now time.Time) time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.activity.Idle(start, now)
}

// Run starts command in workDir and supervises it until it exits, goes
// silent for longer than inactivityTimeout, or ctx is cancelled. The error
// is non-nil only when the process could not be started.
func (s *Supervisor) Run(ctx context.Context, command Command, workDir string, inactivityTimeout time.Duration, opts ...RunOption) (*Result, error) {
	var rc runConfig
	for _, o := range opts {
		o(&rc)
	}
	logger := s.logger.With(zap.String("command", command.Path), zap.String("dir", workDir))

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return &Result{}, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return &Result{}, fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		logger.Warn("process failed to start", zap.Error(err))
		return &Result{Duration: time.Since(start)}, fmt.Errorf("starting %s: %w", command.Path, err)
	}
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	pid := cmd.Process.Pid
	logger.Debug("process started", zap.Int("pid", pid), zap.Duration("inactivity_timeout", inactivityTimeout))

	st := &streams{}
	var readers errgroup.Group
	readers.Go(func() error { return st.drain(stdoutR, &st.stdout) })
	readers.Go(func() error { return st.drain(stderrR, &st.stderr) })
	readersDone := make(chan error, 1)
	go func() { readersDone <- readers.Wait() }()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var (
		timedOut, interrupted bool
		idleFor               time.Duration
		lastStallCheck        = start
		lastFlush             = start
		lastFileCount         = CountFiles(workDir)
	)
loop:
	for {
		select {
		case <-exited:
			break loop
		case <-ctx.Done():
			interrupted = true
			logger.Warn("run cancelled, terminating process group", zap.Int("pid", pid))
			s.terminate(pid, cmd.Process, exited, logger)
			break loop
		case now := <-ticker.C:
			idle := st.idle(start, now)
			if idle > inactivityTimeout {
				timedOut = true
				idleFor = idle
				logger.Warn("no output within inactivity window, terminating process group",
					zap.Int("pid", pid), zap.Duration("idle", idle), zap.Duration("timeout", inactivityTimeout))
				s.terminate(pid, cmd.Process, exited, logger)
				break loop
			}
			if now.Sub(lastStallCheck) >= s.opts.StallCheckInterval {
				lastStallCheck = now
				lastFileCount = s.checkStall(st, workDir, lastFileCount, start, now, logger)
			}
			if rc.flush != nil && now.Sub(lastFlush) >= s.opts.FlushInterval {
				lastFlush = now
				stdout, stderr, _ := st.snapshot()
				if err := rc.flush(stdout, stderr); err != nil {
					logger.Warn("flushing output", zap.Error(err))
				}
			}
		}
	}
	duration := time.Since(start)

	// Grandchildren may still hold the pipes open after the leader exits.
	select {
	case err := <-readersDone:
		if err != nil {
			logger.Warn("reading process output", zap.Error(err))
		}
	case <-time.After(s.opts.GracePeriod):
		logger.Warn("output pipes still open after exit, killing leftover processes", zap.Int("pid", pid))
		signalGroup(pid, nil, true)
		stdoutR.Close()
		stderrR.Close()
		<-readersDone
	}
	stdoutR.Close()
	stderrR.Close()

	stdout, stderr, activity := st.snapshot()
	res := &Result{
		Stdout:      stdout,
		Stderr:      stderr,
		Activity:    activity,
		Duration:    duration,
		TimedOut:    timedOut,
		Interrupted: interrupted,
		IdleFor:     idleFor,
	}
	if !timedOut && !interrupted && cmd.ProcessState != nil {
		code := exitCode(cmd.ProcessState)
		res.ExitCode = &code
	}
	logger.Debug("process finished",
		zap.Duration("duration", duration),
		zap.Intp("exit_code", res.ExitCode),
		zap.Int("output_lines", activity.TotalOutputLines),
		zap.Int("stall_warnings", activity.StallWarnings))
	return res, nil
}

// checkStall runs one stall escalation step and returns the file count the
// next step compares against.
func (s *Supervisor) checkStall(st *streams, workDir string, lastCount int, start, now time.Time, logger *zap.Logger) int {
	idle := st.idle(start, now)
	count := CountFiles(workDir)
	if idle <= s.opts.StallThreshold {
		return count
	}
	st.mu.Lock()
	var warnings int
	if count > lastCount {
		st.activity.MarkProgress(now)
	} else {
		warnings = st.activity.MarkStalled()
	}
	st.mu.Unlock()

	if count > lastCount {
		logger.Info("no output but files are changing, agent still working",
			zap.Duration("idle", idle), zap.Int("files", count), zap.Int("new_files", count-lastCount))
	} else {
		logger.Warn("agent appears stalled",
			zap.Duration("idle", idle), zap.Int("files", count), zap.Int("stall_warnings", warnings))
	}
	return count
}

// terminate asks the process group to exit and escalates to a kill after
// the grace period.
func (s *Supervisor) terminate(pid int, proc *os.Process, exited <-chan error, logger *zap.Logger) {
	if err := signalGroup(pid, proc, false); err != nil {
		logger.Debug("sending termination signal", zap.Error(err))
	}
	select {
	case <-exited:
		return
	case <-time.After(s.opts.GracePeriod):
	}
	logger.Warn("process ignored termination request, killing", zap.Int("pid", pid), zap.Duration("grace_period", s.opts.GracePeriod))
	if err := signalGroup(pid, proc, true); err != nil {
		logger.Warn("killing process group", zap.Error(err))
	}
	<-exited
}
