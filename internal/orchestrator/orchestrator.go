// Package orchestrator drives one project through the seven benchmark
// phases and assembles the run result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/ccobench/internal/analysis"
	"github.com/signalnine/ccobench/internal/compare"
	"github.com/signalnine/ccobench/internal/config"
	"github.com/signalnine/ccobench/internal/gitops"
	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/result"
	"github.com/signalnine/ccobench/internal/resume"
	"github.com/signalnine/ccobench/internal/supervisor"
	"github.com/signalnine/ccobench/internal/workspace"
)

// DiffFile is written into the cco log dir before the cco analysis.
const DiffFile = "optimization.diff"

// PhaseRunner executes one agent phase. *phase.Runner implements it.
type PhaseRunner interface {
	RunPhase(ctx context.Context, req phase.Request) phase.Result
}

// Commands builds agent invocations. *phase.CommandBuilder implements it.
type Commands interface {
	Build(name phase.Name, dir string) (supervisor.Command, error)
	Timeout(name phase.Name) time.Duration
}

type Config struct {
	Layout   workspace.Layout
	Runner   PhaseRunner
	Commands Commands
	Analyzer analysis.CodeAnalyzer
	// Evaluator is optional; without it analyses carry static metrics only.
	Evaluator analysis.Evaluator
	Compare   *compare.Engine
	// Metrics, when set, observes every recorded phase including skips.
	Metrics     phase.Recorder
	CaptureDiff bool
	Logger      *zap.Logger
}

type Options struct {
	Resume bool
}

type Orchestrator struct {
	layout      workspace.Layout
	runner      PhaseRunner
	commands    Commands
	analyzer    analysis.CodeAnalyzer
	evaluator   analysis.Evaluator
	engine      *compare.Engine
	resolver    *resume.Resolver
	metrics     phase.Recorder
	captureDiff bool
	logger      *zap.Logger
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := cfg.Compare
	if engine == nil {
		engine = compare.NewEngine(compare.DefaultThresholds())
	}
	return &Orchestrator{
		layout:      cfg.Layout,
		runner:      cfg.Runner,
		commands:    cfg.Commands,
		analyzer:    cfg.Analyzer,
		evaluator:   cfg.Evaluator,
		engine:      engine,
		resolver:    resume.NewResolver(cfg.Layout, logger),
		metrics:     cfg.Metrics,
		captureDiff: cfg.CaptureDiff,
		logger:      logger,
	}
}

// run carries the state of a single Run call.
type run struct {
	project  config.Project
	logger   *zap.Logger
	result   *result.RunResult
	vanilla  *analysis.Report
	cco      *analysis.Report
	executed bool
}

// Run benchmarks p. It always returns a result: blocking failures and
// panics end the run early with FailureReason set, and the phases recorded
// so far are kept. Comparison is always set, with a failed verdict when the
// run stopped before both variants were analyzed.
func (o *Orchestrator) Run(ctx context.Context, p config.Project, opts Options) (out *result.RunResult) {
	r := &run{
		project: p,
		logger:  o.logger.With(zap.String("project", p.ID)),
		result:  result.NewRunResult(p.ID, p.Name, time.Now().UTC()),
	}
	out = r.result
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("benchmark panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			r.result.Fail(fmt.Sprintf("internal error: %v", rec))
		}
		if r.result.Comparison == nil {
			r.result.Comparison = o.compare(r)
		}
		r.result.Vanilla = r.vanilla
		r.result.CCO = r.cco
		r.result.Finish(time.Now().UTC())
		r.logger.Info("benchmark finished",
			zap.String("status", string(r.result.Status)),
			zap.String("failure_reason", r.result.FailureReason),
			zap.Float64("duration_seconds", r.result.DurationSeconds))
	}()

	r.logger.Info("benchmark started", zap.String("run_id", r.result.RunID), zap.Bool("resume", opts.Resume))

	var state resume.State
	if opts.Resume {
		state = o.resolver.Resolve(p.ID)
		r.result.Resumed = state.ResumeFromPhase() > 0
		r.logger.Info("resume state resolved",
			zap.Int("resume_from_phase", state.ResumeFromPhase()),
			zap.String("first_phase", string(phase.Order[min(state.ResumeFromPhase(), len(phase.Order)-1)])))
	} else if err := o.resetProject(p.ID); err != nil {
		r.result.Fail(err.Error())
		return out
	}

	for _, name := range phase.Order {
		if opts.Resume && !r.executed && state.CanSkip(name) {
			o.record(r, o.skip(r, name, state))
			continue
		}
		if err := ctx.Err(); err != nil {
			r.result.Fail(fmt.Sprintf("interrupted before %s: %v", name, err))
			return out
		}
		r.executed = true

		res := o.execute(ctx, r, name)
		o.record(r, res)
		if res.Success {
			continue
		}
		if name.Blocking() || res.Failure == phase.FailureInterrupted {
			r.result.Fail(res.Error)
			return out
		}
		r.logger.Warn("non-blocking phase failed, continuing", zap.String("phase", string(name)), zap.String("error", res.Error))
	}

	r.result.Comparison = o.compare(r)
	r.logger.Info("comparison",
		zap.String("verdict", r.result.Comparison.Verdict),
		zap.Float64("score_improvement", r.result.Comparison.ScoreImprovement))
	return out
}

// record appends res to the run and reports it to the metrics recorder.
func (o *Orchestrator) record(r *run, res phase.Result) {
	r.result.Append(res)
	if o.metrics != nil {
		o.metrics.ObservePhase(r.project.ID, res)
	}
}

// compare scores the variants analyzed so far. A run that ended before both
// analyses gets a failed comparison naming the missing side.
func (o *Orchestrator) compare(r *run) *compare.Result {
	return o.engine.Compare(metricsOf(r.vanilla), aiOf(r.vanilla), metricsOf(r.cco), aiOf(r.cco))
}

func (o *Orchestrator) skip(r *run, name phase.Name, state resume.State) phase.Result {
	r.logger.Info("phase skipped", zap.String("phase", string(name)))
	if name == phase.VanillaAnalysis && state.VanillaAnalysis != nil {
		r.vanilla = state.VanillaAnalysis
		return phase.SkippedResult(name, &phase.AnalysisOutput{Report: *state.VanillaAnalysis})
	}
	return phase.SkippedResult(name, nil)
}

func (o *Orchestrator) execute(ctx context.Context, r *run, name phase.Name) phase.Result {
	switch name {
	case phase.VanillaAnalysis:
		res, report := o.analyze(ctx, r, name)
		r.vanilla = report
		return res
	case phase.CCOAnalysis:
		o.writeDiff(r)
		res, report := o.analyze(ctx, r, name)
		r.cco = report
		return res
	case phase.CCODerive:
		return o.derive(r)
	}
	return o.runAgent(ctx, r, name)
}

func (o *Orchestrator) runAgent(ctx context.Context, r *run, name phase.Name) phase.Result {
	dir := o.layout.VariantDir(r.project.ID, name.Variant())
	if name == phase.VanillaGeneration {
		if err := workspace.WritePrompt(dir, r.project.Prompt); err != nil {
			return phase.Failed(name, phase.FailureFilesystem, 0, err)
		}
	}
	cmd, err := o.commands.Build(name, dir)
	if err != nil {
		return phase.Failed(name, phase.FailureToolError, 0, err)
	}
	return o.runner.RunPhase(ctx, phase.Request{
		Project: r.project.ID,
		Name:    name,
		Command: cmd,
		WorkDir: dir,
		LogDir:  o.layout.LogDir(r.project.ID, name.Variant()),
		Timeout: o.commands.Timeout(name),
	})
}

func (o *Orchestrator) derive(r *run) phase.Result {
	start := time.Now()
	src := o.layout.VariantDir(r.project.ID, workspace.Vanilla)
	dst := o.layout.VariantDir(r.project.ID, workspace.CCO)
	stats, err := workspace.CopyTree(src, dst)
	if err != nil {
		return phase.Failed(phase.CCODerive, phase.FailureFilesystem, time.Since(start).Seconds(), fmt.Errorf("deriving cco workspace: %w", err))
	}
	if o.captureDiff {
		if err := gitops.InitBaseline(dst); err != nil {
			r.logger.Warn("recording git baseline", zap.Error(err))
		}
	}
	r.logger.Info("cco workspace derived", zap.Int("files", stats.Files), zap.Int64("bytes", stats.Bytes))
	return phase.Result{
		Name:            phase.CCODerive,
		Success:         true,
		DurationSeconds: time.Since(start).Seconds(),
		Output:          &phase.DeriveOutput{CopyStats: stats},
	}
}

// analyze runs the static analyzer and, when configured, the evaluator. An
// evaluator error is kept inside the report rather than failing the phase.
func (o *Orchestrator) analyze(ctx context.Context, r *run, name phase.Name) (phase.Result, *analysis.Report) {
	start := time.Now()
	variant := name.Variant()
	dir := o.layout.VariantDir(r.project.ID, variant)

	metrics, err := o.analyzer.Analyze(ctx, dir)
	if err != nil {
		return phase.Failed(name, phase.FailureAnalysis, time.Since(start).Seconds(), fmt.Errorf("static analysis: %w", err)), nil
	}
	report := &analysis.Report{Metrics: metrics}
	if o.evaluator != nil {
		ai, err := o.evaluator.Evaluate(ctx, dir, r.project.Prompt)
		if err != nil {
			r.logger.Warn("ai evaluation failed", zap.String("variant", string(variant)), zap.Error(err))
			ai = &analysis.AIResult{Error: err.Error()}
		}
		report.AI = ai
	}
	if err := analysis.WriteReport(o.layout.AnalysisPath(r.project.ID, variant), report); err != nil {
		r.logger.Warn("caching analysis", zap.String("variant", string(variant)), zap.Error(err))
	}
	r.logger.Info("variant analyzed", zap.String("variant", string(variant)), zap.Float64("overall_score", metrics.OverallScore))
	return phase.Result{
		Name:            name,
		Success:         true,
		DurationSeconds: time.Since(start).Seconds(),
		Output:          &phase.AnalysisOutput{Report: *report},
	}, report
}

// writeDiff stores what the cco phases changed relative to the derived copy.
func (o *Orchestrator) writeDiff(r *run) {
	if !o.captureDiff {
		return
	}
	diff, err := gitops.CaptureChanges(o.layout.VariantDir(r.project.ID, workspace.CCO))
	if err != nil {
		r.logger.Warn("capturing optimization diff", zap.Error(err))
		return
	}
	dir := o.layout.LogDir(r.project.ID, workspace.CCO)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("creating log dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, DiffFile), diff, 0o644); err != nil {
		r.logger.Warn("writing optimization diff", zap.Error(err))
	}
}

// resetProject clears both variant trees and their cached analyses so a
// fresh run cannot pick up stale artifacts.
func (o *Orchestrator) resetProject(project string) error {
	for _, v := range []workspace.Variant{workspace.Vanilla, workspace.CCO} {
		if err := workspace.Reset(o.layout.VariantDir(project, v)); err != nil {
			return fmt.Errorf("resetting workspace: %w", err)
		}
		if err := os.Remove(o.layout.AnalysisPath(project, v)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing cached analysis: %w", err)
		}
	}
	return nil
}

func metricsOf(r *analysis.Report) *analysis.Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

func aiOf(r *analysis.Report) *analysis.AIResult {
	if r == nil {
		return nil
	}
	return r.AI
}
