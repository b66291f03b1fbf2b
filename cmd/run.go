package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/ccobench/internal/analysis"
	"github.com/signalnine/ccobench/internal/compare"
	"github.com/signalnine/ccobench/internal/config"
	"github.com/signalnine/ccobench/internal/docker"
	"github.com/signalnine/ccobench/internal/metrics"
	"github.com/signalnine/ccobench/internal/orchestrator"
	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/report"
	"github.com/signalnine/ccobench/internal/result"
	"github.com/signalnine/ccobench/internal/runner"
	"github.com/signalnine/ccobench/internal/supervisor"
	"github.com/signalnine/ccobench/internal/workspace"
)

// MetricsFile is written into every run directory.
const MetricsFile = "metrics.prom"

var (
	flagProjects []string
	flagResume   bool
	flagParallel int
	flagNoAI     bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark the configured projects",
		RunE:  runBenchmark,
	}
	cmd.Flags().StringSliceVar(&flagProjects, "project", nil, "only run these project ids (repeatable or comma-separated)")
	cmd.Flags().BoolVar(&flagResume, "resume", false, "skip phases whose artifacts are already on disk")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max projects benchmarked concurrently")
	cmd.Flags().BoolVar(&flagNoAI, "no-ai", false, "skip the LLM judge even if enabled in config")
	return cmd
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	projects, err := filterProjects(cfg.Projects, flagProjects)
	if err != nil {
		return err
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run directory: %s\n", runDir)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewRecorder()
	var reaper phase.Reaper
	if cfg.Docker.ReapContainers {
		r, err := docker.NewReaper(cfg.Docker.ContainerName, logger)
		if err != nil {
			logger.Warn("container reaping disabled", zap.Error(err))
		} else {
			defer r.Close()
			reaper = r
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Layout: workspace.New(cfg.Workspace.Dir, cfg.Results.Dir, cfg.Workspace.MarkerDir),
		Runner: phase.NewRunner(phase.RunnerOptions{
			Supervisor:   supervisor.New(supervisorOptions(cfg.Supervisor), logger),
			BenignErrors: cfg.Agent.BenignErrors,
			Reaper:       reaper,
			Logger:       logger,
		}),
		Commands:    phase.NewCommandBuilder(cfg.Agent, cfg.Prompts, cfg.Timeouts),
		Analyzer:    analysis.NewStaticAnalyzer(logger),
		Evaluator:   newEvaluator(cfg.Judge, flagNoAI, logger),
		Compare:     compare.NewEngine(compare.Thresholds{Significant: cfg.Comparison.SignificantDelta, Notable: cfg.Comparison.NotableDelta}),
		Metrics:     recorder,
		CaptureDiff: !cfg.Git.DisableDiff,
		Logger:      logger,
	})
	store := result.NewStore(runDir)

	jobs := make([]runner.Job, 0, len(projects))
	for _, p := range projects {
		jobs = append(jobs, runner.Job{Name: p.ID, Run: func(ctx context.Context) error {
			fmt.Fprintf(out, "Running %s...\n", p.ID)
			res := orch.Run(ctx, p, orchestrator.Options{Resume: flagResume})
			recorder.ObserveRun(res)
			if err := store.SaveRun(res); err != nil {
				return err
			}
			printRunLine(out, res)
			if res.Status == result.StatusFailed {
				return errors.New(res.FailureReason)
			}
			return nil
		}})
	}
	errs := runner.RunPool(ctx, flagParallel, jobs)
	for _, err := range errs {
		fmt.Fprintf(out, "  ERROR: %v\n", err)
	}

	if err := recorder.WriteTextfile(filepath.Join(runDir, MetricsFile)); err != nil {
		logger.Warn("writing metrics", zap.Error(err))
	}

	fmt.Fprintln(out, "\n--- Results ---")
	if err := report.Generate(runDir, "table", out); err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d projects failed", len(errs), len(jobs))
	}
	return nil
}

func printRunLine(w io.Writer, res *result.RunResult) {
	if res.Status == result.StatusFailed {
		fmt.Fprintf(w, "  %s failed after %.0fs: %s\n", res.ProjectID, res.DurationSeconds, res.FailureReason)
		return
	}
	verdict := "-"
	if res.Comparison != nil {
		verdict = res.Comparison.Verdict
	}
	fmt.Fprintf(w, "  %s completed in %.0fs: %s\n", res.ProjectID, res.DurationSeconds, verdict)
}

// filterProjects keeps the projects named in ids, in config order. An empty
// filter keeps everything; an unknown id is an error.
func filterProjects(projects []config.Project, ids []string) ([]config.Project, error) {
	if len(ids) == 0 {
		return projects, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[strings.TrimSpace(id)] = true
	}
	var filtered []config.Project
	for _, p := range projects {
		if want[p.ID] {
			filtered = append(filtered, p)
			delete(want, p.ID)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for id := range want {
			unknown = append(unknown, id)
		}
		return nil, fmt.Errorf("unknown project(s): %s", strings.Join(unknown, ", "))
	}
	return filtered, nil
}

func supervisorOptions(s config.Supervisor) supervisor.Options {
	return supervisor.Options{
		PollInterval:       s.PollInterval.Std(),
		StallThreshold:     s.StallThreshold.Std(),
		StallCheckInterval: s.StallCheckInterval.Std(),
		FlushInterval:      s.FlushInterval.Std(),
		GracePeriod:        s.GracePeriod.Std(),
	}
}

// newEvaluator returns nil when the judge is disabled or unusable; analyses
// then carry static metrics only.
func newEvaluator(j config.Judge, disabled bool, logger *zap.Logger) analysis.Evaluator {
	if !j.Enabled || disabled {
		return nil
	}
	judge, err := analysis.NewJudge(analysis.JudgeOptions{
		URL:               j.URL,
		Model:             j.Model,
		APIKey:            os.Getenv(j.APIKeyEnv),
		Samples:           j.Samples,
		MaxSourceChars:    j.MaxSourceChars,
		RequestsPerSecond: j.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		logger.Warn("ai evaluation disabled", zap.String("api_key_env", j.APIKeyEnv), zap.Error(err))
		return nil
	}
	return judge
}
