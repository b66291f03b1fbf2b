// Package metrics collects per-run prometheus metrics and exports them in
// the node_exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/result"
)

// Recorder holds the benchmark metrics on its own registry. All methods are
// safe for concurrent use.
//
// Metrics:
//   - ccobench_phase_runs_total{phase,outcome}
//   - ccobench_phase_duration_seconds{phase}
//   - ccobench_phase_output_lines_total{phase}
//   - ccobench_stall_warnings_total{phase}
//   - ccobench_agent_cost_usd_total{project}
//   - ccobench_runs_total{status}
//   - ccobench_score_improvement{project}
type Recorder struct {
	registry *prometheus.Registry

	PhaseRuns        *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	OutputLines      *prometheus.CounterVec
	StallWarnings    *prometheus.CounterVec
	AgentCost        *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	ScoreImprovement *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		PhaseRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccobench_phase_runs_total",
				Help: "Phases attempted, by outcome (success, skipped or failure kind)",
			},
			[]string{"phase", "outcome"},
		),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccobench_phase_duration_seconds",
				Help:    "Wall-clock duration of executed phases",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
			},
			[]string{"phase"},
		),
		OutputLines: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccobench_phase_output_lines_total",
				Help: "Lines of agent output observed by the supervisor",
			},
			[]string{"phase"},
		),
		StallWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccobench_stall_warnings_total",
				Help: "Stall warnings raised while the agent was silent and idle on disk",
			},
			[]string{"phase"},
		),
		AgentCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccobench_agent_cost_usd_total",
				Help: "Agent cost reported in result records",
			},
			[]string{"project"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccobench_runs_total",
				Help: "Project runs finished, by status",
			},
			[]string{"status"},
		),
		ScoreImprovement: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ccobench_score_improvement",
				Help: "Static score delta, cco minus vanilla",
			},
			[]string{"project"},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObservePhase implements phase.Recorder.
func (r *Recorder) ObservePhase(project string, res phase.Result) {
	name := string(res.Name)
	r.PhaseRuns.WithLabelValues(name, Outcome(res)).Inc()
	if res.Skipped {
		return
	}
	r.PhaseDuration.WithLabelValues(name).Observe(res.DurationSeconds)
	if out, ok := res.Output.(*phase.AgentOutput); ok && out != nil {
		r.OutputLines.WithLabelValues(name).Add(float64(out.OutputLines))
		r.StallWarnings.WithLabelValues(name).Add(float64(out.StallWarnings))
		if out.CostUSD > 0 {
			r.AgentCost.WithLabelValues(project).Add(out.CostUSD)
		}
	}
}

// ObserveRun records a finished project run.
func (r *Recorder) ObserveRun(run *result.RunResult) {
	r.Runs.WithLabelValues(string(run.Status)).Inc()
	if c := run.Comparison; c != nil && !c.Failed() {
		r.ScoreImprovement.WithLabelValues(run.ProjectID).Set(c.ScoreImprovement)
	}
}

// WriteTextfile atomically writes every metric to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

// Outcome is the outcome label for a phase result.
func Outcome(res phase.Result) string {
	switch {
	case res.Skipped:
		return "skipped"
	case res.Success:
		return "success"
	case res.Failure != phase.FailureNone:
		return string(res.Failure)
	}
	return "failure"
}
