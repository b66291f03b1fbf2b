package result

import (
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/ccobench/internal/analysis"
	"github.com/signalnine/ccobench/internal/compare"
	"github.com/signalnine/ccobench/internal/phase"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunResult is the record of benchmarking one project. Phases holds every
// attempted phase in execution order, skipped ones included.
type RunResult struct {
	RunID           string           `json:"run_id"`
	ProjectID       string           `json:"project_id"`
	ProjectName     string           `json:"project_name"`
	Status          Status           `json:"status"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	Resumed         bool             `json:"resumed"`
	Phases          []phase.Result   `json:"phases"`
	Vanilla         *analysis.Report `json:"vanilla,omitempty"`
	CCO             *analysis.Report `json:"cco,omitempty"`
	Comparison      *compare.Result  `json:"comparison,omitempty"`
}

func NewRunResult(projectID, projectName string, startedAt time.Time) *RunResult {
	return &RunResult{
		RunID:       uuid.NewString(),
		ProjectID:   projectID,
		ProjectName: projectName,
		StartedAt:   startedAt,
		Phases:      []phase.Result{},
	}
}

func (r *RunResult) Append(p phase.Result) {
	r.Phases = append(r.Phases, p)
}

// Phase returns the recorded result for name.
func (r *RunResult) Phase(name phase.Name) (phase.Result, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return phase.Result{}, false
}

// Fail marks the run as aborted. The first reason wins.
func (r *RunResult) Fail(reason string) {
	r.Status = StatusFailed
	if r.FailureReason == "" {
		r.FailureReason = reason
	}
}

// Finish stamps the end time and settles the status.
func (r *RunResult) Finish(at time.Time) {
	r.FinishedAt = at
	r.DurationSeconds = at.Sub(r.StartedAt).Seconds()
	if r.Status == "" {
		r.Status = StatusCompleted
	}
}

// CostUSD sums the agent cost reported across phases.
func (r *RunResult) CostUSD() float64 {
	var total float64
	for _, p := range r.Phases {
		if out, ok := p.Output.(*phase.AgentOutput); ok && out != nil {
			total += out.CostUSD
		}
	}
	return total
}
