package phase

import (
	"encoding/json"
	"fmt"

	"github.com/signalnine/ccobench/internal/analysis"
	"github.com/signalnine/ccobench/internal/workspace"
)

// FailureKind classifies why a phase did not succeed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureNotFound    FailureKind = "not_found"
	FailureTimeout     FailureKind = "timeout"
	FailureToolError   FailureKind = "tool_error"
	FailureInterrupted FailureKind = "interrupted"
	FailureFilesystem  FailureKind = "filesystem"
	FailureAnalysis    FailureKind = "analysis"
)

// Output is the phase-specific payload of a Result. The implementations are
// *AgentOutput, *AnalysisOutput and *DeriveOutput.
type Output interface {
	Kind() string
	isOutput()
}

// AgentOutput describes one agent invocation. Recovered is set when a
// non-zero exit was overridden by a success record in the agent's stream.
type AgentOutput struct {
	ExitCode      *int    `json:"exit_code"`
	OutputLines   int     `json:"output_lines"`
	StallWarnings int     `json:"stall_warnings"`
	CostUSD       float64 `json:"cost_usd,omitempty"`
	Turns         int     `json:"turns,omitempty"`
	Recovered     bool    `json:"recovered,omitempty"`
	LogPath       string  `json:"log_path,omitempty"`
}

type AnalysisOutput struct {
	analysis.Report
}

type DeriveOutput struct {
	workspace.CopyStats
}

func (*AgentOutput) Kind() string    { return "agent" }
func (*AnalysisOutput) Kind() string { return "analysis" }
func (*DeriveOutput) Kind() string   { return "derive" }

func (*AgentOutput) isOutput()    {}
func (*AnalysisOutput) isOutput() {}
func (*DeriveOutput) isOutput()   {}

// Result is the record of one attempted phase. A skipped phase is always
// successful and takes no time.
type Result struct {
	Name            Name        `json:"name"`
	Success         bool        `json:"success"`
	DurationSeconds float64     `json:"duration_seconds"`
	Error           string      `json:"error,omitempty"`
	Failure         FailureKind `json:"failure,omitempty"`
	Skipped         bool        `json:"skipped"`
	Output          Output      `json:"-"`
}

// SkippedResult records a phase elided by resume.
func SkippedResult(name Name, out Output) Result {
	return Result{Name: name, Success: true, Skipped: true, Output: out}
}

// Failed records a phase that did not complete.
func Failed(name Name, kind FailureKind, durationSeconds float64, err error) Result {
	return Result{Name: name, Failure: kind, DurationSeconds: durationSeconds, Error: err.Error()}
}

// Analysis returns the analysis payload, if r carries one.
func (r Result) Analysis() (*AnalysisOutput, bool) {
	out, ok := r.Output.(*AnalysisOutput)
	return out, ok && out != nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	aux := struct {
		plain
		OutputKind string `json:"output_kind,omitempty"`
		Output     Output `json:"output,omitempty"`
	}{plain: plain(r)}
	if r.Output != nil {
		aux.OutputKind = r.Output.Kind()
		aux.Output = r.Output
	}
	return json.Marshal(aux)
}

func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	var aux struct {
		plain
		OutputKind string          `json:"output_kind"`
		Output     json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Result(aux.plain)
	if aux.OutputKind == "" || len(aux.Output) == 0 || string(aux.Output) == "null" {
		return nil
	}
	var out Output
	switch aux.OutputKind {
	case "agent":
		out = &AgentOutput{}
	case "analysis":
		out = &AnalysisOutput{}
	case "derive":
		out = &DeriveOutput{}
	default:
		return fmt.Errorf("phase %s: unknown output kind %q", r.Name, aux.OutputKind)
	}
	if err := json.Unmarshal(aux.Output, out); err != nil {
		return fmt.Errorf("phase %s: decoding %s output: %w", r.Name, aux.OutputKind, err)
	}
	r.Output = out
	return nil
}
