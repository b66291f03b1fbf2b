// Package analysis defines the code-quality collaborators the orchestrator
// calls after each variant is built, and ships a default implementation of
// each: a static file/LOC heuristic and an LLM judge.
package analysis

import "context"

// Dimensions is the fixed list of axes the AI evaluator scores.
var Dimensions = []string{
	"correctness",
	"code_quality",
	"architecture",
	"maintainability",
	"security",
	"testing",
}

// Metrics is the static analysis of one project directory. OverallScore is
// on a 0-100 scale.
type Metrics struct {
	OverallScore  float64        `json:"overall_score"`
	FileCount     int            `json:"file_count"`
	TotalLOC      int            `json:"total_loc"`
	MaxFileLOC    int            `json:"max_file_loc"`
	MaxFile       string         `json:"max_file,omitempty"`
	AvgFileLOC    int            `json:"avg_file_loc"`
	TestFileCount int            `json:"test_file_count"`
	Languages     map[string]int `json:"languages,omitempty"`
}

// AIResult is one evaluator verdict. Dimension scores are 0-100. A result
// carrying Error is kept for the record but ignored by comparisons.
type AIResult struct {
	OverallScore float64            `json:"overall_score"`
	Dimensions   map[string]float64 `json:"dimensions,omitempty"`
	Model        string             `json:"model,omitempty"`
	Samples      int                `json:"samples,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Usable reports whether r holds scores that may be compared.
func (r *AIResult) Usable() bool {
	return r != nil && r.Error == ""
}

type CodeAnalyzer interface {
	Analyze(ctx context.Context, dir string) (*Metrics, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, dir, prompt string) (*AIResult, error)
}
