// Package compare turns the analyses of the two variants into a verdict.
package compare

import (
	"math"

	"github.com/signalnine/ccobench/internal/analysis"
)

const (
	VerdictSignificantlyBetter = "CCO significantly better"
	VerdictBetter              = "CCO better"
	VerdictMixed               = "Mixed/negligible"
	VerdictVanillaBetter       = "Vanilla better"
	VerdictVanillaSignificant  = "Vanilla significantly better"
	VerdictFailed              = "Failed"
)

const (
	WinnerCCO     = "cco"
	WinnerVanilla = "vanilla"
	WinnerTie     = "tie"
)

// Thresholds are the score deltas separating verdicts. A delta of at least
// Significant (or at most -Significant) is a significant win.
type Thresholds struct {
	Significant float64
	Notable     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Significant: 20, Notable: 5}
}

type DimensionResult struct {
	Dimension    string  `json:"dimension"`
	VanillaScore float64 `json:"vanilla_score"`
	CCOScore     float64 `json:"cco_score"`
	Delta        float64 `json:"delta"`
	Winner       string  `json:"winner"`
}

type Result struct {
	VanillaScore       float64           `json:"vanilla_score"`
	CCOScore           float64           `json:"cco_score"`
	ScoreImprovement   float64           `json:"score_improvement"`
	Verdict            string            `json:"verdict"`
	AIScoreImprovement *float64          `json:"ai_score_improvement,omitempty"`
	Dimensions         []DimensionResult `json:"dimensions,omitempty"`
	CCOWins            int               `json:"cco_wins"`
	VanillaWins        int               `json:"vanilla_wins"`
	Ties               int               `json:"ties"`
	Error              string            `json:"error,omitempty"`
}

// Failed reports whether the comparison could not be made.
func (r *Result) Failed() bool {
	return r == nil || r.Verdict == VerdictFailed
}

// Engine compares two variants under fixed thresholds.
type Engine struct {
	thresholds Thresholds
}

func NewEngine(t Thresholds) *Engine {
	def := DefaultThresholds()
	if t.Significant <= 0 {
		t.Significant = def.Significant
	}
	if t.Notable <= 0 {
		t.Notable = def.Notable
	}
	return &Engine{thresholds: t}
}

// Compare computes the static delta and, when both AI results are usable,
// the per-dimension breakdown. Missing static metrics on either side yield a
// Failed result; missing AI results only omit the breakdown.
func (e *Engine) Compare(vanilla *analysis.Metrics, vanillaAI *analysis.AIResult, cco *analysis.Metrics, ccoAI *analysis.AIResult) *Result {
	switch {
	case vanilla == nil && cco == nil:
		return &Result{Verdict: VerdictFailed, Error: "missing static metrics for both variants"}
	case vanilla == nil:
		return &Result{Verdict: VerdictFailed, Error: "missing static metrics for vanilla"}
	case cco == nil:
		return &Result{Verdict: VerdictFailed, Error: "missing static metrics for cco"}
	}

	delta := round2(cco.OverallScore - vanilla.OverallScore)
	res := &Result{
		VanillaScore:     vanilla.OverallScore,
		CCOScore:         cco.OverallScore,
		ScoreImprovement: delta,
		Verdict:          e.Verdict(delta),
	}
	if vanillaAI.Usable() && ccoAI.Usable() {
		e.compareAI(res, vanillaAI, ccoAI)
	}
	return res
}

// Compare runs an Engine with the default thresholds.
func Compare(vanilla *analysis.Metrics, vanillaAI *analysis.AIResult, cco *analysis.Metrics, ccoAI *analysis.AIResult) *Result {
	return NewEngine(DefaultThresholds()).Compare(vanilla, vanillaAI, cco, ccoAI)
}

// Verdict maps a score delta to its label.
func (e *Engine) Verdict(delta float64) string {
	t := e.thresholds
	switch {
	case delta >= t.Significant:
		return VerdictSignificantlyBetter
	case delta >= t.Notable:
		return VerdictBetter
	case delta > -t.Notable:
		return VerdictMixed
	case delta > -t.Significant:
		return VerdictVanillaBetter
	default:
		return VerdictVanillaSignificant
	}
}

func (e *Engine) compareAI(res *Result, vanilla, cco *analysis.AIResult) {
	improvement := round2(cco.OverallScore - vanilla.OverallScore)
	res.AIScoreImprovement = &improvement

	for _, dim := range analysis.Dimensions {
		v, vok := vanilla.Dimensions[dim]
		c, cok := cco.Dimensions[dim]
		if !vok || !cok {
			continue
		}
		raw := c - v
		d := DimensionResult{
			Dimension:    dim,
			VanillaScore: v,
			CCOScore:     c,
			Delta:        round2(raw),
		}
		// The winner follows the unrounded difference.
		switch {
		case raw > 0:
			d.Winner = WinnerCCO
			res.CCOWins++
		case raw < 0:
			d.Winner = WinnerVanilla
			res.VanillaWins++
		default:
			d.Winner = WinnerTie
			res.Ties++
		}
		res.Dimensions = append(res.Dimensions, d)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
