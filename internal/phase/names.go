// Package phase runs one named pipeline step of a benchmark and turns the
// supervised process outcome into a uniform Result.
package phase

import "github.com/signalnine/ccobench/internal/workspace"

// Name identifies one of the seven fixed pipeline phases.
type Name string

const (
	VanillaGeneration Name = "vanilla_generation"
	VanillaAnalysis   Name = "vanilla_analysis"
	CCODerive         Name = "cco_derive"
	CCOConfig         Name = "cco_config"
	CCOOptimize       Name = "cco_optimize"
	CCOReview         Name = "cco_review"
	CCOAnalysis       Name = "cco_analysis"
)

// Order is the execution order of a full run.
var Order = []Name{
	VanillaGeneration,
	VanillaAnalysis,
	CCODerive,
	CCOConfig,
	CCOOptimize,
	CCOReview,
	CCOAnalysis,
}

// Index returns the position of n in Order, or -1.
func (n Name) Index() int {
	for i, o := range Order {
		if o == n {
			return i
		}
	}
	return -1
}

func (n Name) Valid() bool { return n.Index() >= 0 }

// Blocking reports whether a failure of n aborts the run.
func (n Name) Blocking() bool {
	switch n {
	case VanillaGeneration, CCODerive, CCOConfig:
		return true
	}
	return false
}

// RunsAgent reports whether n launches the external agent.
func (n Name) RunsAgent() bool {
	switch n {
	case VanillaGeneration, CCOConfig, CCOOptimize, CCOReview:
		return true
	}
	return false
}

func (n Name) Variant() workspace.Variant {
	switch n {
	case VanillaGeneration, VanillaAnalysis:
		return workspace.Vanilla
	}
	return workspace.CCO
}
