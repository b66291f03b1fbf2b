// Package resume works out which leading phases of a benchmark can be
// skipped because their artifacts are already on disk.
package resume

import (
	"errors"

	"go.uber.org/zap"

	"github.com/signalnine/ccobench/internal/analysis"
	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/workspace"
)

// State reports what a previous run left behind. The booleans only ever
// form a prefix: once one is false every later one is false.
type State struct {
	VanillaGenerated bool `json:"vanilla_generated"`
	VanillaAnalyzed  bool `json:"vanilla_analyzed"`
	CCODerived       bool `json:"cco_derived"`
	CCOConfigured    bool `json:"cco_configured"`

	// VanillaAnalysis is the cached report when VanillaAnalyzed is set.
	VanillaAnalysis *analysis.Report `json:"vanilla_analysis,omitempty"`
}

// ResumeFromPhase is the index into phase.Order of the first phase that must
// run. It is 4 (cco_optimize) when everything resumable is done.
func (s State) ResumeFromPhase() int {
	for i, done := range s.flags() {
		if !done {
			return i
		}
	}
	return len(s.flags())
}

// CanSkip reports whether name lies inside the resumable prefix.
func (s State) CanSkip(name phase.Name) bool {
	idx := name.Index()
	return idx >= 0 && idx < s.ResumeFromPhase()
}

func (s State) flags() []bool {
	return []bool{s.VanillaGenerated, s.VanillaAnalyzed, s.CCODerived, s.CCOConfigured}
}

// normalize clears every flag after the first false one.
func (s *State) normalize() {
	ptrs := []*bool{&s.VanillaGenerated, &s.VanillaAnalyzed, &s.CCODerived, &s.CCOConfigured}
	broken := false
	for _, p := range ptrs {
		if broken {
			*p = false
		}
		if !*p {
			broken = true
		}
	}
	if !s.VanillaAnalyzed {
		s.VanillaAnalysis = nil
	}
}

// Resolver inspects the workspace. It never writes.
type Resolver struct {
	layout workspace.Layout
	logger *zap.Logger
}

func NewResolver(layout workspace.Layout, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{layout: layout, logger: logger}
}

func (r *Resolver) Resolve(project string) State {
	var s State
	s.VanillaGenerated = workspace.HasSourceFiles(r.layout.VariantDir(project, workspace.Vanilla))

	report, err := analysis.ReadReport(r.layout.AnalysisPath(project, workspace.Vanilla))
	switch {
	case err == nil:
		s.VanillaAnalyzed = true
		s.VanillaAnalysis = report
	case !errors.Is(err, analysis.ErrNoReport):
		r.logger.Warn("ignoring unreadable vanilla analysis", zap.String("project", project), zap.Error(err))
	}

	s.CCODerived = workspace.HasSourceFiles(r.layout.VariantDir(project, workspace.CCO))
	s.CCOConfigured = workspace.DirExists(r.layout.MarkerPath(project))

	s.normalize()
	return s
}
