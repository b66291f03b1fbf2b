// Package workspace owns the on-disk layout of a benchmark: per-project
// variant directories, cached analysis files and per-phase log directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Variant is one of the two builds compared per project.
type Variant string

const (
	Vanilla Variant = "vanilla"
	CCO     Variant = "cco"
)

// PromptFile is written into the vanilla directory before generation.
const PromptFile = "_benchmark_prompt.md"

// Layout resolves every path the benchmark reads or writes.
//
//	<root>/<project>/{vanilla,cco}/
//	<root>/<project>/<variant>_analysis.json
//	<results>/logs/<project>/<variant>/
type Layout struct {
	Root      string
	Results   string
	MarkerDir string
}

func New(root, results, markerDir string) Layout {
	if markerDir == "" {
		markerDir = ".claude"
	}
	return Layout{Root: root, Results: results, MarkerDir: markerDir}
}

func (l Layout) ProjectDir(project string) string {
	return filepath.Join(l.Root, project)
}

func (l Layout) VariantDir(project string, v Variant) string {
	return filepath.Join(l.Root, project, string(v))
}

func (l Layout) AnalysisPath(project string, v Variant) string {
	return filepath.Join(l.Root, project, string(v)+"_analysis.json")
}

func (l Layout) LogDir(project string, v Variant) string {
	return filepath.Join(l.Results, "logs", project, string(v))
}

// MarkerPath is the directory whose presence in the cco tree shows the
// config phase has run.
func (l Layout) MarkerPath(project string) string {
	return filepath.Join(l.VariantDir(project, CCO), l.MarkerDir)
}

// Reset removes dir and recreates it empty.
func Reset(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// WritePrompt stores the project prompt where the agent is told to look.
func WritePrompt(dir, prompt string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, PromptFile)
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
