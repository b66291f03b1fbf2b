package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const SummaryFile = "summary.json"

// CreateRunDir makes <base>/runs/<UTC stamp> and points <base>/latest at it.
func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func SummaryPath(runDir, project string) string {
	return filepath.Join(runDir, project, SummaryFile)
}

// Store persists run results under one run directory.
type Store struct {
	runDir string
}

func NewStore(runDir string) *Store {
	return &Store{runDir: runDir}
}

func (s *Store) RunDir() string { return s.runDir }

func (s *Store) SaveRun(r *RunResult) error {
	dir := filepath.Join(s.runDir, r.ProjectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating project result dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run result: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, SummaryFile), data, 0o644)
}

func ReadRun(path string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run result: %w", err)
	}
	var r RunResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing run result %s: %w", path, err)
	}
	return &r, nil
}

// FindRuns lists the summary files under runDir, sorted.
func FindRuns(runDir string) ([]string, error) {
	var paths []string
	err := filepath.Walk(runDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == SummaryFile {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", runDir, err)
	}
	sort.Strings(paths)
	return paths, nil
}
