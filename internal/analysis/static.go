package analysis

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/signalnine/ccobench/internal/workspace"
)

// StaticAnalyzer scores a project from file layout alone:
//   - file count and LOC distribution
//   - no monolithic files (penalty above 500 LOC in one file)
//   - the agent wrote its own tests
type StaticAnalyzer struct {
	logger *zap.Logger
}

func NewStaticAnalyzer(logger *zap.Logger) *StaticAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticAnalyzer{logger: logger}
}

func (a *StaticAnalyzer) Analyze(ctx context.Context, dir string) (*Metrics, error) {
	m := &Metrics{Languages: make(map[string]int)}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && workspace.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		lang, ok := workspace.Language(d.Name())
		if !ok || !d.Type().IsRegular() {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		if isTestFile(rel) {
			m.TestFileCount++
		}

		loc := countLOC(path, lang)
		m.FileCount++
		m.TotalLOC += loc
		m.Languages[lang]++
		if loc > m.MaxFileLOC {
			m.MaxFileLOC = loc
			m.MaxFile = rel
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", dir, err)
	}
	if m.FileCount == 0 {
		return nil, fmt.Errorf("analyzing %s: no source files", dir)
	}
	m.AvgFileLOC = m.TotalLOC / m.FileCount
	m.OverallScore = metricsScore(m)

	a.logger.Debug("static analysis complete",
		zap.String("dir", dir),
		zap.Int("files", m.FileCount),
		zap.Int("loc", m.TotalLOC),
		zap.Float64("score", m.OverallScore))
	return m, nil
}

func metricsScore(m *Metrics) float64 {
	score := 0.0

	// File organization: several files preferred over a monolith (0-40).
	switch {
	case m.FileCount >= 3:
		score += 40
	case m.FileCount == 2:
		score += 30
	case m.FileCount == 1:
		score += 10
	}

	// Largest file size (0-30).
	switch {
	case m.MaxFileLOC <= 200:
		score += 30
	case m.MaxFileLOC <= 500:
		score += 20
	case m.MaxFileLOC <= 800:
		score += 10
	}

	// Agent-written tests (0-30).
	switch {
	case m.TestFileCount >= 3:
		score += 30
	case m.TestFileCount >= 1:
		score += 20
	}
	return score
}

func isTestFile(rel string) bool {
	rel = filepath.ToSlash(rel)
	name := filepath.Base(rel)
	switch {
	case strings.HasSuffix(name, "_test.go"),
		strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py"),
		strings.HasSuffix(name, "_test.py"),
		strings.Contains(name, ".test."),
		strings.Contains(name, ".spec."),
		strings.HasSuffix(name, "Test.java"),
		strings.HasSuffix(name, "_spec.rb"):
		return true
	}
	for _, part := range strings.Split(filepath.Dir(rel), "/") {
		if part == "tests" || part == "test" || part == "__tests__" || part == "spec" {
			return true
		}
	}
	return false
}

// countLOC counts non-empty, non-comment lines.
func countLOC(path, lang string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	hashComments := lang == "python" || lang == "ruby" || lang == "shell"
	count := 0
	inBlockComment := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if hashComments {
			if !strings.HasPrefix(trimmed, "#") {
				count++
			}
			continue
		}
		if inBlockComment {
			if strings.Contains(trimmed, "*/") {
				inBlockComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "/*") {
			inBlockComment = !strings.Contains(trimmed, "*/")
			continue
		}
		if strings.HasPrefix(trimmed, "//") {
			continue
		}
		count++
	}
	return count
}
