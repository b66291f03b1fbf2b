package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoReport is returned by ReadReport when nothing was cached.
var ErrNoReport = errors.New("no analysis report")

// Report is the persisted outcome of analyzing one variant.
type Report struct {
	Metrics *Metrics  `json:"metrics,omitempty"`
	AI      *AIResult `json:"ai,omitempty"`
}

func WriteReport(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadReport loads a cached report. A report without static metrics is
// treated as absent, since nothing downstream can use it.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoReport
	}
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	if r.Metrics == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoReport)
	}
	return &r, nil
}
