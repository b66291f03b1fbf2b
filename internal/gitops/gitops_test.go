package gitops_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalnine/ccobench/internal/gitops"
)

func createBaseline(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0o644)
	if err := gitops.InitBaseline(dir); err != nil {
		t.Fatalf("InitBaseline: %v", err)
	}
	return dir
}

func TestInitBaseline(t *testing.T) {
	dir := createBaseline(t)
	out, err := exec.Command("git", "-C", dir, "ls-files").Output()
	if err != nil {
		t.Fatalf("git ls-files: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello.txt" {
		t.Errorf("tracked files: got %q", out)
	}
}

func TestInitBaselineEmptyDir(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if err := gitops.InitBaseline(t.TempDir()); err != nil {
		t.Fatalf("InitBaseline on empty dir: %v", err)
	}
}

func TestCaptureChanges(t *testing.T) {
	dir := createBaseline(t)
	os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("modified\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new file\n"), 0o644)
	diff, err := gitops.CaptureChanges(dir)
	if err != nil {
		t.Fatalf("CaptureChanges: %v", err)
	}
	for _, want := range []string{"hello.txt", "new.txt", "+modified"} {
		if !strings.Contains(string(diff), want) {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}
}

func TestCaptureChangesIncludesAgentCommits(t *testing.T) {
	dir := createBaseline(t)
	os.WriteFile(filepath.Join(dir, "committed.txt"), []byte("by agent\n"), 0o644)
	for _, args := range [][]string{
		{"add", "-A"},
		{"-c", "user.name=agent", "-c", "user.email=agent@test", "commit", "-m", "agent work"},
	} {
		c := exec.Command("git", args...)
		c.Dir = dir
		if out, err := c.CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
	diff, err := gitops.CaptureChanges(dir)
	if err != nil {
		t.Fatalf("CaptureChanges: %v", err)
	}
	if !strings.Contains(string(diff), "committed.txt") {
		t.Errorf("expected committed change in diff, got:\n%s", diff)
	}
}

func TestCaptureChangesNoChanges(t *testing.T) {
	dir := createBaseline(t)
	diff, err := gitops.CaptureChanges(dir)
	if err != nil {
		t.Fatalf("CaptureChanges: %v", err)
	}
	if len(diff) != 0 {
		t.Errorf("expected empty diff, got %d bytes", len(diff))
	}
}

func TestCaptureChangesNotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	// keep git from walking up into an enclosing repository
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))
	if _, err := gitops.CaptureChanges(dir); err == nil {
		t.Error("expected error outside a repository")
	}
}
