package gitops

import (
	"fmt"
	"os/exec"
)

// BaselineTag marks the commit made right after the cco variant was derived.
const BaselineTag = "ccobench-baseline"

// identity keeps commits working on machines without a global git identity.
var identity = []string{"-c", "user.name=ccobench", "-c", "user.email=ccobench@localhost"}

func git(dir string, args ...string) *exec.Cmd {
	cmd := exec.Command("git", append(append([]string{}, identity...), args...)...)
	cmd.Dir = dir
	return cmd
}

// InitBaseline turns dir into a repository whose single commit, tagged
// BaselineTag, holds the current tree.
func InitBaseline(dir string) error {
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"add", "-A"},
		{"commit", "--quiet", "--allow-empty", "--no-verify", "-m", "ccobench baseline"},
		{"tag", "-f", BaselineTag},
	} {
		if out, err := git(dir, args...).CombinedOutput(); err != nil {
			return fmt.Errorf("git %s: %s: %w", args[0], out, err)
		}
	}
	return nil
}

// CaptureChanges stages all changes (including untracked files) and returns the
// diff against the baseline. Commits made by the agent itself are included.
func CaptureChanges(repoDir string) ([]byte, error) {
	if out, err := git(repoDir, "add", "-A").CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git add -A: %s: %w", out, err)
	}
	args := []string{"diff", "--cached", "--binary"}
	if git(repoDir, "rev-parse", "--verify", "--quiet", BaselineTag).Run() == nil {
		args = append(args, BaselineTag)
	}
	out, err := git(repoDir, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("git diff --cached: %w", err)
	}
	return out, nil
}
