package supervisor

import (
	"io/fs"
	"path/filepath"
)

// CountFiles returns the number of regular files under dir, ignoring .git.
// Unreadable entries are skipped; a missing dir counts as zero.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count
}
