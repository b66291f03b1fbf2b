package workspace

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
)

var languages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".sh":    "shell",
}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"venv":         true,
	".venv":        true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".claude":      true,
}

// Language maps a file name to its source language.
func Language(name string) (string, bool) {
	if strings.HasSuffix(name, ".d.ts") {
		return "", false
	}
	lang, ok := languages[strings.ToLower(filepath.Ext(name))]
	return lang, ok
}

// SkipDir reports whether a directory holds dependencies, build output or
// tool state rather than generated source.
func SkipDir(name string) bool {
	return skipDirs[name]
}

var errFound = errors.New("found")

// HasSourceFiles reports whether dir contains at least one source file.
func HasSourceFiles(dir string) bool {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := Language(d.Name()); ok && d.Type().IsRegular() {
			return errFound
		}
		return nil
	})
	return errors.Is(err, errFound)
}
