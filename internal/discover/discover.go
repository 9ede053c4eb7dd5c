// Package discover finds coverage report files under a directory.
package discover

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// FileEntry represents a discovered report file.
type FileEntry struct {
	Path string // Relative to the search root
}

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".hg":          {},
	".svn":         {},
	".vs":          {},
	".idea":        {},
	"obj":          {},
	"packages":     {},
}

// Options narrows which files Reports returns. Both lists use .gitignore
// syntax and are matched against the path relative to the root.
type Options struct {
	Include []string // when non-empty a file must match one of these
	Exclude []string
}

// Reports discovers XML report candidates under root, sorted by path.
// Coverage output is usually git-ignored, so the repository's own ignore
// rules are not applied.
func Reports(root string, opts Options) ([]FileEntry, error) {
	include := compile(opts.Include)
	exclude := compile(opts.Exclude)

	var results []FileEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		if !strings.EqualFold(filepath.Ext(name), ".xml") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		slashed := filepath.ToSlash(rel)

		if include != nil && !include.MatchesPath(slashed) {
			return nil
		}
		if exclude != nil && exclude.MatchesPath(slashed) {
			return nil
		}

		results = append(results, FileEntry{Path: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

func compile(patterns []string) *ignore.GitIgnore {
	var lines []string
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}
