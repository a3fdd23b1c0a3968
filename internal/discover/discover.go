// Package discover turns the assembly arguments of a run into the list of
// files to process.
package discover

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile is read from every expanded directory, when present, and holds
// extra exclude patterns in gitignore syntax.
const IgnoreFile = ".attrstripignore"

// AssemblyExt is the extension picked up when a directory is expanded.
const AssemblyExt = ".dll"

// Expand resolves paths into assembly files. A directory expands to the
// assemblies directly inside it, sorted by name, minus the ones matched by
// excludes or by the directory's ignore file. Any other path is passed through
// untouched, so that a missing file is reported by the stripper like any
// other. Each file appears once, at its first position.
func Expand(paths []string, excludes []string) ([]string, error) {
	var (
		files []string
		seen  = make(map[string]struct{})
	)
	add := func(path string) {
		key := filepath.Clean(path)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		files = append(files, path)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			add(path)
			continue
		}

		found, err := expandDir(path, excludes)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			add(f)
		}
	}
	return files, nil
}

func expandDir(dir string, excludes []string) ([]string, error) {
	gi, err := loadIgnore(dir, excludes)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), AssemblyExt) {
			continue
		}
		if gi != nil && gi.MatchesPath(name) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func loadIgnore(dir string, excludes []string) (*ignore.GitIgnore, error) {
	lines := append([]string(nil), excludes...)

	data, err := os.ReadFile(filepath.Join(dir, IgnoreFile))
	switch {
	case err == nil:
		lines = append(lines, strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")...)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", filepath.Join(dir, IgnoreFile), err)
	}

	if len(lines) == 0 {
		return nil, nil
	}
	return ignore.CompileIgnoreLines(lines...), nil
}
