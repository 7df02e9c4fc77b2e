package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// ErrNoSources indicates that no source files were found during discovery.
var ErrNoSources = errors.New("no sources discovered")

// Source is one discovered input.
type Source struct {
	// Name is the file name without its extension; it keys logs and summary lines.
	Name string
	Path string
}

// Sources returns the files in dir ending in ext, sorted lexicographically by
// file name. With numericPrefix only names starting with a digit are kept.
func Sources(dir, ext string, numericPrefix bool) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("inputs directory %q not found: %w", dir, err)
		}
		return nil, fmt.Errorf("read inputs directory %q: %w", dir, err)
	}

	var sources []Source
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		if !strings.HasSuffix(file, ext) || len(file) == len(ext) {
			continue
		}
		if numericPrefix && !startsWithDigit(file) {
			continue
		}
		sources = append(sources, Source{
			Name: strings.TrimSuffix(file, ext),
			Path: filepath.Join(dir, file),
		})
	}

	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	sort.Slice(sources, func(i, j int) bool {
		return filepath.Base(sources[i].Path) < filepath.Base(sources[j].Path)
	})
	return sources, nil
}

// Files validates explicitly named inputs relative to root and returns them
// in the order given, dropping duplicates.
func Files(root string, explicit []string) ([]Source, error) {
	seen := make(map[string]struct{})
	resolved := make([]Source, 0, len(explicit))
	for _, input := range explicit {
		cleaned := input
		if !filepath.IsAbs(cleaned) {
			cleaned = filepath.Join(root, cleaned)
		}
		info, err := os.Stat(cleaned)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("source %q not found", input)
			}
			return nil, fmt.Errorf("stat %q: %w", input, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("source %q is a directory", input)
		}
		rel := mustRelOrClean(root, cleaned)
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		base := filepath.Base(rel)
		resolved = append(resolved, Source{
			Name: strings.TrimSuffix(base, filepath.Ext(base)),
			Path: rel,
		})
	}
	if len(resolved) == 0 {
		return nil, ErrNoSources
	}
	return resolved, nil
}

func startsWithDigit(name string) bool {
	for _, r := range name {
		return unicode.IsDigit(r)
	}
	return false
}

func mustRelOrClean(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Clean(path)
	}
	rel = filepath.Clean(rel)
	if rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Clean(path)
	}
	return rel
}
