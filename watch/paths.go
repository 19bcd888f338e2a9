package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ResolveDirs expands glob patterns, relative to root, to concrete
// directories. Supports both single-level wildcards (*) and recursive
// wildcards (**).
//
// Examples:
//   - "docs/*" → ["<root>/docs/api", "<root>/docs/guides", ...]
//   - "notes" → ["<root>/notes"]
//   - "**" → all subdirectories recursively
//
// Returns only directories, not files.
func ResolveDirs(root string, patterns []string) ([]string, error) {
	var resolved []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		dirs, err := resolvePattern(root, pattern)
		if err != nil {
			return nil, fmt.Errorf("resolve pattern %q: %w", pattern, err)
		}

		for _, d := range dirs {
			if !seen[d] {
				seen[d] = true
				resolved = append(resolved, d)
			}
		}
	}

	return resolved, nil
}

// resolvePattern expands a single glob pattern to directories under root.
func resolvePattern(root, pattern string) ([]string, error) {
	full := filepath.Join(root, filepath.FromSlash(pattern))

	// Join cleans the path; a pattern that climbed out of the root no
	// longer has the root prefix afterwards.
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("pattern escapes watch root")
	}

	if !containsGlob(pattern) {
		info, err := os.Stat(full)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("path is not a directory: %s", full)
		}
		return []string{full}, nil
	}

	matches, err := doublestar.FilepathGlob(full)
	if err != nil {
		return nil, fmt.Errorf("glob error: %w", err)
	}

	// Filter to directories only
	var dirs []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue // Skip paths that can't be stat'd
		}
		if info.IsDir() {
			dirs = append(dirs, match)
		}
	}

	if len(dirs) == 0 {
		return nil, fmt.Errorf("no directories match pattern: %s", pattern)
	}

	return dirs, nil
}

// containsGlob checks if a pattern contains glob characters.
func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
