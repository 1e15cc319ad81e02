package apexrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// findFilesBySuffix lists the regular files directly in dir whose names end in
// one of suffixes, sorted by name.
func findFilesBySuffix(dir string, suffixes []string) ([]string, error) {
	trimmed := make([]string, len(suffixes))
	for i, s := range suffixes {
		trimmed[i] = strings.TrimPrefix(s, ".")
	}
	pattern := "*." + trimmed[0]
	if len(trimmed) > 1 {
		pattern = "*.{" + strings.Join(trimmed, ",") + "}"
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	files := make([]string, 0, len(matches))
	for _, match := range matches {
		path := filepath.Join(dir, match)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}
