package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Candidate is a file in the watch directory whose extension is allowed.
type Candidate struct {
	Path string
	// Extension as it appears in the file name, without the dot.
	Extension string
}

// Scan lists the immediate entries of dir in name order and keeps the
// regular files whose lowercase extension is in allowed. Subdirectories are
// not descended into.
func Scan(dir string, allowed map[string]bool) ([]Candidate, error) {
	return ScanFunc(dir, allowed, nil)
}

// ScanFunc is Scan that also calls ignored for every skipped file.
func ScanFunc(dir string, allowed map[string]bool, ignored func(path string)) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryUnreadable, dir, err)
	}

	var candidates []Candidate
	// AppleDouble sidecars (._name) share the extension of the file they
	// describe and are skipped.
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext, ok := allowedExtension(name, allowed)
		if !ok || strings.HasPrefix(name, "._") {
			if ignored != nil {
				ignored(filepath.Join(dir, name))
			}
			continue
		}
		candidates = append(candidates, Candidate{
			Path:      filepath.Join(dir, name),
			Extension: ext,
		})
	}
	return candidates, nil
}

// IsAllowed reports whether the file name passes the extension filter.
func IsAllowed(path string, allowed map[string]bool) bool {
	_, ok := allowedExtension(filepath.Base(path), allowed)
	return ok
}

func allowedExtension(name string, allowed map[string]bool) (string, bool) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "", false
	}
	return ext, allowed[strings.ToLower(ext)]
}
