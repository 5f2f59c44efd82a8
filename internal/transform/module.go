// Package transform buffers each module the bundler loads and runs it
// through the rewrite rules and the minifier.
package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Module is one source file entering the pipeline.
type Module struct {
	// ID is the path relative to the build root, with forward slashes.
	ID string
	// Path is the OS path.
	Path string
	// Size is the size reported by the filesystem before reading.
	Size int64
}

// NewModule stats path and derives its identity relative to root.
func NewModule(root, path string) (*Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &Module{
		ID:   Identity(root, path),
		Path: path,
		Size: info.Size(),
	}, nil
}

// Identity normalises path to a forward-slash path relative to root.
// Paths outside root keep their absolute form.
func Identity(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
