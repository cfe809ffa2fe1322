// Package fsnav lists experiment directories and builds the canonical
// <base>/<exp-id>/all/<IV|In-situ>[/<test>] result paths. It never writes.
package fsnav

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"witlab/internal/logging"
)

// DefaultDepth lists the directory plus one level of sub-directory contents.
const DefaultDepth = 1

// NotFoundError is returned when the step-into directory does not exist.
type NotFoundError struct {
	Sub  string
	Base string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Error: '%s' does not exist in '%s'.", e.Sub, e.Base)
}

// NotDirError is returned when the resolved path is not a directory.
type NotDirError struct {
	Path string
}

func (e *NotDirError) Error() string {
	return fmt.Sprintf("Error: '%s' is not a directory.", e.Path)
}

// List returns an indented listing of path (optionally stepping into a
// sub-directory first). Each line is "  "*level followed by the entry's full
// path; entries are sorted by name.
func List(path, stepInto string, depth int) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if stepInto != "" {
		next := filepath.Join(abs, stepInto)
		if _, err := os.Stat(next); err != nil {
			// A regular file as the start path reports ENOTDIR for file/sub.
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
				return "", &NotFoundError{Sub: stepInto, Base: abs}
			}
			return "", err
		}
		abs = next
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", &NotDirError{Path: abs}
	}

	var lines []string
	if err := listDir(abs, depth, 0, &lines); err != nil {
		return "", err
	}
	logging.NavigatorDebug("listed %s depth=%d: %d entries", abs, depth, len(lines))
	return strings.Join(lines, "\n"), nil
}

func listDir(dir string, depth, indent int, out *[]string) error {
	if depth < 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		*out = append(*out, strings.Repeat("  ", indent)+p)
		if depth > 0 && isDir(p, e) {
			if err := listDir(p, depth-1, indent+1, out); err != nil {
				logging.NavigatorDebug("skip %s: %v", p, err)
			}
		}
	}
	return nil
}

// isDir follows symlinks the way a plain stat would.
func isDir(p string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
