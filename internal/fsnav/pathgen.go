package fsnav

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// PathType is a result folder kind under <exp-id>/all.
type PathType string

const (
	PathIV     PathType = "IV"
	PathInSitu PathType = "In-situ"
)

// ParsePathType accepts IV or In-situ; empty means IV.
func ParsePathType(s string) (PathType, error) {
	switch PathType(s) {
	case "", PathIV:
		return PathIV, nil
	case PathInSitu:
		return PathInSitu, nil
	}
	return "", fmt.Errorf("invalid path_type %q (valid: %s, %s)", s, PathIV, PathInSitu)
}

// ResultPath builds <base>/<expID>/all/<type>[/<test>]. test is omitted when nil.
func ResultPath(base, expID string, test *int, typ PathType) (string, error) {
	expID = strings.TrimSpace(expID)
	if expID == "" {
		return "", fmt.Errorf("exp_id is required")
	}
	if strings.ContainsAny(expID, `/\`) || expID == "." || expID == ".." {
		return "", fmt.Errorf("exp_id %q must be a single path element", expID)
	}
	if typ == "" {
		typ = PathIV
	}

	parts := []string{base, expID, "all", string(typ)}
	if test != nil {
		parts = append(parts, strconv.Itoa(*test))
	}
	return filepath.Clean(filepath.Join(parts...)), nil
}
