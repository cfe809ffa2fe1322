// Package instrument validates lab instrument file names and pulls
// performance metrics out of IV test output.
//
// IV files are named IV_<test>_<YYYYMMDD>_<n>_<n>_CH<channel>.<txt|csv|jpg>;
// in-situ absorption files are GP_Abs_<YYYYMMDD>_<n>_<n>.csv. Only the base
// name is checked, directories are ignored.
package instrument

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ivPattern     = regexp.MustCompile(`^IV_\d+_\d{8}_\d+_\d+_CH\d+\.(txt|csv|jpg)$`)
	inSituPattern = regexp.MustCompile(`^GP_Abs_\d{8}_\d+_\d+\.csv$`)
)

// IsIVName reports whether the base name of path follows the IV grammar.
func IsIVName(path string) bool {
	return ivPattern.MatchString(filepath.Base(path))
}

// IsInSituName reports whether the base name of path follows the in-situ grammar.
func IsInSituName(path string) bool {
	return inSituPattern.MatchString(filepath.Base(path))
}

// isText reports whether an IV file carries readable text output.
func isText(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".txt"
}

// Partition splits paths into grammar matches and misses, keeping input order.
func Partition(paths []string, match func(string) bool) (valid, invalid []string) {
	for _, p := range paths {
		if match(p) {
			valid = append(valid, p)
		} else {
			invalid = append(invalid, p)
		}
	}
	return valid, invalid
}
