// File: internal/attach/normalize.go
package attach

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	// duplicateSuffix matches the " (n)" a browser or OS appends to a
	// duplicate download/upload, just before the extension.
	duplicateSuffix = regexp.MustCompile(`\s*\(\d+\)(\.[^.\s]+)?$`)
)

// NormalizeFilename reduces a displayed filename to a comparison key:
// case-folded, wrapping quotes stripped, whitespace collapsed, and any
// "(n)" duplicate-count suffix removed. The page and the filesystem rarely
// agree on the exact rendering of a name; this is the equivalence the
// verification step compares under.
func NormalizeFilename(name string) string {
	s := strings.TrimSpace(name)
	s = strings.Trim(s, `"'`+"“”‘’")
	s = strings.TrimSpace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = duplicateSuffix.ReplaceAllString(s, "$1")
	return strings.ToLower(s)
}

// normalizeSet maps each name through NormalizeFilename, dropping empties
// and duplicates.
func normalizeSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		key := NormalizeFilename(n)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}
