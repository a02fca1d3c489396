package schema

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxIdentLen keeps generated identifiers comfortably below the usual
// 128-character database limit, leaving room for deduplication suffixes.
const maxIdentLen = 120

const utf8BOM = "\uFEFF"

var invalidIdentChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// foldDiacritics strips combining marks so accented headers become readable
// ASCII identifiers instead of underscore runs ("Název" -> "Nazev").
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeHeaders converts raw CSV column names into valid SQL identifiers.
// Blank headers map to the empty string; callers treat those as invalid
// columns and filter them out.
func SanitizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		out[i] = sanitizeHeader(h)
	}
	return out
}

func sanitizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))
	if h == "" {
		return ""
	}
	if folded, _, err := transform.String(foldDiacritics, h); err == nil {
		h = folded
	}
	h = invalidIdentChars.ReplaceAllString(h, "_")
	if !validLeadingChar(h[0]) {
		h = "col_" + h
	}
	if len(h) > maxIdentLen {
		h = h[:maxIdentLen]
	}
	return h
}

// validLeadingChar reports whether b may start a SQL identifier. After
// sanitization the string is pure ASCII, so a byte check suffices.
func validLeadingChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// DeduplicateHeaders resolves duplicate sanitized names. The first occurrence
// keeps its name; later duplicates get a numeric suffix (_1, _2, ...) chosen
// to avoid both earlier names and names produced by earlier suffixing.
// Matching is case-insensitive since SQL Server identifiers are. Empty
// entries pass through untouched.
func DeduplicateHeaders(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			out[i] = ""
			continue
		}
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			out[i] = name
			continue
		}
		for n := 1; ; n++ {
			cand := suffixed(name, n)
			ck := strings.ToLower(cand)
			if !seen[ck] {
				seen[ck] = true
				out[i] = cand
				break
			}
		}
	}
	return out
}

// suffixed appends _n to base, trimming the base if needed so the result
// still fits within maxIdentLen.
func suffixed(base string, n int) string {
	suffix := fmt.Sprintf("_%d", n)
	if len(base)+len(suffix) > maxIdentLen {
		base = base[:maxIdentLen-len(suffix)]
	}
	return base + suffix
}

// ValidHeaderCount returns how many names are non-empty after sanitization.
func ValidHeaderCount(names []string) int {
	n := 0
	for _, name := range names {
		if name != "" {
			n++
		}
	}
	return n
}
