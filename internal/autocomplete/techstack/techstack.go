// Package techstack extracts autocomplete keywords from a portfolio's
// free-text tech-stack field. The field is a comma-separated list; each
// element is trimmed of surrounding whitespace, empty elements are dropped,
// and repeated keywords collapse onto their first occurrence. Case is
// preserved, so "Go" and "go" are distinct keywords.
//
// The same function is used when a portfolio is indexed and when it is
// removed, which keeps both sides of the index consistent.
package techstack

import "strings"

// Delimiter separates keywords inside a tech-stack field.
const Delimiter = ","

// Extract returns the keywords in field. A nil field yields nil.
func Extract(field *string) []string {
	if field == nil {
		return nil
	}
	return Split(*field)
}

// Split returns the distinct, trimmed, non-empty keywords of s in the order
// they first appear.
func Split(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, Delimiter)
	keywords := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		kw := strings.TrimSpace(part)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}
	return keywords
}

// Canonical rewrites s into the form Split would reproduce verbatim:
// keywords joined by the bare delimiter.
func Canonical(s string) string {
	return strings.Join(Split(s), Delimiter)
}

// Diff reports which keywords disappear and which appear when a field
// changes from old to new.
func Diff(old, new *string) (removed, added []string) {
	before := Extract(old)
	after := Extract(new)
	inAfter := make(map[string]struct{}, len(after))
	for _, kw := range after {
		inAfter[kw] = struct{}{}
	}
	inBefore := make(map[string]struct{}, len(before))
	for _, kw := range before {
		inBefore[kw] = struct{}{}
		if _, ok := inAfter[kw]; !ok {
			removed = append(removed, kw)
		}
	}
	for _, kw := range after {
		if _, ok := inBefore[kw]; !ok {
			added = append(added, kw)
		}
	}
	return removed, added
}
