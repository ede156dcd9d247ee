package ruleset

import "strings"

// MatchPath implements the minimalist glob matcher of spec.md §4.6:
//
//   - "*" or "**"        matches any path
//   - a pattern ending    matches any path beginning with the prefix
//     in "/*" or "/**"     (case-insensitive); both suffixes mean the
//                          same thing in this design
//   - anything else      case-insensitive exact equality
//
// Any "?query=..." suffix on path is stripped before matching. An empty
// pattern never matches.
//
// This is hand-rolled on strings rather than wrapping a glob
// library — see DESIGN.md for why gobwas/glob (used elsewhere in the
// retrieval pack for a similar concern) doesn't fit this four-case,
// case-insensitive, non-segment-aware semantics without more wrapper
// code than it would save.
func MatchPath(pattern, path string) bool {
	if pattern == "" {
		return false
	}

	path = stripQuery(path)

	if pattern == "*" || pattern == "**" {
		return true
	}

	if prefix, ok := prefixPattern(pattern); ok {
		return len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix)
	}

	return strings.EqualFold(pattern, path)
}

// MatchMethod reports whether a rule's method filter accepts method.
// An empty filter matches any method (spec.md §4.4.1/§4.4.2).
func MatchMethod(filter, method string) bool {
	return filter == "" || strings.EqualFold(filter, method)
}

func prefixPattern(pattern string) (prefix string, ok bool) {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		return pattern[:len(pattern)-len("/**")], true
	case strings.HasSuffix(pattern, "/*"):
		return pattern[:len(pattern)-len("/*")], true
	default:
		return "", false
	}
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
