package ir

import (
	"regexp"
	"strings"
)

// refPattern matches internal variable references: ${key}.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.:\-]+)\}`)

// placeholderPattern matches external placeholder tokens: %name% or
// %plugin_name%. Whitespace never appears inside a token.
var placeholderPattern = regexp.MustCompile(`%[^%\s]+%`)

// HasReferences reports whether s contains at least one ${key} reference.
func HasReferences(s string) bool {
	return strings.Contains(s, "${") && refPattern.MatchString(s)
}

// HasPlaceholders reports whether s contains an external placeholder token.
func HasPlaceholders(s string) bool {
	return strings.Count(s, "%") >= 2 && placeholderPattern.MatchString(s)
}

// References returns the distinct keys referenced by s in order of first
// appearance.
func References(s string) []string {
	if !strings.Contains(s, "${") {
		return []string{}
	}
	matches := refPattern.FindAllStringSubmatch(s, -1)
	seen := make(map[string]bool, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// ReplaceReferences substitutes every ${key} in s with the result of fn.
// When fn reports false the reference is left untouched.
func ReplaceReferences(s string, fn func(key string) (string, bool)) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if v, ok := fn(key); ok {
			return v
		}
		return match
	})
}
