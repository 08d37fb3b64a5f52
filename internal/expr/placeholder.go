package expr

import (
	"regexp"
	"strings"
)

// placeholderToken matches %name% tokens.
var placeholderToken = regexp.MustCompile(`%[^%\s]+%`)

// PlaceholderProvider substitutes external placeholder tokens (%name%) in
// text. Implementations must be pure text transforms and must return text
// unchanged when identity is empty.
type PlaceholderProvider interface {
	Substitute(identity, text string) string
}

// PlaceholderFunc adapts a function to PlaceholderProvider.
type PlaceholderFunc func(identity, text string) string

// Substitute calls f.
func (f PlaceholderFunc) Substitute(identity, text string) string {
	return f(identity, text)
}

// NopProvider leaves text untouched. It is the default when no provider is
// configured.
type NopProvider struct{}

// Substitute returns text.
func (NopProvider) Substitute(_, text string) string {
	return text
}

// MapProvider substitutes tokens from fixed tables. Shared holds values for
// every identity; PerIdentity overrides them for one identity.
type MapProvider struct {
	Shared      map[string]string
	PerIdentity map[string]map[string]string
}

// Substitute replaces every %name% token with a known value.
func (m MapProvider) Substitute(identity, text string) string {
	if identity == "" || !strings.Contains(text, "%") {
		return text
	}
	own := m.PerIdentity[identity]
	return placeholderToken.ReplaceAllStringFunc(text, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := own[name]; ok {
			return v
		}
		if v, ok := m.Shared[name]; ok {
			return v
		}
		return tok
	})
}
