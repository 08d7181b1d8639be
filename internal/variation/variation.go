// Package variation expands templates containing inline alternation groups
// of the form {option1|option2|...} into a single concrete message, picking
// one option per group uniformly at random.
package variation

import (
	"math/rand"
	"regexp"
	"strings"
)

// groupPattern matches the narrowest {...} segment, left to right. Nested
// braces get no special treatment: an inner "{" is an ordinary character of
// the enclosing group's options. Go regexps hold no mutable scan state, so
// sharing the compiled pattern across calls is safe.
var groupPattern = regexp.MustCompile(`\{(.*?)\}`)

// Render resolves every variation group in tmpl independently. An empty
// template renders to the empty string; an empty group ({}) resolves to an
// empty substitution. Each call draws fresh randomness and shares nothing
// with previous calls.
func Render(tmpl string) string {
	return renderWith(tmpl, func(n int) int { return rand.Intn(n) })
}

// renderWith is the deterministic seam used by tests: pick(n) chooses the
// option index for a group with n options.
func renderWith(tmpl string, pick func(n int) int) string {
	if tmpl == "" {
		return ""
	}
	return groupPattern.ReplaceAllStringFunc(tmpl, func(group string) string {
		inner := group[1 : len(group)-1]
		if inner == "" {
			return ""
		}
		options := strings.Split(inner, "|")
		return options[pick(len(options))]
	})
}

// Count returns the number of variation groups in tmpl. Dispatch uses it
// only for logging.
func Count(tmpl string) int {
	return len(groupPattern.FindAllStringIndex(tmpl, -1))
}

// Balanced reports whether every "{" in tmpl has a matching "}" before the
// next group opens. Unbalanced templates still render, braces just pass
// through literally, so this is a lint for the API layer, not a renderer
// precondition.
func Balanced(tmpl string) bool {
	open := false
	for _, r := range tmpl {
		switch r {
		case '{':
			if open {
				return false
			}
			open = true
		case '}':
			if !open {
				return false
			}
			open = false
		}
	}
	return !open
}
