package aggregator

import (
	"strings"
	"unicode"
)

// Separator joins the namespacing prefix and the original tool name in
// gateway-visible tool names.
const Separator = "__"

// sanitizePrefix normalizes an upstream alias or name into a namespacing
// prefix: whitespace becomes underscores, anything outside [A-Za-z0-9_] is
// dropped, and the result is lowercased.
func sanitizePrefix(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// gatewayName derives the namespaced tool name for an upstream prefix and
// original tool name.
func gatewayName(prefix, originalName string) string {
	return sanitizePrefix(prefix) + Separator + originalName
}
