package probe

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}/]+)\}`)

// Placeholders fills {name} path segments with sentinel test values.
type Placeholders struct {
	Values  map[string]string
	Default string
}

// Substitute replaces every {name} in path. Names missing from Values get Default.
func (p Placeholders) Substitute(path string) string {
	return placeholderPattern.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := p.Values[name]; ok {
			return v
		}
		return p.Default
	})
}

// ResolveURL joins path onto base. Absolute paths are returned unchanged.
func ResolveURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
