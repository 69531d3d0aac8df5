package prompts

import (
	"regexp"
	"strings"
)

// Placeholder represents a single {{VAR:...}} occurrence with parsed options.
type Placeholder struct {
	Raw     string
	Name    string
	Options map[string]string // e.g. default
}

var (
	// Matches {{VAR:name|key=value|key2="quoted value"}}
	varPattern = regexp.MustCompile(`\{\{VAR:([a-zA-Z0-9_\-]+)((?:\|[^}]+)?)}}`)
	optPattern = regexp.MustCompile(`\|([^=|]+)=([^|]+)`)
)

// ParsePlaceholders returns all placeholder occurrences in order of appearance.
func ParsePlaceholders(body string) []Placeholder {
	matches := varPattern.FindAllStringSubmatch(body, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		opts := map[string]string{}
		for _, seg := range optPattern.FindAllStringSubmatch(m[2], -1) {
			key := strings.ToLower(strings.TrimSpace(seg[1]))
			opts[key] = decodeEscapes(unquote(strings.TrimSpace(seg[2])))
		}
		out = append(out, Placeholder{Raw: m[0], Name: m[1], Options: opts})
	}
	return out
}

// Substitute replaces every placeholder with vars[name], falling back to its
// default option and then to the empty string.
func Substitute(body string, vars map[string]string) string {
	for _, ph := range ParsePlaceholders(body) {
		val, ok := vars[ph.Name]
		if !ok || val == "" {
			val = ph.Options["default"]
		}
		body = strings.Replace(body, ph.Raw, val, 1)
	}
	return body
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}

// decodeEscapes handles \n, \t, \r and \\; anything else is kept as written
func decodeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	esc := false
	for _, r := range s {
		if !esc {
			if r == '\\' {
				esc = true
				continue
			}
			b.WriteRune(r)
			continue
		}
		switch r {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
		esc = false
	}
	if esc {
		b.WriteByte('\\')
	}
	return b.String()
}
