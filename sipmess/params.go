package sipmess

import (
	"strings"
)

// Params holds ";name=value" parameters in their original order.
type Params []Param

type Param struct {
	Name  string
	Value string
}

// parseParams parses "a=1;b;c=x" into Params. Quoted values keep their quotes.
func parseParams(raw string) Params {
	var ps Params
	for _, part := range splitUnquoted(raw, ';') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		ps = append(ps, Param{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return ps
}

// Get returns the value of the named parameter, matching case-insensitively.
func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

// Set replaces the named parameter or appends it.
func (ps Params) Set(name, value string) Params {
	for i, p := range ps {
		if strings.EqualFold(p.Name, name) {
			out := append(Params(nil), ps...)
			out[i].Value = value
			return out
		}
	}
	return append(append(Params(nil), ps...), Param{Name: name, Value: value})
}

func (ps Params) String() string {
	var b strings.Builder
	for _, p := range ps {
		b.WriteByte(';')
		b.WriteString(p.Name)
		if p.Value != "" {
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

func splitUnquoted(s string, sep byte) []string {
	var (
		out    []string
		start  int
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
