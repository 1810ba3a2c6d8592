package sipmess

import (
	"fmt"
	"strings"
)

// SIPFromTo is the value of a From or To header.
type SIPFromTo struct {
	DisplayName string
	Uri         SIPUri
	Params      Params
}

func ParseSipFromTo(input string) (SIPFromTo, error) {
	var fromTo SIPFromTo

	display, uri, params, err := splitNameAddr(input)
	if err != nil {
		return fromTo, fmt.Errorf("invalid from to header: %w", err)
	}
	sipUri, err := ParseSipUri(uri)
	if err != nil {
		return fromTo, fmt.Errorf("invalid from to header: %w", err)
	}
	fromTo.DisplayName = display
	fromTo.Uri = sipUri
	fromTo.Params = parseParams(params)
	return fromTo, nil
}

// Tag returns the tag parameter or "".
func (ft SIPFromTo) Tag() string {
	t, _ := ft.Params.Get("tag")
	return t
}

// WithTag returns a copy carrying the given tag.
func (ft SIPFromTo) WithTag(tag string) SIPFromTo {
	ft.Params = ft.Params.Set("tag", tag)
	return ft
}

func (ft SIPFromTo) String() string {
	var b strings.Builder
	if ft.DisplayName != "" {
		b.WriteString(ft.DisplayName)
		b.WriteByte(' ')
	}
	b.WriteByte('<')
	b.WriteString(ft.Uri.String())
	b.WriteByte('>')
	b.WriteString(ft.Params.String())
	return b.String()
}

// splitNameAddr splits `"Name" <uri>;params` or `uri;params`.
func splitNameAddr(input string) (display, uri, params string, err error) {
	input = strings.TrimSpace(input)
	quoted := false
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '"':
			quoted = !quoted
		case '<':
			if quoted {
				continue
			}
			end := strings.IndexByte(input[i:], '>')
			if end == -1 {
				return "", "", "", fmt.Errorf("unterminated '<' in %q", input)
			}
			display = strings.TrimSpace(input[:i])
			uri = input[i+1 : i+end]
			rest := strings.TrimSpace(input[i+end+1:])
			return display, uri, strings.TrimPrefix(rest, ";"), nil
		}
	}
	uri = input
	if i := strings.IndexByte(input, ';'); i != -1 {
		uri, params = input[:i], input[i+1:]
	}
	return "", strings.TrimSpace(uri), params, nil
}
