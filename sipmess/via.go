package sipmess

import (
	"errors"
	"strconv"
	"strings"
)

// SIPVia is a single Via entry. Port is -1 when absent.
type SIPVia struct {
	Proto  string
	Domain string
	Port   int
	Params Params
}

func ParseSipVia(via string) (SIPVia, error) {
	sipVia := SIPVia{Port: -1}

	via = strings.TrimSpace(via)
	spaceIndex := strings.IndexAny(via, " \t")
	if spaceIndex == -1 {
		return sipVia, errors.New("invalid via header: missing protocol or domain")
	}
	sipVia.Proto = strings.ReplaceAll(via[:spaceIndex], " ", "")
	rest := strings.TrimSpace(via[spaceIndex+1:])

	sentBy := rest
	if i := strings.IndexByte(rest, ';'); i != -1 {
		sentBy = rest[:i]
		sipVia.Params = parseParams(rest[i+1:])
	}
	sentBy = strings.TrimSpace(sentBy)

	if host, port, ok := strings.Cut(sentBy, ":"); ok {
		p, err := strconv.Atoi(port)
		if err != nil {
			return sipVia, errors.New("invalid via header: invalid port")
		}
		sipVia.Domain, sipVia.Port = host, p
	} else {
		sipVia.Domain = sentBy
	}
	if sipVia.Domain == "" {
		return sipVia, errors.New("invalid via header: missing domain")
	}

	return sipVia, nil
}

// Branch returns the branch parameter or "".
func (via SIPVia) Branch() string {
	b, _ := via.Params.Get("branch")
	return b
}

func (via SIPVia) String() string {
	var b strings.Builder
	b.WriteString(via.Proto)
	b.WriteByte(' ')
	b.WriteString(via.Domain)
	if via.Port != -1 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(via.Port))
	}
	b.WriteString(via.Params.String())
	return b.String()
}
