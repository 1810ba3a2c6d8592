package sipmess

import (
	"errors"
	"strconv"
	"strings"
)

// SIPUri is a sip: or sips: URI. Port is -1 when absent.
type SIPUri struct {
	Scheme  string
	User    string
	Pass    string
	Domain  string
	Port    int
	Params  Params
	Headers string
}

func ParseSipUri(uri string) (SIPUri, error) {
	sipURI := SIPUri{Port: -1}

	colonIndex := strings.IndexByte(uri, ':')
	if colonIndex == -1 {
		return sipURI, errors.New("invalid sip uri: missing scheme")
	}
	sipURI.Scheme = strings.ToLower(uri[:colonIndex])
	rest := uri[colonIndex+1:]

	if i := strings.IndexByte(rest, '?'); i != -1 {
		sipURI.Headers = rest[i+1:]
		rest = rest[:i]
	}

	// user part may legally contain ';' so look for '@' first
	if i := strings.LastIndexByte(rest, '@'); i != -1 {
		userInfo := rest[:i]
		rest = rest[i+1:]
		if user, pass, ok := strings.Cut(userInfo, ":"); ok {
			sipURI.User, sipURI.Pass = user, pass
		} else {
			sipURI.User = userInfo
		}
	}

	if i := strings.IndexByte(rest, ';'); i != -1 {
		sipURI.Params = parseParams(rest[i+1:])
		rest = rest[:i]
	}

	if host, port, ok := strings.Cut(rest, ":"); ok {
		p, err := strconv.Atoi(port)
		if err != nil || p < 0 || p > 65535 {
			return sipURI, errors.New("invalid sip uri: invalid port")
		}
		sipURI.Domain, sipURI.Port = host, p
	} else {
		sipURI.Domain = rest
	}
	if sipURI.Domain == "" {
		return sipURI, errors.New("invalid sip uri: missing host")
	}

	return sipURI, nil
}

// HostPort returns "domain[:port]".
func (uri SIPUri) HostPort() string {
	if uri.Port == -1 {
		return uri.Domain
	}
	return uri.Domain + ":" + strconv.Itoa(uri.Port)
}

func (uri SIPUri) String() string {
	var b strings.Builder
	b.WriteString(uri.Scheme)
	b.WriteByte(':')
	if uri.User != "" {
		b.WriteString(uri.User)
		if uri.Pass != "" {
			b.WriteByte(':')
			b.WriteString(uri.Pass)
		}
		b.WriteByte('@')
	}
	b.WriteString(uri.HostPort())
	b.WriteString(uri.Params.String())
	if uri.Headers != "" {
		b.WriteByte('?')
		b.WriteString(uri.Headers)
	}
	return b.String()
}
