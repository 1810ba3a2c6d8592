package sipmess

import (
	"fmt"
	"strings"
)

// SIPMethod represents a SIP request method.
type SIPMethod int

const (
	Invite SIPMethod = iota
	Ack
	Bye
	Cancel
	Options
	Register
	Prack
	Subscribe
	Notify
	Publish
	Info
	Refer
	Message
	Update
	// Extension is any other well-formed method token. The token itself is
	// kept by Request and SIPCseq.
	Extension
)

var sipMethodNames = map[SIPMethod]string{
	Invite:    "INVITE",
	Ack:       "ACK",
	Bye:       "BYE",
	Cancel:    "CANCEL",
	Options:   "OPTIONS",
	Register:  "REGISTER",
	Prack:     "PRACK",
	Subscribe: "SUBSCRIBE",
	Notify:    "NOTIFY",
	Publish:   "PUBLISH",
	Info:      "INFO",
	Refer:     "REFER",
	Message:   "MESSAGE",
	Update:    "UPDATE",
}

var nameSipMethods = func() map[string]SIPMethod {
	m := make(map[string]SIPMethod, len(sipMethodNames))
	for k, v := range sipMethodNames {
		m[v] = k
	}
	return m
}()

func (m SIPMethod) String() string {
	if name, ok := sipMethodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("SIPMethod(%d)", int(m))
}

// ParseMethod parses a SIP method name. Method names are case-sensitive on
// the wire but lenient parsing costs nothing here.
func ParseMethod(method string) (SIPMethod, error) {
	if m, ok := nameSipMethods[strings.ToUpper(method)]; ok {
		return m, nil
	}
	if isToken(method) {
		return Extension, nil
	}
	return -1, fmt.Errorf("invalid SIP method %q", method)
}

// isToken reports whether s is an RFC 3261 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("-.!%*_+`'~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
