package sipmess

import (
	"strings"
)

// SIPHeader identifies a well known SIP header. Headers the parser does not
// know about are kept as Other with their original name.
type SIPHeader int

const (
	Other SIPHeader = iota
	From
	To
	CSeq
	CallID
	MaxForwards
	Via
	RecordRoute
	Route
	Contact
	Expires
	ContentLength
	ContentType
	Authorization
	ProxyAuthorization
	WWWAuthenticate
	ProxyAuthenticate
	Allow
	Supported
	UserAgent
	Server
	Event
	Subject
)

var sipHeaderNames = map[SIPHeader]string{
	From:               "From",
	To:                 "To",
	CSeq:               "CSeq",
	CallID:             "Call-ID",
	MaxForwards:        "Max-Forwards",
	Via:                "Via",
	RecordRoute:        "Record-Route",
	Route:              "Route",
	Contact:            "Contact",
	Expires:            "Expires",
	ContentLength:      "Content-Length",
	ContentType:        "Content-Type",
	Authorization:      "Authorization",
	ProxyAuthorization: "Proxy-Authorization",
	WWWAuthenticate:    "WWW-Authenticate",
	ProxyAuthenticate:  "Proxy-Authenticate",
	Allow:              "Allow",
	Supported:          "Supported",
	UserAgent:          "User-Agent",
	Server:             "Server",
	Event:              "Event",
	Subject:            "Subject",
}

var nameSipHeaders = map[string]SIPHeader{
	"from":                From,
	"f":                   From,
	"to":                  To,
	"t":                   To,
	"cseq":                CSeq,
	"call-id":             CallID,
	"i":                   CallID,
	"max-forwards":        MaxForwards,
	"via":                 Via,
	"v":                   Via,
	"record-route":        RecordRoute,
	"route":               Route,
	"contact":             Contact,
	"m":                   Contact,
	"expires":             Expires,
	"content-length":      ContentLength,
	"l":                   ContentLength,
	"content-type":        ContentType,
	"c":                   ContentType,
	"authorization":       Authorization,
	"proxy-authorization": ProxyAuthorization,
	"www-authenticate":    WWWAuthenticate,
	"proxy-authenticate":  ProxyAuthenticate,
	"allow":               Allow,
	"supported":           Supported,
	"k":                   Supported,
	"user-agent":          UserAgent,
	"server":              Server,
	"event":               Event,
	"o":                   Event,
	"subject":             Subject,
	"s":                   Subject,
}

// Headers whose comma separated values are separate entries.
var listHeaders = map[SIPHeader]bool{
	Via:         true,
	Contact:     true,
	Route:       true,
	RecordRoute: true,
	Allow:       true,
	Supported:   true,
}

// String returns the canonical name of the header.
func (h SIPHeader) String() string {
	if name, ok := sipHeaderNames[h]; ok {
		return name
	}
	return "Other"
}

// ParseHeaderName maps a header name, long or compact form, to its SIPHeader.
func ParseHeaderName(name string) SIPHeader {
	if h, ok := nameSipHeaders[strings.ToLower(name)]; ok {
		return h
	}
	return Other
}

// Header is a single header line. Name is only meaningful for Other.
type Header struct {
	Type  SIPHeader
	Name  string
	Value string
}

// HeaderName returns the name used when the header is written out.
func (h Header) HeaderName() string {
	if h.Type == Other {
		return h.Name
	}
	return h.Type.String()
}

// splitList splits a header value on commas that are outside quotes and
// angle brackets.
func splitList(value string) []string {
	var (
		out     []string
		start   int
		quoted  bool
		bracket bool
	)
	for i := 0; i < len(value); i++ {
		switch c := value[i]; {
		case c == '\\' && quoted:
			i++
		case c == '"':
			quoted = !quoted
		case c == '<' && !quoted:
			bracket = true
		case c == '>' && !quoted:
			bracket = false
		case c == ',' && !quoted && !bracket:
			if v := strings.TrimSpace(value[start:i]); v != "" {
				out = append(out, v)
			}
			start = i + 1
		}
	}
	if v := strings.TrimSpace(value[start:]); v != "" {
		out = append(out, v)
	}
	return out
}
