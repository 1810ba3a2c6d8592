package sipmess

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type Startline struct {
	Request  *Request
	Response *Response
}

// Request is the start line of a SIP request.
type Request struct {
	Method     SIPMethod
	RequestURI SIPUri
	// Extension holds the method token when Method is Extension.
	Extension string
}

// MethodName returns the method as it appears on the wire.
func (r *Request) MethodName() string {
	if r.Method == Extension {
		return r.Extension
	}
	return r.Method.String()
}

func (r *Request) String() string {
	return r.MethodName() + " " + r.RequestURI.String() + " SIP/2.0"
}

// Response is the start line of a SIP response.
type Response struct {
	StatusCode   int
	ReasonPhrase string
}

func (r *Response) String() string {
	return "SIP/2.0 " + strconv.Itoa(r.StatusCode) + " " + r.ReasonPhrase
}

// SIPMessage represents a SIP message. Headers holds every header in wire
// order and is what Serialize writes. The typed fields are filled in by
// ParseSipMessage for convenience and are ignored on output.
type SIPMessage struct {
	Startline
	From     SIPFromTo
	To       SIPFromTo
	CallID   string
	CSeq     SIPCseq
	Vias     []SIPVia
	Contacts []SIPContact
	Headers  []Header
	Body     []byte
}

// ParseSipMessage parses a single datagram. Missing From, To, Call-ID, CSeq or
// Via is an error.
func ParseSipMessage(msgRaw []byte) (*SIPMessage, error) {
	var msg SIPMessage

	headersPart, bodyPart, ok := cutHeaders(msgRaw)
	if !ok {
		return nil, fmt.Errorf("missing header-body separator")
	}

	lines := unfold(strings.Split(string(headersPart), "\n"))
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("missing start line")
	}

	startLine := lines[0]
	if strings.HasPrefix(startLine, "SIP/") {
		parts := strings.SplitN(startLine, " ", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("parsing SIP response: invalid start line %q", startLine)
		}
		statusCode, err := strconv.Atoi(parts[1])
		if err != nil || statusCode < 100 || statusCode > 699 {
			return nil, fmt.Errorf("parsing SIP response: invalid status code %q", parts[1])
		}
		resp := &Response{StatusCode: statusCode}
		if len(parts) == 3 {
			resp.ReasonPhrase = parts[2]
		}
		msg.Startline.Response = resp
	} else {
		parts := strings.Fields(startLine)
		if len(parts) != 3 || !strings.HasPrefix(parts[2], "SIP/") {
			return nil, fmt.Errorf("parsing SIP request: invalid start line %q", startLine)
		}
		meth, err := ParseMethod(parts[0])
		if err != nil {
			return nil, fmt.Errorf("parsing SIP request: %w", err)
		}
		requestURI, err := ParseSipUri(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parsing SIP request: invalid request URI %q: %w", parts[1], err)
		}
		msg.Startline.Request = &Request{Method: meth, RequestURI: requestURI}
		if meth == Extension {
			msg.Startline.Request.Extension = parts[0]
		}
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colonIndex := strings.IndexByte(line, ':')
		if colonIndex <= 0 {
			return nil, fmt.Errorf("parsing SIP headers: malformed header line %q", line)
		}
		name := strings.TrimSpace(line[:colonIndex])
		value := strings.TrimSpace(line[colonIndex+1:])
		hdr := ParseHeaderName(name)
		if !listHeaders[hdr] {
			msg.Headers = append(msg.Headers, Header{Type: hdr, Name: name, Value: value})
			continue
		}
		for _, v := range splitList(value) {
			msg.Headers = append(msg.Headers, Header{Type: hdr, Name: name, Value: v})
		}
	}

	if err := msg.parseTyped(); err != nil {
		return nil, err
	}

	if cl, ok := msg.GetFirst(ContentLength); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("parsing Content-Length %q", cl)
		}
		if n > len(bodyPart) {
			return nil, fmt.Errorf("body shorter than Content-Length %d", n)
		}
		bodyPart = bodyPart[:n]
	}
	if len(bodyPart) > 0 {
		msg.Body = append([]byte(nil), bodyPart...)
	}

	return &msg, nil
}

func (msg *SIPMessage) parseTyped() error {
	for _, h := range []SIPHeader{From, To, CallID, CSeq, Via} {
		if _, ok := msg.GetFirst(h); !ok {
			return fmt.Errorf("missing %s header", h)
		}
	}

	var err error
	from, _ := msg.GetFirst(From)
	if msg.From, err = ParseSipFromTo(from); err != nil {
		return fmt.Errorf("parsing From header: %w", err)
	}
	to, _ := msg.GetFirst(To)
	if msg.To, err = ParseSipFromTo(to); err != nil {
		return fmt.Errorf("parsing To header: %w", err)
	}
	msg.CallID, _ = msg.GetFirst(CallID)
	cseq, _ := msg.GetFirst(CSeq)
	if msg.CSeq, err = ParseSipCseq(cseq); err != nil {
		return fmt.Errorf("parsing CSeq header: %w", err)
	}
	for _, raw := range msg.GetHeader(Via) {
		via, err := ParseSipVia(raw)
		if err != nil {
			return fmt.Errorf("parsing Via header: %w", err)
		}
		msg.Vias = append(msg.Vias, via)
	}
	for _, raw := range msg.GetHeader(Contact) {
		contact, err := ParseSipContact(raw)
		if err != nil {
			return fmt.Errorf("parsing Contact header: %w", err)
		}
		msg.Contacts = append(msg.Contacts, contact)
	}
	return nil
}

func cutHeaders(raw []byte) (headers, body []byte, ok bool) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i != -1 {
		return raw[:i], raw[i+4:], true
	}
	if i := bytes.Index(raw, []byte("\n\n")); i != -1 {
		return raw[:i], raw[i+2:], true
	}
	return nil, nil, false
}

// unfold trims CRs and joins continuation lines onto the previous header.
func unfold(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimRight(l, "\r")
		if len(out) > 1 && l != "" && (l[0] == ' ' || l[0] == '\t') {
			out[len(out)-1] += " " + strings.TrimSpace(l)
			continue
		}
		out = append(out, l)
	}
	return out
}

// Serialize writes the start line, Headers in order and a Content-Length
// computed from Body.
func (msg *SIPMessage) Serialize() []byte {
	var b bytes.Buffer
	if msg.Request != nil {
		b.WriteString(msg.Request.String())
	} else {
		b.WriteString(msg.Response.String())
	}
	b.WriteString("\r\n")
	for _, h := range msg.Headers {
		if h.Type == ContentLength {
			continue
		}
		b.WriteString(h.HeaderName())
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(msg.Body)))
	b.WriteString("\r\n\r\n")
	b.Write(msg.Body)
	return b.Bytes()
}

// GetHeader returns the values of a specific header in wire order.
func (msg *SIPMessage) GetHeader(header SIPHeader) []string {
	var values []string
	for _, h := range msg.Headers {
		if h.Type == header {
			values = append(values, h.Value)
		}
	}
	return values
}

// GetFirst returns the first value of a header.
func (msg *SIPMessage) GetFirst(header SIPHeader) (string, bool) {
	for _, h := range msg.Headers {
		if h.Type == header {
			return h.Value, true
		}
	}
	return "", false
}

func (msg *SIPMessage) AddHeader(header SIPHeader, value string) {
	msg.Headers = append(msg.Headers, Header{Type: header, Value: value})
}

// AddOtherHeader appends a header the parser has no constant for.
func (msg *SIPMessage) AddOtherHeader(name, value string) {
	msg.Headers = append(msg.Headers, Header{Type: Other, Name: name, Value: value})
}

// SetHeader replaces every value of header with value, keeping the position
// of the first occurrence.
func (msg *SIPMessage) SetHeader(header SIPHeader, value string) {
	out := msg.Headers[:0:0]
	set := false
	for _, h := range msg.Headers {
		if h.Type != header {
			out = append(out, h)
			continue
		}
		if !set {
			h.Value = value
			out = append(out, h)
			set = true
		}
	}
	if !set {
		out = append(out, Header{Type: header, Value: value})
	}
	msg.Headers = out
}

// TopmostVia returns the first Via of a parsed message.
func (msg *SIPMessage) TopmostVia() (SIPVia, bool) {
	if len(msg.Vias) == 0 {
		return SIPVia{}, false
	}
	return msg.Vias[0], true
}

// Branch returns the branch of the topmost Via of a parsed message.
func (msg *SIPMessage) Branch() string {
	via, ok := msg.TopmostVia()
	if !ok {
		return ""
	}
	return via.Branch()
}

// StatusLine returns "SIP/2.0 <code> <reason>" for responses and the request
// line for requests.
func (msg *SIPMessage) StatusLine() string {
	if msg.Response != nil {
		return msg.Response.String()
	}
	if msg.Request != nil {
		return msg.Request.String()
	}
	return ""
}

// StatusCode returns the status code of a response or 0 for requests.
func (msg *SIPMessage) StatusCode() int {
	if msg.Response == nil {
		return 0
	}
	return msg.Response.StatusCode
}

// NewRequest returns a request with no headers.
func NewRequest(method SIPMethod, uri SIPUri) *SIPMessage {
	return &SIPMessage{Startline: Startline{Request: &Request{Method: method, RequestURI: uri}}}
}

// MakeResponse builds a response to req that echoes every Via in order, any
// Record-Route, From, To, Call-ID and CSeq as received.
func MakeResponse(req *SIPMessage, statusCode int, reason string) *SIPMessage {
	res := &SIPMessage{
		Startline: Startline{Response: &Response{StatusCode: statusCode, ReasonPhrase: reason}},
	}
	for _, h := range req.Headers {
		switch h.Type {
		case Via, RecordRoute, From, To, CallID, CSeq:
			res.Headers = append(res.Headers, Header{Type: h.Type, Value: h.Value})
		}
	}
	return res
}
