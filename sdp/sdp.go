// Package sdp reads the audio endpoint out of a session description and
// writes the fixed offer/answer used by the user agent.
package sdp

import (
	"net"
	"strconv"
	"strings"
	"time"

	gosdp "github.com/pixelbender/go-sdp/sdp"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Payload types carried in generated descriptions.
const (
	PayloadPCMU           = 0
	PayloadPCMA           = 8
	PayloadTelephoneEvent = 101
)

// ParseError reports a description that cannot be used to route media.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "sdp: " + e.Reason + ": " + e.Err.Error()
	}
	return "sdp: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Description is the part of a remote session the media engine needs.
type Description struct {
	Address  string
	Port     int
	Payloads []int
}

// Endpoint returns "address:port".
func (d *Description) Endpoint() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// Parse extracts the IPv4 connection address and the port of the first audio
// stream. Both must be present.
func Parse(body []byte) (*Description, error) {
	text := strings.ReplaceAll(string(body), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Reason: "empty body"}
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	sess, err := gosdp.ParseString(text)
	if err != nil {
		return nil, &ParseError{Reason: "malformed description", Err: err}
	}

	audio, ok := lo.Find(sess.Media, func(m *gosdp.Media) bool { return m.Type == "audio" })
	if !ok || audio.Port <= 0 {
		return nil, &ParseError{Reason: "no audio media port"}
	}

	conn := sess.Connection
	if len(audio.Connection) > 0 {
		conn = audio.Connection[0]
	}
	if conn == nil || conn.Network != "IN" || conn.Type != "IP4" || conn.Address == "" {
		return nil, &ParseError{Reason: "no IN IP4 connection address"}
	}

	return &Description{
		Address:  conn.Address,
		Port:     audio.Port,
		Payloads: lo.Map(audio.Format, func(f *gosdp.Format, _ int) int { return int(f.Payload) }),
	}, nil
}

// Options controls Generate.
type Options struct {
	Username  string
	Address   string
	Port      int
	SessionID int64
	// Offer adds telephone-event to the codec list.
	Offer bool
}

// Generate writes the fixed audio description: PCMU and PCMA, plus
// telephone-event 0-15 for offers, sendrecv.
func Generate(o Options) []byte {
	if o.Username == "" {
		o.Username = "-"
	}
	if o.SessionID == 0 {
		o.SessionID = time.Now().Unix()
	}
	sid := strconv.FormatInt(o.SessionID, 10)

	var b strings.Builder
	line := func(s ...string) {
		for _, p := range s {
			b.WriteString(p)
		}
		b.WriteString("\r\n")
	}

	line("v=0")
	line("o=", o.Username, " ", sid, " ", sid, " IN IP4 ", o.Address)
	line("s=-")
	line("c=IN IP4 ", o.Address)
	line("t=0 0")
	if o.Offer {
		line("m=audio ", strconv.Itoa(o.Port), " RTP/AVP 0 8 101")
	} else {
		line("m=audio ", strconv.Itoa(o.Port), " RTP/AVP 0 8")
	}
	line("a=rtpmap:0 PCMU/8000")
	line("a=rtpmap:8 PCMA/8000")
	if o.Offer {
		line("a=rtpmap:101 telephone-event/8000")
		line("a=fmtp:101 0-15")
	}
	line("a=sendrecv")
	return []byte(b.String())
}

// IsParseError reports whether err is a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
