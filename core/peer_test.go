package core

import (
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"sipua/config"
	"sipua/sdp"
	"sipua/sipmess"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// peer is a scripted registrar and remote party on a loopback socket.
type peer struct {
	t        *testing.T
	conn     *net.UDPConn
	branches atomic.Int64
}

func newPeer(t *testing.T) *peer {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) port() int { return p.conn.LocalAddr().(*net.UDPAddr).Port }

// next reads until a message satisfying match arrives.
func (p *peer) next(timeout time.Duration, match func(*sipmess.SIPMessage) bool) (*sipmess.SIPMessage, *net.UDPAddr) {
	p.t.Helper()
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 65535)
	for {
		require.NoError(p.t, p.conn.SetReadDeadline(deadline))
		n, src, err := p.conn.ReadFromUDP(buf)
		require.NoError(p.t, err, "waiting for SIP message")
		msg, err := sipmess.ParseSipMessage(buf[:n])
		require.NoError(p.t, err)
		if match(msg) {
			return msg, src
		}
	}
}

// none fails if a message satisfying match arrives within d.
func (p *peer) none(d time.Duration, match func(*sipmess.SIPMessage) bool) {
	p.t.Helper()
	deadline := time.Now().Add(d)
	buf := make([]byte, 65535)
	for {
		require.NoError(p.t, p.conn.SetReadDeadline(deadline))
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := sipmess.ParseSipMessage(buf[:n])
		require.NoError(p.t, err)
		require.False(p.t, match(msg), "unexpected %s", string(buf[:n]))
	}
}

// drain discards everything that arrives within d.
func (p *peer) drain(d time.Duration) {
	deadline := time.Now().Add(d)
	buf := make([]byte, 65535)
	for {
		require.NoError(p.t, p.conn.SetReadDeadline(deadline))
		if _, _, err := p.conn.ReadFromUDP(buf); err != nil {
			return
		}
	}
}

func (p *peer) request(method sipmess.SIPMethod) (*sipmess.SIPMessage, *net.UDPAddr) {
	p.t.Helper()
	return p.next(2*time.Second, isRequest(method))
}

func (p *peer) response(callID string, code int) *sipmess.SIPMessage {
	p.t.Helper()
	msg, _ := p.next(2*time.Second, func(m *sipmess.SIPMessage) bool {
		return m.Response != nil && m.CallID == callID && m.StatusCode() == code
	})
	return msg
}

func (p *peer) responseTo(callID string, method sipmess.SIPMethod, code int) *sipmess.SIPMessage {
	p.t.Helper()
	msg, _ := p.next(2*time.Second, func(m *sipmess.SIPMessage) bool {
		return m.Response != nil && m.CallID == callID && m.CSeq.Method == method && m.StatusCode() == code
	})
	return msg
}

func isRequest(method sipmess.SIPMethod) func(*sipmess.SIPMessage) bool {
	return func(m *sipmess.SIPMessage) bool {
		return m.Request != nil && m.Request.Method == method
	}
}

func (p *peer) send(msg *sipmess.SIPMessage, to *net.UDPAddr) {
	p.t.Helper()
	_, err := p.conn.WriteToUDP(msg.Serialize(), to)
	require.NoError(p.t, err)
}

// reply answers req with a To-tag added; edit may add headers or a body.
func (p *peer) reply(req *sipmess.SIPMessage, to *net.UDPAddr, code int, reason string, edit func(*sipmess.SIPMessage)) {
	p.t.Helper()
	res := sipmess.MakeResponse(req, code, reason)
	if req.To.Tag() == "" {
		res.SetHeader(sipmess.To, req.To.WithTag("peer-tag").String())
	}
	if edit != nil {
		edit(res)
	}
	p.send(res, to)
}

// dialogRequest builds a request from the peer into an existing dialog or a
// new one.
func (p *peer) dialogRequest(method sipmess.SIPMethod, callID string, from, to sipmess.SIPFromTo, cseq int) *sipmess.SIPMessage {
	uri := sipmess.SIPUri{Scheme: "sip", User: "alice", Domain: "127.0.0.1", Port: -1}
	msg := sipmess.NewRequest(method, uri)
	branch := "z9hG4bKpeer" + strconv.FormatInt(p.branches.Inc(), 10)
	msg.AddHeader(sipmess.Via, fmt.Sprintf("SIP/2.0/UDP 127.0.0.1:%d;branch=%s", p.port(), branch))
	msg.AddHeader(sipmess.From, from.String())
	msg.AddHeader(sipmess.To, to.String())
	msg.AddHeader(sipmess.CallID, callID)
	msg.AddHeader(sipmess.CSeq, sipmess.SIPCseq{Method: method, Seq: cseq}.String())
	msg.AddHeader(sipmess.MaxForwards, "70")
	return p.reparse(msg)
}

// reparse round-trips msg through the codec so its typed fields match the
// headers it will carry on the wire.
func (p *peer) reparse(msg *sipmess.SIPMessage) *sipmess.SIPMessage {
	p.t.Helper()
	parsed, err := sipmess.ParseSipMessage(msg.Serialize())
	require.NoError(p.t, err)
	return parsed
}

func withSDP(port int) func(*sipmess.SIPMessage) {
	return func(m *sipmess.SIPMessage) {
		m.AddHeader(sipmess.ContentType, "application/sdp")
		m.Body = sdp.Generate(sdp.Options{Username: "bob", Address: "127.0.0.1", Port: port, SessionID: 1})
	}
}

// rtpSink receives media on loopback.
type rtpSink struct {
	conn *net.UDPConn
}

func newRTPSink(t *testing.T) *rtpSink {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rtpSink{conn: conn}
}

func (s *rtpSink) port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

// packet waits for one datagram and returns it.
func (s *rtpSink) packet(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 1500)
	require.NoError(t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := s.conn.ReadFromUDP(buf)
	require.NoError(t, err, "waiting for RTP")
	return buf[:n]
}

func testConfig(p *peer) config.SIP {
	return config.SIP{
		Server:         "127.0.0.1",
		Port:           p.port(),
		Username:       "alice",
		Password:       "secret",
		Domain:         "example.com",
		LocalIP:        "127.0.0.1",
		T1:             50 * time.Millisecond,
		T2:             400 * time.Millisecond,
		ReceiveTimeout: time.Second,
	}
}

func newTestClient(t *testing.T, p *peer, opts ...Option) *Client {
	c, err := New(testConfig(p), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}
