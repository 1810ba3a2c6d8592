package sipmess

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const inviteRaw = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bK776asdhds;rport, SIP/2.0/UDP 10.0.0.1\r\n" +
	"v: SIP/2.0/UDP 10.0.0.2:5070;branch=z9hG4bKother\r\n" +
	"Record-Route: <sip:proxy.example.com;lr>\r\n" +
	"From: \"Alice, A\" <sip:alice@example.com>;tag=1928301774\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"Call-ID: a84b4c76e66710@pc33.example.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@192.168.1.1:5062>\r\n" +
	"X-Custom: keep me\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 13\r\n" +
	"\r\n" +
	"Test SDP body"

func TestParseSipMessageRequest(t *testing.T) {
	msg, err := ParseSipMessage([]byte(inviteRaw))
	if err != nil {
		t.Fatalf("ParseSipMessage() error = %v", err)
	}

	wantReq := &Request{
		Method:     Invite,
		RequestURI: SIPUri{Scheme: "sip", User: "bob", Domain: "example.com", Port: -1},
	}
	if diff := cmp.Diff(wantReq, msg.Request); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	wantVias := []SIPVia{
		{Proto: "SIP/2.0/UDP", Domain: "192.168.1.1", Port: 5060, Params: Params{{Name: "branch", Value: "z9hG4bK776asdhds"}, {Name: "rport"}}},
		{Proto: "SIP/2.0/UDP", Domain: "10.0.0.1", Port: -1},
		{Proto: "SIP/2.0/UDP", Domain: "10.0.0.2", Port: 5070, Params: Params{{Name: "branch", Value: "z9hG4bKother"}}},
	}
	if diff := cmp.Diff(wantVias, msg.Vias); diff != "" {
		t.Errorf("vias mismatch (-want +got):\n%s", diff)
	}

	wantFrom := SIPFromTo{
		DisplayName: `"Alice, A"`,
		Uri:         SIPUri{Scheme: "sip", User: "alice", Domain: "example.com", Port: -1},
		Params:      Params{{Name: "tag", Value: "1928301774"}},
	}
	if diff := cmp.Diff(wantFrom, msg.From); diff != "" {
		t.Errorf("from mismatch (-want +got):\n%s", diff)
	}

	if got := msg.To.Tag(); got != "" {
		t.Errorf("To tag = %q, want empty", got)
	}
	if msg.CallID != "a84b4c76e66710@pc33.example.com" {
		t.Errorf("CallID = %q", msg.CallID)
	}
	if diff := cmp.Diff(SIPCseq{Method: Invite, Seq: 314159}, msg.CSeq); diff != "" {
		t.Errorf("cseq mismatch (-want +got):\n%s", diff)
	}
	if len(msg.Contacts) != 1 || msg.Contacts[0].Uri.HostPort() != "192.168.1.1:5062" {
		t.Errorf("Contacts = %+v", msg.Contacts)
	}
	if got, _ := msg.GetFirst(Other); got != "keep me" {
		t.Errorf("X-Custom = %q", got)
	}
	if string(msg.Body) != "Test SDP body" {
		t.Errorf("Body = %q", msg.Body)
	}
	if msg.Branch() != "z9hG4bK776asdhds" {
		t.Errorf("Branch() = %q", msg.Branch())
	}
}

func TestParseSipMessageResponse(t *testing.T) {
	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.1:5060;branch=z9hG4bKabc\r\n" +
		"From: <sip:alice@example.com>;tag=1\r\n" +
		"To: <sip:alice@example.com>;tag=2\r\n" +
		"Call-ID: abc\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"WWW-Authenticate: Digest realm=\"example.com\", nonce=\"a,b\", algorithm=MD5\r\n" +
		"\r\n"

	msg, err := ParseSipMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseSipMessage() error = %v", err)
	}
	if msg.StatusCode() != 401 || msg.StatusLine() != "SIP/2.0 401 Unauthorized" {
		t.Errorf("status line = %q", msg.StatusLine())
	}
	challenges := msg.GetHeader(WWWAuthenticate)
	if len(challenges) != 1 || !strings.Contains(challenges[0], `nonce="a,b"`) {
		t.Errorf("WWW-Authenticate split incorrectly: %q", challenges)
	}
	if msg.To.Tag() != "2" || msg.CSeq.Method != Register {
		t.Errorf("To tag %q, CSeq %v", msg.To.Tag(), msg.CSeq)
	}
}

func TestParseSipMessageErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no separator", "SIP/2.0 200 OK\r\nCall-ID: x\r\n"},
		{"bad status", "SIP/2.0 abc OK\r\n\r\n"},
		{"bad method", "F@O sip:a@b SIP/2.0\r\nVia: SIP/2.0/UDP a\r\nFrom: <sip:a@b>\r\nTo: <sip:a@b>\r\nCall-ID: x\r\nCSeq: 1 FOO\r\n\r\n"},
		{"missing call-id", "SIP/2.0 200 OK\r\nVia: SIP/2.0/UDP a\r\nFrom: <sip:a@b>\r\nTo: <sip:a@b>\r\nCSeq: 1 BYE\r\n\r\n"},
		{"bad header line", "SIP/2.0 200 OK\r\nnocolon\r\n\r\n"},
		{"short body", "SIP/2.0 200 OK\r\nVia: SIP/2.0/UDP a\r\nFrom: <sip:a@b>\r\nTo: <sip:a@b>\r\nCall-ID: x\r\nCSeq: 1 BYE\r\nContent-Length: 10\r\n\r\nabc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSipMessage([]byte(tt.input)); err == nil {
				t.Errorf("ParseSipMessage() expected error")
			}
		})
	}
}

func TestParseExtensionMethod(t *testing.T) {
	raw := "FROB sip:a@b SIP/2.0\r\nVia: SIP/2.0/UDP a;branch=z9hG4bKx\r\nFrom: <sip:a@b>;tag=1\r\n" +
		"To: <sip:a@b>\r\nCall-ID: x\r\nCSeq: 7 FROB\r\n\r\n"
	msg, err := ParseSipMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseSipMessage() error = %v", err)
	}
	if msg.Request.Method != Extension || msg.Request.MethodName() != "FROB" {
		t.Errorf("method = %v %q, want Extension FROB", msg.Request.Method, msg.Request.MethodName())
	}
	want := SIPCseq{Method: Extension, Seq: 7, Extension: "FROB"}
	if diff := cmp.Diff(want, msg.CSeq); diff != "" {
		t.Errorf("CSeq mismatch (-want +got):\n%s", diff)
	}
	if got := msg.CSeq.String(); got != "7 FROB" {
		t.Errorf("CSeq.String() = %q", got)
	}
	if !strings.HasPrefix(string(msg.Serialize()), "FROB sip:a@b SIP/2.0\r\n") {
		t.Errorf("Serialize() lost the method token:\n%s", msg.Serialize())
	}
}

func TestMakeResponseEchoesHeaders(t *testing.T) {
	req, err := ParseSipMessage([]byte(inviteRaw))
	if err != nil {
		t.Fatalf("ParseSipMessage() error = %v", err)
	}

	res := MakeResponse(req, 486, "Busy Here")
	res.AddHeader(Contact, "<sip:bob@10.0.0.9:5060>")

	parsed, err := ParseSipMessage(res.Serialize())
	if err != nil {
		t.Fatalf("parsing serialized response: %v", err)
	}
	if diff := cmp.Diff(req.Vias, parsed.Vias); diff != "" {
		t.Errorf("vias not echoed in order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(req.GetHeader(RecordRoute), parsed.GetHeader(RecordRoute)); diff != "" {
		t.Errorf("record-route mismatch (-want +got):\n%s", diff)
	}
	if parsed.StatusLine() != "SIP/2.0 486 Busy Here" {
		t.Errorf("status line = %q", parsed.StatusLine())
	}
	if parsed.CallID != req.CallID || parsed.CSeq != req.CSeq {
		t.Errorf("dialog headers not echoed: %q %v", parsed.CallID, parsed.CSeq)
	}
	if cl, _ := parsed.GetFirst(ContentLength); cl != "0" {
		t.Errorf("Content-Length = %q", cl)
	}
}

func TestSetHeaderKeepsPosition(t *testing.T) {
	msg := NewRequest(Register, SIPUri{Scheme: "sip", Domain: "example.com", Port: -1})
	msg.AddHeader(Via, "SIP/2.0/UDP a;branch=z9hG4bK1")
	msg.AddHeader(CSeq, "1 REGISTER")
	msg.AddHeader(Expires, "3600")
	msg.SetHeader(CSeq, "2 REGISTER")

	want := []Header{
		{Type: Via, Value: "SIP/2.0/UDP a;branch=z9hG4bK1"},
		{Type: CSeq, Value: "2 REGISTER"},
		{Type: Expires, Value: "3600"},
	}
	if diff := cmp.Diff(want, msg.Headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestSipUri(t *testing.T) {
	tests := []struct {
		in   string
		want SIPUri
		str  string
	}{
		{"sip:alice@example.com", SIPUri{Scheme: "sip", User: "alice", Domain: "example.com", Port: -1}, "sip:alice@example.com"},
		{"sip:alice:pw@10.0.0.1:5070;transport=udp", SIPUri{Scheme: "sip", User: "alice", Pass: "pw", Domain: "10.0.0.1", Port: 5070, Params: Params{{Name: "transport", Value: "udp"}}}, "sip:alice:pw@10.0.0.1:5070;transport=udp"},
		{"sip:example.com", SIPUri{Scheme: "sip", Domain: "example.com", Port: -1}, "sip:example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSipUri(tt.in)
			if err != nil {
				t.Fatalf("ParseSipUri() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if got.String() != tt.str {
				t.Errorf("String() = %q, want %q", got.String(), tt.str)
			}
		})
	}

	if _, err := ParseSipUri("alice@example.com"); err == nil {
		t.Error("expected error for missing scheme")
	}
}
