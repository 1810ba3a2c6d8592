package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	for _, offer := range []bool{true, false} {
		body := Generate(Options{Username: "1001", Address: "192.168.1.20", Port: 40000, SessionID: 1234, Offer: offer})

		desc, err := Parse(body)
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.20", desc.Address)
		assert.Equal(t, 40000, desc.Port)
		assert.Equal(t, "192.168.1.20:40000", desc.Endpoint())
		if offer {
			assert.Equal(t, []int{0, 8, 101}, desc.Payloads)
		} else {
			assert.Equal(t, []int{0, 8}, desc.Payloads)
		}
	}
}

func TestGenerateTemplate(t *testing.T) {
	body := string(Generate(Options{Username: "1001", Address: "10.0.0.5", Port: 5004, SessionID: 42, Offer: true}))
	want := "v=0\r\n" +
		"o=1001 42 42 IN IP4 10.0.0.5\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 5004 RTP/AVP 0 8 101\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n" +
		"a=rtpmap:101 telephone-event/8000\r\n" +
		"a=fmtp:101 0-15\r\n" +
		"a=sendrecv\r\n"
	assert.Equal(t, want, body)

	answer := string(Generate(Options{Address: "10.0.0.5", Port: 5004, SessionID: 42}))
	assert.NotContains(t, answer, "telephone-event")
	assert.Contains(t, answer, "m=audio 5004 RTP/AVP 0 8\r\n")
}

func TestParseMediaLevelConnection(t *testing.T) {
	body := "v=0\r\n" +
		"o=- 1 1 IN IP4 203.0.113.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 30000 RTP/AVP 8\r\n" +
		"c=IN IP4 203.0.113.9\r\n"
	desc, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", desc.Address)
	assert.Equal(t, 30000, desc.Port)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"no connection": "v=0\r\no=- 1 1 IN IP4 1.2.3.4\r\ns=-\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\n",
		"no audio":      "v=0\r\no=- 1 1 IN IP4 1.2.3.4\r\ns=-\r\nc=IN IP4 1.2.3.4\r\nt=0 0\r\n",
		"video only":    "v=0\r\no=- 1 1 IN IP4 1.2.3.4\r\ns=-\r\nc=IN IP4 1.2.3.4\r\nt=0 0\r\nm=video 4000 RTP/AVP 96\r\n",
		"ipv6":          "v=0\r\no=- 1 1 IN IP6 ::1\r\ns=-\r\nc=IN IP6 ::1\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, IsParseError(err), "got %T", err)
			assert.True(t, strings.HasPrefix(err.Error(), "sdp: "))
		})
	}
}
