package siptransp

import (
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSendAndReadLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	tp, err := Listen(HostPort("127.0.0.1", 0), peer.LocalAddr().String())
	require.NoError(t, err)
	assert.Equal(t, "UDP", tp.Protocol)

	out := make(chan Packet, 1)
	done := make(chan struct{})
	go tp.ReadLoop(out, done)

	require.NoError(t, tp.Send([]byte("OPTIONS")))
	buf := make([]byte, 64)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	n, from, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "OPTIONS", string(buf[:n]))
	assert.Equal(t, tp.LocalPort(), from.Port)

	_, err = peer.WriteToUDP([]byte("SIP/2.0 200 OK"), from)
	require.NoError(t, err)
	select {
	case pkt := <-out:
		assert.Equal(t, "SIP/2.0 200 OK", string(pkt.Data))
		assert.Equal(t, peer.LocalAddr().(*net.UDPAddr).Port, pkt.Source.Port)
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
	}

	close(done)
	require.NoError(t, tp.Close(true))
	assert.NoError(t, tp.Close(true))
}

func TestListenErrors(t *testing.T) {
	_, err := Listen("127.0.0.1:0", "not a host:port:x")
	var se *SocketError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "resolve", se.Op)
}

func TestIsPrivate(t *testing.T) {
	assert.True(t, IsPrivate("192.168.1.10"))
	assert.True(t, IsPrivate("10.1.2.3"))
	assert.True(t, IsPrivate("127.0.0.1"))
	assert.False(t, IsPrivate("8.8.8.8"))
	assert.False(t, IsPrivate("garbage"))
}

func TestLocalIPForLoopback(t *testing.T) {
	assert.Equal(t, "127.0.0.1", LocalIPFor("127.0.0.1:5060"))
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:5060", HostPort("10.0.0.1", 5060))
	assert.Equal(t, "[::1]:5060", HostPort("::1", 5060))
}
