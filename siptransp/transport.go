// Package siptransp owns the SIP UDP socket.
package siptransp

import (
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MaxDatagram bounds a single inbound SIP message.
const MaxDatagram = 65535

// SocketError wraps a failure to bind, send or receive.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string { return "socket " + e.Op + ": " + e.Err.Error() }
func (e *SocketError) Unwrap() error { return e.Err }

// Packet is one received datagram.
type Packet struct {
	Data   []byte
	Source *net.UDPAddr
}

type Transport struct {
	Protocol   string
	Conn       *net.UDPConn
	LocalAddr  *net.UDPAddr
	RemoteAddr *net.UDPAddr

	closeOnce sync.Once
	readDone  chan struct{}
}

// Listen binds localAddr ("0.0.0.0:0" for an ephemeral port) and resolves the
// registrar address used by Send.
func Listen(localAddr, remoteAddr string) (*Transport, error) {
	remote, err := net.ResolveUDPAddr("udp4", remoteAddr)
	if err != nil {
		return nil, &SocketError{Op: "resolve", Err: errors.Wrapf(err, "registrar %q", remoteAddr)}
	}
	laddr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, &SocketError{Op: "resolve", Err: errors.Wrapf(err, "local address %q", localAddr)}
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, &SocketError{Op: "bind", Err: err}
	}

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		conn.Close()
		return nil, &SocketError{Op: "bind", Err: errors.New("local address is not UDP")}
	}
	log.Info().Str("local", udpAddr.String()).Str("registrar", remote.String()).Msg("SIP socket bound")

	return &Transport{
		Protocol:   "UDP",
		Conn:       conn,
		LocalAddr:  udpAddr,
		RemoteAddr: remote,
		readDone:   make(chan struct{}),
	}, nil
}

func (t *Transport) LocalPort() int { return t.LocalAddr.Port }

// Send writes b to the registrar.
func (t *Transport) Send(b []byte) error {
	return t.SendTo(b, t.RemoteAddr)
}

// SendTo writes b to addr, or to the registrar when addr is nil.
func (t *Transport) SendTo(b []byte, addr *net.UDPAddr) error {
	if addr == nil {
		addr = t.RemoteAddr
	}
	if _, err := t.Conn.WriteToUDP(b, addr); err != nil {
		return &SocketError{Op: "send", Err: errors.Wrapf(err, "to %s", addr)}
	}
	log.Trace().Int("bytes", len(b)).Str("dest", addr.String()).Msg("Sent message")
	return nil
}

// ReadLoop delivers datagrams on out until the socket is closed. Each
// Packet owns its buffer.
func (t *Transport) ReadLoop(out chan<- Packet, done <-chan struct{}) {
	defer close(t.readDone)
	buffer := make([]byte, MaxDatagram)
	for {
		n, clientAddr, err := t.Conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("Error reading from UDP socket")
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		log.Trace().Int("bytes", n).Str("client", clientAddr.String()).Msg("Received message")

		select {
		case out <- Packet{Data: data, Source: clientAddr}:
		case <-done:
			return
		}
	}
}

// Close closes the socket and waits for a running ReadLoop to exit.
func (t *Transport) Close(readLoopStarted bool) error {
	var err error
	t.closeOnce.Do(func() {
		err = t.Conn.Close()
		if readLoopStarted {
			<-t.readDone
		}
	})
	return err
}

// LocalIPFor returns the local IPv4 address the kernel would use to reach
// remote, falling back to the first non-loopback interface address and then
// to 127.0.0.1.
func LocalIPFor(remote string) string {
	if conn, err := net.Dial("udp4", remote); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
			return addr.IP.String()
		}
	}
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// IsPrivate reports whether ip is an RFC 1918 or loopback address.
func IsPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && (parsed.IsPrivate() || parsed.IsLoopback())
}

// HostPort joins host and port.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
