// Package rtp sends a paced PCMU silence stream to one remote endpoint and
// accounts for whatever arrives on the local media socket.
package rtp

import (
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const (
	FrameInterval         = 20 * time.Millisecond
	DefaultReceiveTimeout = 5 * time.Second
)

type Option func(*Engine)

// WithReceiveTimeout sets how long the receive watchdog waits for a packet.
func WithReceiveTimeout(d time.Duration) Option {
	return func(e *Engine) { e.receiveTimeout = d }
}

// WithTimeoutHook registers fn to run when the watchdog fires. The session
// keeps running either way.
func WithTimeoutHook(fn func(idle time.Duration)) Option {
	return func(e *Engine) { e.onTimeout = fn }
}

// WithLocalIP records the address advertised in our SDP. Packets from it are
// our own and never count as an unexpected source.
func WithLocalIP(ip string) Option {
	return func(e *Engine) { e.localIP = net.ParseIP(ip) }
}

type Stats struct {
	Sent         uint64
	Received     uint64
	LastReceived time.Time
}

// Engine owns the local RTP socket for the lifetime of a client. At most one
// session is active at a time.
type Engine struct {
	conn           *net.UDPConn
	receiveTimeout time.Duration
	onTimeout      func(idle time.Duration)
	localIP        net.IP

	sent     atomic.Uint64
	received atomic.Uint64
	active   atomic.Bool

	mu           sync.Mutex
	remote       *net.UDPAddr
	stopSend     chan struct{}
	sendDone     chan struct{}
	watchdog     *time.Timer
	generation   uint64
	started      time.Time
	lastReceived time.Time
	sessionRecv  uint64

	closeOnce sync.Once
	readDone  chan struct{}
}

// Listen binds the RTP socket on addr ("0.0.0.0:0" for an ephemeral port)
// and starts the receive loop.
func Listen(addr string, opts ...Option) (*Engine, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving rtp address %q", addr)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "binding rtp socket")
	}

	e := &Engine{
		conn:           conn,
		receiveTimeout: DefaultReceiveTimeout,
		readDone:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.readLoop()
	log.Debug().Int("rtp_port", e.LocalPort()).Msg("RTP socket bound")
	return e, nil
}

// expectedSource reports whether ip is the session's remote, a loopback, or
// one of our own addresses. Caller holds e.mu.
func (e *Engine) expectedSource(ip net.IP) bool {
	if e.remote == nil || ip.Equal(e.remote.IP) || ip.IsLoopback() {
		return true
	}
	if e.localIP != nil && ip.Equal(e.localIP) {
		return true
	}
	bound := e.conn.LocalAddr().(*net.UDPAddr).IP
	return !bound.IsUnspecified() && ip.Equal(bound)
}

func (e *Engine) LocalPort() int {
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

func (e *Engine) Active() bool {
	return e.active.Load()
}

// Remote returns the current remote endpoint or "".
func (e *Engine) Remote() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return ""
	}
	return e.remote.String()
}

// Stats returns totals since the engine was created.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	last := e.lastReceived
	e.mu.Unlock()
	return Stats{Sent: e.sent.Load(), Received: e.received.Load(), LastReceived: last}
}

// Start begins sending to address:port every 20ms. A running session is
// stopped first.
func (e *Engine) Start(address string, port int) error {
	remote, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return errors.Wrapf(err, "resolving remote rtp endpoint %s:%d", address, port)
	}

	e.Stop()

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.remote = remote
	e.stopSend = make(chan struct{})
	e.sendDone = make(chan struct{})
	e.started = time.Now()
	e.lastReceived = time.Time{}
	e.sessionRecv = 0
	e.watchdog = time.AfterFunc(e.receiveTimeout, func() { e.receiveTimedOut(gen) })
	p := NewPacketizer(uint16(rand.Uint32()), uint32(time.Now().UnixMilli()*8), rand.Uint32())
	e.active.Store(true)
	go e.sendLoop(p, remote, e.stopSend, e.sendDone)
	e.mu.Unlock()

	log.Info().Str("remote", remote.String()).Int("rtp_port", e.LocalPort()).
		Uint32("ssrc", p.SSRC()).Msg("RTP session started")
	return nil
}

// Stop ends the session. It is safe to call repeatedly and before Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active.Load() {
		e.remote = nil
		e.mu.Unlock()
		return
	}
	e.active.Store(false)
	e.generation++
	close(e.stopSend)
	done := e.sendDone
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
	remote := e.remote
	e.remote = nil
	recv := e.sessionRecv
	started := e.started
	e.mu.Unlock()

	<-done
	log.Info().Str("remote", remote.String()).Uint64("received", recv).
		Dur("duration", time.Since(started)).Msg("RTP session stopped")
}

// Close stops any session and releases the socket.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.Stop()
		err = e.conn.Close()
		<-e.readDone
	})
	return err
}

func (e *Engine) sendLoop(p *Packetizer, remote *net.UDPAddr, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := e.conn.WriteToUDP(p.Next(), remote); err != nil {
				log.Debug().Err(err).Str("remote", remote.String()).Msg("RTP send failed")
				continue
			}
			e.sent.Inc()
		}
	}
}

func (e *Engine) readLoop() {
	defer close(e.readDone)
	buf := make([]byte, 1500)
	for {
		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug().Err(err).Msg("RTP read failed")
			continue
		}
		e.handlePacket(buf[:n], src)
	}
}

func (e *Engine) handlePacket(b []byte, src *net.UDPAddr) {
	var hdr pionrtp.Header
	if _, err := hdr.Unmarshal(b); err != nil || len(b) < HeaderSize {
		log.Debug().Int("bytes", len(b)).Str("source", src.String()).Msg("Dropping non-RTP datagram")
		return
	}
	if hdr.Version != 2 || hdr.PayloadType != PayloadTypePCMU {
		log.Debug().Uint8("version", hdr.Version).Uint8("payload_type", hdr.PayloadType).
			Str("source", src.String()).Msg("Unexpected RTP header")
	}

	e.received.Inc()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.expectedSource(src.IP) {
		log.Warn().Str("source", src.String()).Str("expected", e.remote.String()).Msg("RTP from unexpected source")
	}
	if e.sessionRecv == 0 && e.active.Load() {
		log.Info().Str("source", src.String()).Msg("RTP media flowing")
	}
	e.sessionRecv++
	e.lastReceived = time.Now()
	if e.watchdog != nil {
		e.watchdog.Reset(e.receiveTimeout)
	}
}

func (e *Engine) receiveTimedOut(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || !e.active.Load() {
		e.mu.Unlock()
		return
	}
	idle := time.Since(e.started)
	if !e.lastReceived.IsZero() {
		idle = time.Since(e.lastReceived)
	}
	remote := e.remote.String()
	recv := e.sessionRecv
	e.mu.Unlock()

	log.Warn().Str("remote", remote).Int("rtp_port", e.LocalPort()).
		Uint64("sent", e.sent.Load()).Uint64("received", recv).Dur("idle", idle).
		Msg("No RTP received, check NAT or firewall for the media port")
	if e.onTimeout != nil {
		e.onTimeout(idle)
	}
}
