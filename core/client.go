// Package core is the user agent: one reactor goroutine owns registration,
// call and transaction state and is fed by the SIP socket, transaction
// timers, call timers and API calls.
package core

import (
	"context"
	"sync"
	"time"

	"sipua/config"
	"sipua/rtp"
	"sipua/siptrans"
	"sipua/siptransp"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	onIncoming func(InvitationInfo)
}

// WithRegisterer registers the client's collectors on reg. Without it a
// private registry is used.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithIncomingCallHandler is called on the reactor goroutine for every new
// pending invitation. It must not block or call back into the Client
// synchronously.
func WithIncomingCallHandler(fn func(InvitationInfo)) Option {
	return func(o *options) { o.onIncoming = fn }
}

type Client struct {
	cfg     config.SIP
	opts    options
	localIP string

	tp    *siptransp.Transport
	media *rtp.Engine
	txm   *siptrans.Manager

	packets  chan siptransp.Packet
	timers   chan siptrans.TimerEvent
	cmds     chan func()
	done     chan struct{}
	loopDone chan struct{}

	closeOnce sync.Once
	liveTx    atomic.Int64

	// owned by the reactor
	reg     registration
	call    *Call
	pending *Invitation
	stats   stats
}

// New binds the SIP and RTP sockets and starts the reactor.
func New(cfg config.SIP, opts ...Option) (*Client, error) {
	full := config.Config{SIP: cfg}
	full.Normalize()
	if err := full.Validate(); err != nil {
		return nil, err
	}
	cfg = full.SIP

	c := &Client{
		cfg:      cfg,
		packets:  make(chan siptransp.Packet, 64),
		timers:   make(chan siptrans.TimerEvent, 64),
		cmds:     make(chan func()),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}

	registrar := siptransp.HostPort(cfg.Server, cfg.Port)
	c.localIP = cfg.LocalIP
	if c.localIP == "" {
		c.localIP = siptransp.LocalIPFor(registrar)
	}
	if siptransp.IsPrivate(c.localIP) {
		log.Warn().Str("local_ip", c.localIP).Msg("Local address is private, registrar may need NAT traversal to reach us")
	}

	tp, err := siptransp.Listen(siptransp.HostPort("0.0.0.0", cfg.LocalPort), registrar)
	if err != nil {
		return nil, err
	}
	c.tp = tp

	media, err := rtp.Listen(siptransp.HostPort("0.0.0.0", cfg.RTPPort),
		rtp.WithLocalIP(c.localIP),
		rtp.WithReceiveTimeout(cfg.ReceiveTimeout),
		rtp.WithTimeoutHook(func(time.Duration) { c.post(c.stats.rtpTimeout) }))
	if err != nil {
		tp.Close(false)
		return nil, &siptransp.SocketError{Op: "bind rtp", Err: err}
	}
	c.media = media

	c.txm = siptrans.NewManager(tp, tp.RemoteAddr, c.timers, siptrans.Timings{T1: cfg.T1, T2: cfg.T2})
	c.stats.metrics = newMetrics(c.opts.registerer, gauges{
		transactions: func() float64 { return float64(c.liveTx.Load()) },
		rtpSent:      func() float64 { return float64(media.Stats().Sent) },
		rtpReceived:  func() float64 { return float64(media.Stats().Received) },
	})

	go tp.ReadLoop(c.packets, c.done)
	go c.run()

	log.Info().Str("server", registrar).Str("user", cfg.Username).Str("local_ip", c.localIP).
		Str("transport", tp.Protocol).Int("sip_port", tp.LocalPort()).Int("rtp_port", media.LocalPort()).Msg("SIP client ready")
	return c, nil
}

func (c *Client) run() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.done:
			return
		case pkt := <-c.packets:
			c.handlePacket(pkt)
		case ev := <-c.timers:
			c.txm.HandleTimer(ev)
		case fn := <-c.cmds:
			fn()
		}
		c.liveTx.Store(int64(c.txm.Len()))
	}
}

// post queues fn for the reactor. It reports false once the client is closed.
func (c *Client) post(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.done:
		return false
	}
}

// exec runs fn on the reactor and waits for it to finish.
func (c *Client) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() { defer close(finished); fn() }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// schedule runs fn on the reactor after d. fn must check that the state it
// acts on is still current.
func (c *Client) schedule(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { c.post(fn) })
}

// LocalIP returns the address advertised in Via, Contact and SDP.
func (c *Client) LocalIP() string { return c.localIP }

// LocalPort returns the SIP socket port.
func (c *Client) LocalPort() int { return c.tp.LocalPort() }

// RTPPort returns the media socket port.
func (c *Client) RTPPort() int { return c.media.LocalPort() }

// Status is a point in time view of the client.
type Status struct {
	Registered   bool            `json:"registered"`
	Registering  bool            `json:"registering"`
	Server       string          `json:"server"`
	Username     string          `json:"username"`
	Domain       string          `json:"domain"`
	LocalIP      string          `json:"localIp"`
	LocalPort    int             `json:"localPort"`
	RTPPort      int             `json:"rtpPort"`
	BehindNAT    bool            `json:"behindNat"`
	Transactions int             `json:"transactions"`
	RTPActive    bool            `json:"rtpActive"`
	RTPRemote    string          `json:"rtpRemote,omitempty"`
	Call         *CallInfo       `json:"call,omitempty"`
	Pending      *InvitationInfo `json:"pending,omitempty"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.exec(ctx, func() {
		st = Status{
			Registered:   c.reg.registered,
			Registering:  c.reg.inFlight,
			Server:       c.tp.RemoteAddr.String(),
			Username:     c.cfg.Username,
			Domain:       c.cfg.Domain,
			LocalIP:      c.localIP,
			LocalPort:    c.tp.LocalPort(),
			RTPPort:      c.media.LocalPort(),
			BehindNAT:    siptransp.IsPrivate(c.localIP),
			Transactions: c.txm.Len(),
			RTPActive:    c.media.Active(),
			RTPRemote:    c.media.Remote(),
		}
		if c.call != nil {
			info := c.call.info()
			st.Call = &info
		}
		if c.pending != nil {
			info := c.pending.info()
			st.Pending = &info
		}
	})
	return st, err
}

func (c *Client) Statistics(ctx context.Context) (Statistics, error) {
	var out Statistics
	err := c.exec(ctx, func() {
		ms := c.media.Stats()
		out = c.stats.snapshot(ms.Sent, ms.Received)
	})
	return out, err
}

// Reset abandons any call or invitation, forgets the registration and zeroes
// the statistics.
func (c *Client) Reset(ctx context.Context) error {
	return c.exec(ctx, func() {
		c.abandonAll(ErrReset)
		c.reg.registered = false
		ms := c.media.Stats()
		c.stats.reset(ms.Sent, ms.Received)
		log.Info().Msg("Client reset")
	})
}

// abandonAll ends every piece of call and registration state.
func (c *Client) abandonAll(reason error) {
	if call := c.call; call != nil {
		if call.established() {
			c.endCall(call, EndedByLocal, true)
		} else {
			c.failCall(call, &CallError{Reason: "abandoned", Err: reason})
		}
	}
	if c.pending != nil {
		c.rejectPending()
	}
	if c.reg.inFlight {
		c.finishRegistration(&RegistrationError{Reason: "abandoned", Err: reason})
	}
	c.media.Stop()
	c.txm.TerminateAll()
}

// Close unregisters when registered, ends any call and releases both
// sockets. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.exec(context.Background(), func() {
			c.abandonAll(ErrClosed)
			if c.reg.registered {
				c.unregister()
			}
			c.txm.Close()
		})
		close(c.done)
		<-c.loopDone
		c.stats.metrics.unregister()
		mediaErr := c.media.Close()
		err = c.tp.Close(true)
		if err == nil && mediaErr != nil {
			err = errors.Wrap(mediaErr, "closing rtp socket")
		}
		log.Info().Msg("SIP client closed")
	})
	return err
}
