package core

import (
	"context"
	"net"
	"time"

	"sipua/sdp"
	"sipua/sipmess"

	"github.com/qmuntal/stateless"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

type CallState string

const (
	StateIdle        CallState = "idle"
	StateCalling     CallState = "calling"
	StateRinging     CallState = "ringing"
	StateEstablished CallState = "established"
	StateTerminated  CallState = "terminated"
)

const (
	trigDial        = "dial"
	trigProvisional = "provisional"
	trigConnected   = "connected"
	trigAnswer      = "answer"
	trigEnd         = "end"
)

type EndReason string

const (
	EndedByDuration EndReason = "duration"
	EndedByLocal    EndReason = "local"
	EndedByRemote   EndReason = "remote"
)

// rejectionCodes end an outbound call with CallRejected.
var rejectionCodes = []int{404, 480, 486, 603}

// CallResult describes a completed outbound call.
type CallResult struct {
	CallID      string        `json:"callId"`
	Number      string        `json:"number"`
	Duration    time.Duration `json:"duration"`
	EndedBy     EndReason     `json:"endedBy"`
	Media       bool          `json:"media"`
	RTPSent     uint64        `json:"rtpSent"`
	RTPReceived uint64        `json:"rtpReceived"`
}

type callOutcome struct {
	result *CallResult
	err    error
}

// Call is the single dialog the client can hold.
type Call struct {
	ID           string
	Direction    Direction
	Number       string
	LocalURI     sipmess.SIPUri
	RemoteURI    sipmess.SIPUri
	LocalTag     string
	RemoteTag    string
	RemoteTarget sipmess.SIPUri
	// RemoteAddr is where in-dialog requests go; nil means the registrar.
	RemoteAddr *net.UDPAddr
	Remote     *sdp.Description

	fsm          *stateless.StateMachine
	cseq         int
	inviteSeq    int
	inviteBranch string
	ack          []byte
	answer       []byte
	created      time.Time
	connected    time.Time
	duration     time.Duration
	rtpBase      [2]uint64
	timers       []*time.Timer
	result       chan<- callOutcome
}

func newCall(id string, dir Direction) *Call {
	call := &Call{ID: id, Direction: dir, created: time.Now()}

	sm := stateless.NewStateMachine(StateIdle)
	sm.Configure(StateIdle).
		Permit(trigDial, StateCalling).
		Permit(trigAnswer, StateEstablished).
		Permit(trigEnd, StateTerminated)
	sm.Configure(StateCalling).
		Permit(trigProvisional, StateRinging).
		Permit(trigConnected, StateEstablished).
		Permit(trigEnd, StateTerminated)
	sm.Configure(StateRinging).
		Ignore(trigProvisional).
		Permit(trigConnected, StateEstablished).
		Permit(trigEnd, StateTerminated)
	sm.Configure(StateEstablished).
		Ignore(trigConnected).
		Permit(trigEnd, StateTerminated)
	sm.Configure(StateTerminated).
		Ignore(trigEnd)
	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		log.Debug().Str("call_id", id).Str("from", string(t.Source.(CallState))).
			Str("to", string(t.Destination.(CallState))).Msg("Call state changed")
	})
	call.fsm = sm
	return call
}

func (call *Call) State() CallState {
	return call.fsm.MustState().(CallState)
}

func (call *Call) fire(trigger string) {
	if err := call.fsm.Fire(trigger); err != nil {
		log.Warn().Err(err).Str("call_id", call.ID).Msg("Invalid call transition")
	}
}

func (call *Call) established() bool {
	return call.State() == StateEstablished
}

func (call *Call) stopTimers() {
	for _, t := range call.timers {
		t.Stop()
	}
	call.timers = nil
}

// CallInfo is the Status view of a call.
type CallInfo struct {
	CallID      string    `json:"callId"`
	Direction   Direction `json:"direction"`
	State       CallState `json:"state"`
	Remote      string    `json:"remote"`
	Since       time.Time `json:"since"`
	RemoteMedia string    `json:"remoteMedia,omitempty"`
}

func (call *Call) info() CallInfo {
	info := CallInfo{
		CallID:    call.ID,
		Direction: call.Direction,
		State:     call.State(),
		Remote:    call.RemoteURI.String(),
		Since:     call.created,
	}
	if call.Remote != nil {
		info.RemoteMedia = call.Remote.Endpoint()
	}
	return info
}

// establishTimeout bounds the wait for a final INVITE response.
func (c *Client) establishTimeout() time.Duration {
	return max(64*c.cfg.T1+5*time.Second, 40*time.Second)
}

// Call dials number at the registrar domain, keeps the call up for duration
// once answered and then hangs up. It returns when the call ends.
func (c *Client) Call(ctx context.Context, number string, duration time.Duration) (*CallResult, error) {
	result := make(chan callOutcome, 1)
	var call *Call
	if err := c.exec(ctx, func() { call = c.startCall(number, duration, result) }); err != nil {
		return nil, err
	}
	select {
	case out := <-result:
		return out.result, out.err
	case <-ctx.Done():
		c.post(func() {
			if call != nil && c.call == call {
				c.hangup(call, ctx.Err())
			}
		})
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) startCall(number string, duration time.Duration, result chan<- callOutcome) *Call {
	switch {
	case c.reg.inFlight:
		result <- callOutcome{err: ErrRegistrationInProgress}
		return nil
	case !c.reg.registered:
		result <- callOutcome{err: ErrNotRegistered}
		return nil
	case c.call != nil || c.pending != nil:
		result <- callOutcome{err: ErrCallInProgress}
		return nil
	}

	call := newCall(newCallID(c.localIP), Outbound)
	call.Number = number
	call.LocalURI = c.aor()
	call.RemoteURI = sipmess.SIPUri{Scheme: "sip", User: number, Domain: c.cfg.Domain, Port: -1}
	call.RemoteTarget = call.RemoteURI
	call.LocalTag = newTag()
	call.cseq = 1
	call.inviteSeq = 1
	call.duration = duration
	call.result = result
	ms := c.media.Stats()
	call.rtpBase = [2]uint64{ms.Sent, ms.Received}

	c.call = call
	c.stats.callAttempt()
	call.fire(trigDial)

	branch := newBranch()
	call.inviteBranch = branch
	invite := c.buildInvite(call, branch)
	tx, err := c.txm.Create(branch, sipmess.Invite, invite.Serialize(),
		func(msg *sipmess.SIPMessage) { c.onInviteResponse(call, msg) },
		func(err error) {
			if c.call == call {
				c.failCall(call, &CallError{Reason: "INVITE transaction failed", Err: err})
			}
		})
	if err != nil {
		c.failCall(call, &CallError{Reason: "creating transaction", Err: err})
		return call
	}

	call.timers = append(call.timers, c.schedule(c.establishTimeout(), func() {
		if c.call == call && !call.established() {
			c.failCall(call, &CallError{Reason: "no answer before timeout"})
		}
	}))

	log.Info().Str("call_id", call.ID).Str("to", call.RemoteURI.String()).Dur("duration", duration).Msg("Placing call")
	_ = c.txm.Send(tx)
	return call
}

func (c *Client) onInviteResponse(call *Call, msg *sipmess.SIPMessage) {
	if c.call != call {
		return
	}
	code := msg.StatusCode()
	switch {
	case code == 100:
		log.Debug().Str("call_id", call.ID).Msg("INVITE trying")
	case code < 200:
		call.fire(trigProvisional)
		log.Info().Str("call_id", call.ID).Str("status", msg.StatusLine()).Msg("Ringing")
	case code < 300:
		c.callConnected(call, msg)
	case lo.Contains(rejectionCodes, code):
		c.failCall(call, &CallRejected{StatusCode: code, StatusLine: msg.StatusLine()})
	default:
		c.failCall(call, &CallError{StatusLine: msg.StatusLine()})
	}
}

func (c *Client) callConnected(call *Call, msg *sipmess.SIPMessage) {
	call.RemoteTag = msg.To.Tag()
	if len(msg.Contacts) > 0 && !msg.Contacts[0].Wildcard {
		call.RemoteTarget = msg.Contacts[0].Uri
	}
	call.connected = time.Now()
	call.fire(trigConnected)

	ack := c.buildAck(call).Serialize()
	call.ack = ack
	if err := c.tp.SendTo(ack, call.RemoteAddr); err != nil {
		log.Warn().Err(err).Str("call_id", call.ID).Msg("Sending ACK failed")
	}

	if desc, err := sdp.Parse(msg.Body); err != nil {
		log.Warn().Err(err).Str("call_id", call.ID).Msg("Answer has no usable SDP, continuing without media")
	} else {
		call.Remote = desc
		if err := c.media.Start(desc.Address, desc.Port); err != nil {
			log.Warn().Err(err).Str("call_id", call.ID).Msg("Starting RTP failed")
		}
	}

	log.Info().Str("call_id", call.ID).Str("remote_media", c.media.Remote()).Msg("Call established")
	call.timers = append(call.timers, c.schedule(call.duration, func() {
		if c.call == call && call.established() {
			c.endCall(call, EndedByDuration, true)
		}
	}))
}

// endCall finishes an established call successfully.
func (c *Client) endCall(call *Call, by EndReason, sendBye bool) {
	if sendBye {
		c.sendBye(call)
	}
	c.media.Stop()
	call.stopTimers()
	call.fire(trigEnd)
	if c.call == call {
		c.call = nil
	}

	ms := c.media.Stats()
	res := &CallResult{
		CallID:      call.ID,
		Number:      call.Number,
		Duration:    time.Since(call.connected),
		EndedBy:     by,
		Media:       call.Remote != nil,
		RTPSent:     ms.Sent - call.rtpBase[0],
		RTPReceived: ms.Received - call.rtpBase[1],
	}
	log.Info().Str("call_id", call.ID).Str("ended_by", string(by)).Dur("duration", res.Duration).
		Uint64("rtp_sent", res.RTPSent).Uint64("rtp_received", res.RTPReceived).Msg("Call ended")

	if call.Direction == Outbound {
		c.stats.callResult(nil)
	}
	if call.result != nil {
		call.result <- callOutcome{result: res}
		call.result = nil
	}
}

// failCall ends a call that never got established, or one torn down by an
// error.
func (c *Client) failCall(call *Call, err error) {
	if call.inviteBranch != "" {
		c.txm.Terminate(call.inviteBranch, nil)
	}
	c.media.Stop()
	call.stopTimers()
	call.fire(trigEnd)
	if c.call == call {
		c.call = nil
	}

	log.Error().Err(err).Str("call_id", call.ID).Msg("Call failed")
	if call.Direction == Outbound {
		c.stats.callResult(err)
	}
	if call.result != nil {
		call.result <- callOutcome{err: err}
		call.result = nil
	}
}

func (c *Client) sendBye(call *Call) {
	branch := newBranch()
	bye := c.buildBye(call, branch)
	tx, err := c.txm.Create(branch, sipmess.Bye, bye.Serialize(),
		func(msg *sipmess.SIPMessage) {
			log.Debug().Str("call_id", call.ID).Str("status", msg.StatusLine()).Msg("BYE response")
		},
		func(err error) {
			log.Warn().Err(err).Str("call_id", call.ID).Msg("BYE not confirmed")
		})
	if err != nil {
		log.Warn().Err(err).Str("call_id", call.ID).Msg("Creating BYE transaction")
		return
	}
	tx.Dest = call.RemoteAddr
	_ = c.txm.Send(tx)
}

// Hangup ends the active call, or rejects the pending invitation.
func (c *Client) Hangup(ctx context.Context) error {
	var err error
	if execErr := c.exec(ctx, func() {
		switch {
		case c.call != nil:
			c.hangup(c.call, nil)
		case c.pending != nil:
			c.rejectPending()
		default:
			err = ErrNoActiveCall
		}
	}); execErr != nil {
		return execErr
	}
	return err
}

func (c *Client) hangup(call *Call, cause error) {
	if call.established() {
		c.endCall(call, EndedByLocal, true)
		return
	}
	c.failCall(call, &CallError{Reason: "hung up before answer", Err: cause})
}

// reackCall re-sends the ACK for a retransmitted 2xx to our INVITE.
func (c *Client) reackCall(msg *sipmess.SIPMessage) bool {
	call := c.call
	if call == nil || call.Direction != Outbound || call.ack == nil ||
		msg.CallID != call.ID || msg.CSeq.Method != sipmess.Invite || msg.StatusCode()/100 != 2 {
		return false
	}
	if err := c.tp.SendTo(call.ack, call.RemoteAddr); err != nil {
		log.Warn().Err(err).Str("call_id", call.ID).Msg("Re-sending ACK failed")
	}
	return true
}
