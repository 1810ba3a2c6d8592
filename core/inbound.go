package core

import (
	"context"
	"net"
	"time"

	"sipua/sdp"
	"sipua/sipmess"

	"github.com/rs/zerolog/log"
)

// Invitation is an inbound INVITE waiting for Answer or Reject.
type Invitation struct {
	Request  *sipmess.SIPMessage
	Source   *net.UDPAddr
	CallID   string
	Remote   *sdp.Description
	Received time.Time
}

// InvitationInfo is the Status view of a pending invitation.
type InvitationInfo struct {
	CallID      string    `json:"callId"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Received    time.Time `json:"received"`
	RemoteMedia string    `json:"remoteMedia,omitempty"`
}

func (inv *Invitation) info() InvitationInfo {
	info := InvitationInfo{
		CallID:   inv.CallID,
		From:     inv.Request.From.Uri.String(),
		To:       inv.Request.To.Uri.String(),
		Received: inv.Received,
	}
	if inv.Remote != nil {
		info.RemoteMedia = inv.Remote.Endpoint()
	}
	return info
}

func (c *Client) reply(req *sipmess.SIPMessage, to *net.UDPAddr, code int, reason, toTag string) {
	res := c.response(req, code, reason, toTag)
	if err := c.tp.SendTo(res.Serialize(), to); err != nil {
		log.Warn().Err(err).Str("call_id", req.CallID).Int("status", code).Msg("Sending response failed")
	}
}

func (c *Client) onInvite(msg *sipmess.SIPMessage, src *net.UDPAddr) {
	if call := c.call; call != nil && call.Direction == Inbound && call.ID == msg.CallID {
		if call.answer != nil {
			log.Debug().Str("call_id", msg.CallID).Msg("INVITE retransmission, repeating 200 OK")
			if err := c.tp.SendTo(call.answer, src); err != nil {
				log.Warn().Err(err).Str("call_id", msg.CallID).Msg("Repeating 200 OK failed")
			}
		}
		return
	}
	if c.pending != nil && c.pending.CallID == msg.CallID {
		log.Debug().Str("call_id", msg.CallID).Msg("INVITE retransmission for pending call")
		return
	}
	if c.call != nil || c.pending != nil {
		log.Info().Str("call_id", msg.CallID).Str("from", msg.From.Uri.String()).Msg("Busy, rejecting INVITE")
		c.reply(msg, src, 486, "Busy Here", newTag())
		c.stats.incoming("busy")
		return
	}

	inv := &Invitation{Request: msg, Source: src, CallID: msg.CallID, Received: time.Now()}
	if desc, err := sdp.Parse(msg.Body); err != nil {
		log.Warn().Err(err).Str("call_id", msg.CallID).Msg("Incoming INVITE has no usable SDP")
	} else {
		inv.Remote = desc
	}
	c.pending = inv
	c.stats.incoming("offered")

	log.Info().Str("call_id", msg.CallID).Str("from", msg.From.Uri.String()).
		Str("source", src.String()).Msg("Incoming call")
	if c.opts.onIncoming != nil {
		c.opts.onIncoming(inv.info())
	}
}

// Answer accepts the pending invitation and starts media.
func (c *Client) Answer(ctx context.Context) error {
	var err error
	if execErr := c.exec(ctx, func() { err = c.answer() }); execErr != nil {
		return execErr
	}
	return err
}

func (c *Client) answer() error {
	inv := c.pending
	if inv == nil {
		return ErrNoPendingCall
	}
	req := inv.Request

	call := newCall(inv.CallID, Inbound)
	call.LocalURI = req.To.Uri
	call.RemoteURI = req.From.Uri
	call.LocalTag = req.To.Tag()
	if call.LocalTag == "" {
		call.LocalTag = newTag()
	}
	call.RemoteTag = req.From.Tag()
	call.RemoteTarget = req.From.Uri
	if len(req.Contacts) > 0 && !req.Contacts[0].Wildcard {
		call.RemoteTarget = req.Contacts[0].Uri
	}
	call.RemoteAddr = inv.Source
	call.Remote = inv.Remote
	call.connected = time.Now()
	ms := c.media.Stats()
	call.rtpBase = [2]uint64{ms.Sent, ms.Received}

	res := c.buildAnswer(inv, call.LocalTag).Serialize()
	if err := c.tp.SendTo(res, inv.Source); err != nil {
		return &CallError{Reason: "sending 200 OK", Err: err}
	}
	call.answer = res
	call.fire(trigAnswer)
	c.call = call
	c.pending = nil
	c.stats.incoming("answered")

	if call.Remote != nil {
		if err := c.media.Start(call.Remote.Address, call.Remote.Port); err != nil {
			log.Warn().Err(err).Str("call_id", call.ID).Msg("Starting RTP failed")
		}
	}
	log.Info().Str("call_id", call.ID).Str("remote_media", c.media.Remote()).Msg("Call answered")
	return nil
}

// Reject answers the pending invitation with 486. It reports false when
// there was nothing to reject.
func (c *Client) Reject(ctx context.Context) (bool, error) {
	var ok bool
	err := c.exec(ctx, func() { ok = c.rejectPending() })
	return ok, err
}

func (c *Client) rejectPending() bool {
	inv := c.pending
	if inv == nil {
		return false
	}
	c.reply(inv.Request, inv.Source, 486, "Busy Here", newTag())
	c.pending = nil
	c.stats.incoming("rejected")
	log.Info().Str("call_id", inv.CallID).Msg("Incoming call rejected")
	return true
}

func (c *Client) onAck(msg *sipmess.SIPMessage) {
	call := c.call
	if call == nil || call.Direction != Inbound || call.ID != msg.CallID {
		log.Debug().Str("call_id", msg.CallID).Msg("Ignoring ACK outside a dialog")
		return
	}
	if c.media.Active() {
		return
	}
	if call.Remote == nil && len(msg.Body) > 0 {
		desc, err := sdp.Parse(msg.Body)
		if err != nil {
			log.Warn().Err(err).Str("call_id", call.ID).Msg("ACK carries unusable SDP")
			return
		}
		call.Remote = desc
	}
	if call.Remote != nil {
		if err := c.media.Start(call.Remote.Address, call.Remote.Port); err != nil {
			log.Warn().Err(err).Str("call_id", call.ID).Msg("Starting RTP failed")
		}
	}
}

// onBye always answers 200 OK and clears call and invitation state.
func (c *Client) onBye(msg *sipmess.SIPMessage, src *net.UDPAddr) {
	c.reply(msg, src, 200, "OK", "")
	c.media.Stop()

	if c.pending != nil {
		log.Info().Str("call_id", c.pending.CallID).Msg("Pending call withdrawn by BYE")
		c.pending = nil
	}
	call := c.call
	if call == nil {
		log.Debug().Str("call_id", msg.CallID).Msg("BYE without active call")
		return
	}
	if call.established() {
		c.endCall(call, EndedByRemote, false)
		return
	}
	c.failCall(call, &CallError{Reason: "remote sent BYE before answer"})
}

func (c *Client) onCancel(msg *sipmess.SIPMessage, src *net.UDPAddr) {
	inv := c.pending
	if inv == nil || inv.CallID != msg.CallID {
		c.reply(msg, src, 481, "Call/Transaction Does Not Exist", "")
		return
	}
	c.reply(msg, src, 200, "OK", "")
	c.reply(inv.Request, inv.Source, 487, "Request Terminated", newTag())
	c.pending = nil
	c.stats.incoming("cancelled")
	log.Info().Str("call_id", inv.CallID).Msg("Incoming call cancelled")
}

func (c *Client) onOptions(msg *sipmess.SIPMessage, src *net.UDPAddr) {
	res := c.response(msg, 200, "OK", newTag())
	res.AddHeader(sipmess.Allow, allowMethods)
	res.AddOtherHeader("Accept", "application/sdp")
	if err := c.tp.SendTo(res.Serialize(), src); err != nil {
		log.Warn().Err(err).Msg("Answering OPTIONS failed")
	}
}
