package core

import (
	"sipua/sipmess"
	"sipua/siptransp"

	"github.com/rs/zerolog/log"
)

// handlePacket routes one inbound datagram. Responses go to the transaction
// that owns their branch; requests to the dialog handlers.
func (c *Client) handlePacket(pkt siptransp.Packet) {
	msg, err := sipmess.ParseSipMessage(pkt.Data)
	if err != nil {
		log.Warn().Err(err).Str("source", pkt.Source.String()).Int("bytes", len(pkt.Data)).Msg("Dropping malformed SIP message")
		return
	}

	if msg.Response != nil {
		if c.txm.Dispatch(msg) {
			return
		}
		if c.reackCall(msg) {
			return
		}
		log.Debug().Str("call_id", msg.CallID).Str("status", msg.StatusLine()).Msg("Response matches no transaction")
		return
	}

	log.Debug().Str("method", msg.Request.MethodName()).Str("call_id", msg.CallID).
		Str("source", pkt.Source.String()).Msg("Request received")
	switch msg.Request.Method {
	case sipmess.Invite:
		c.onInvite(msg, pkt.Source)
	case sipmess.Ack:
		c.onAck(msg)
	case sipmess.Bye:
		c.onBye(msg, pkt.Source)
	case sipmess.Cancel:
		c.onCancel(msg, pkt.Source)
	case sipmess.Options:
		c.onOptions(msg, pkt.Source)
	default:
		c.reply(msg, pkt.Source, 501, "Not Implemented", "")
	}
}
