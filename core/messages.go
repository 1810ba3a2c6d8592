package core

import (
	"strconv"

	"sipua/sdp"
	"sipua/sipmess"
)

const allowMethods = "INVITE, ACK, CANCEL, BYE, OPTIONS"

func (c *Client) via(branch string) string {
	return sipmess.SIPVia{
		Proto:  "SIP/2.0/UDP",
		Domain: c.localIP,
		Port:   c.tp.LocalPort(),
		Params: sipmess.Params{{Name: "rport"}, {Name: "branch", Value: branch}},
	}.String()
}

func (c *Client) aor() sipmess.SIPUri {
	return sipmess.SIPUri{Scheme: "sip", User: c.cfg.Username, Domain: c.cfg.Domain, Port: -1}
}

func (c *Client) contact() string {
	uri := sipmess.SIPUri{Scheme: "sip", User: c.cfg.Username, Domain: c.localIP, Port: c.tp.LocalPort()}
	return "<" + uri.String() + ">"
}

func (c *Client) registrarURI() sipmess.SIPUri {
	return sipmess.SIPUri{Scheme: "sip", Domain: c.cfg.Domain, Port: -1}
}

// newRequest starts a request with the headers every outgoing request shares.
func (c *Client) newRequest(method sipmess.SIPMethod, uri sipmess.SIPUri, branch string,
	from, to sipmess.SIPFromTo, callID string, cseq int) *sipmess.SIPMessage {
	msg := sipmess.NewRequest(method, uri)
	msg.AddHeader(sipmess.Via, c.via(branch))
	msg.AddHeader(sipmess.MaxForwards, "70")
	msg.AddHeader(sipmess.From, from.String())
	msg.AddHeader(sipmess.To, to.String())
	msg.AddHeader(sipmess.CallID, callID)
	msg.AddHeader(sipmess.CSeq, sipmess.SIPCseq{Method: method, Seq: cseq}.String())
	return msg
}

func (c *Client) buildRegister(branch string, expires int, authHeader sipmess.SIPHeader, auth string) *sipmess.SIPMessage {
	aor := sipmess.SIPFromTo{Uri: c.aor()}
	msg := c.newRequest(sipmess.Register, c.registrarURI(), branch,
		aor.WithTag(c.reg.fromTag), aor, c.reg.callID, c.reg.cseq)
	msg.AddHeader(sipmess.Contact, c.contact())
	msg.AddHeader(sipmess.Expires, strconv.Itoa(expires))
	msg.AddHeader(sipmess.Allow, allowMethods)
	msg.AddHeader(sipmess.UserAgent, c.cfg.UserAgent)
	if auth != "" {
		msg.AddHeader(authHeader, auth)
	}
	return msg
}

func (c *Client) buildInvite(call *Call, branch string) *sipmess.SIPMessage {
	msg := c.newRequest(sipmess.Invite, call.RemoteURI, branch,
		sipmess.SIPFromTo{Uri: call.LocalURI}.WithTag(call.LocalTag),
		sipmess.SIPFromTo{Uri: call.RemoteURI}, call.ID, call.cseq)
	msg.AddHeader(sipmess.Contact, c.contact())
	msg.AddHeader(sipmess.Allow, allowMethods)
	msg.AddHeader(sipmess.UserAgent, c.cfg.UserAgent)
	msg.AddHeader(sipmess.ContentType, "application/sdp")
	msg.Body = sdp.Generate(sdp.Options{
		Username: c.cfg.Username,
		Address:  c.localIP,
		Port:     c.media.LocalPort(),
		Offer:    true,
	})
	return msg
}

// buildAck acknowledges a 2xx. It is a new transaction with its own branch
// and the INVITE's sequence number.
func (c *Client) buildAck(call *Call) *sipmess.SIPMessage {
	return c.newRequest(sipmess.Ack, call.RemoteTarget, newBranch(),
		sipmess.SIPFromTo{Uri: call.LocalURI}.WithTag(call.LocalTag),
		sipmess.SIPFromTo{Uri: call.RemoteURI}.WithTag(call.RemoteTag), call.ID, call.inviteSeq)
}

func (c *Client) buildBye(call *Call, branch string) *sipmess.SIPMessage {
	call.cseq++
	to := sipmess.SIPFromTo{Uri: call.RemoteURI}
	if call.RemoteTag != "" {
		to = to.WithTag(call.RemoteTag)
	}
	msg := c.newRequest(sipmess.Bye, call.RemoteTarget, branch,
		sipmess.SIPFromTo{Uri: call.LocalURI}.WithTag(call.LocalTag), to, call.ID, call.cseq)
	msg.AddHeader(sipmess.UserAgent, c.cfg.UserAgent)
	return msg
}

// buildAnswer is the 200 OK to an inbound INVITE, carrying our To-tag and
// SDP answer.
func (c *Client) buildAnswer(inv *Invitation, localTag string) *sipmess.SIPMessage {
	res := c.response(inv.Request, 200, "OK", localTag)
	res.AddHeader(sipmess.Contact, c.contact())
	res.AddHeader(sipmess.Allow, allowMethods)
	res.AddHeader(sipmess.ContentType, "application/sdp")
	res.Body = sdp.Generate(sdp.Options{
		Username: c.cfg.Username,
		Address:  c.localIP,
		Port:     c.media.LocalPort(),
	})
	return res
}

// response echoes the request's Via, Record-Route and dialog headers and adds
// a To-tag when the request had none and toTag is set.
func (c *Client) response(req *sipmess.SIPMessage, code int, reason, toTag string) *sipmess.SIPMessage {
	res := sipmess.MakeResponse(req, code, reason)
	if toTag != "" && req.To.Tag() == "" {
		res.SetHeader(sipmess.To, req.To.WithTag(toTag).String())
	}
	res.AddHeader(sipmess.UserAgent, c.cfg.UserAgent)
	return res
}
