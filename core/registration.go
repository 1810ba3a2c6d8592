package core

import (
	"context"
	"time"

	"sipua/sipauth"
	"sipua/sipmess"

	"github.com/rs/zerolog/log"
)

// registration is the REGISTER dialog state. A new Call-ID and From-tag are
// drawn for every Register call; the digest retry keeps both.
type registration struct {
	callID     string
	fromTag    string
	cseq       int
	branch     string
	registered bool
	inFlight   bool
	challenged bool
	attempt    uint64
	timer      *time.Timer
	result     chan<- error
}

// registrationTimeout bounds a whole Register call including the digest
// round trip.
func (c *Client) registrationTimeout() time.Duration {
	return max(32*c.cfg.T1+5*time.Second, 20*time.Second)
}

// Register sends REGISTER, answers one digest challenge and waits for the
// outcome. A Register while another is in flight fails with
// ErrRegistrationInProgress.
func (c *Client) Register(ctx context.Context) error {
	result := make(chan error, 1)
	var attempt uint64
	if err := c.exec(ctx, func() { attempt = c.startRegistration(result) }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		c.post(func() {
			if c.reg.inFlight && c.reg.attempt == attempt {
				c.finishRegistration(&RegistrationError{Reason: "cancelled", Err: ctx.Err()})
			}
		})
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Registered reports the last known registration state.
func (c *Client) Registered(ctx context.Context) (bool, error) {
	var ok bool
	err := c.exec(ctx, func() { ok = c.reg.registered })
	return ok, err
}

func (c *Client) startRegistration(result chan<- error) uint64 {
	if c.reg.inFlight {
		result <- ErrRegistrationInProgress
		return 0
	}

	c.reg.attempt++
	attempt := c.reg.attempt
	c.reg.callID = newCallID(c.localIP)
	c.reg.fromTag = newTag()
	c.reg.cseq = 1
	c.reg.challenged = false
	c.reg.inFlight = true
	c.reg.result = result
	c.reg.timer = c.schedule(c.registrationTimeout(), func() {
		if c.reg.inFlight && c.reg.attempt == attempt {
			c.finishRegistration(&RegistrationError{Reason: "no final response before timeout"})
		}
	})
	c.stats.registrationAttempt()

	log.Info().Str("call_id", c.reg.callID).Str("aor", c.aor().String()).Msg("Registering")
	c.sendRegister(c.cfg.Expires, 0, "")
	return attempt
}

func (c *Client) sendRegister(expires int, authHeader sipmess.SIPHeader, auth string) {
	branch := newBranch()
	c.reg.branch = branch
	msg := c.buildRegister(branch, expires, authHeader, auth)

	tx, err := c.txm.Create(branch, sipmess.Register, msg.Serialize(), c.onRegisterResponse, c.onRegisterError)
	if err != nil {
		c.finishRegistration(&RegistrationError{Reason: "creating transaction", Err: err})
		return
	}
	_ = c.txm.Send(tx)
}

func (c *Client) onRegisterError(err error) {
	if !c.reg.inFlight {
		return
	}
	c.finishRegistration(&RegistrationError{Reason: "REGISTER transaction failed", Err: err})
}

func (c *Client) onRegisterResponse(msg *sipmess.SIPMessage) {
	if !c.reg.inFlight || msg.CallID != c.reg.callID {
		return
	}
	code := msg.StatusCode()
	log.Debug().Str("call_id", msg.CallID).Str("status", msg.StatusLine()).Msg("REGISTER response")

	switch {
	case code < 200:
		return
	case code < 300:
		c.finishRegistration(nil)
	case code == 401 || code == 407:
		c.answerChallenge(msg)
	case code == 403:
		c.finishRegistration(&AuthenticationError{StatusLine: msg.StatusLine(), Reason: "registrar refused credentials"})
	default:
		c.finishRegistration(&RegistrationError{StatusLine: msg.StatusLine()})
	}
}

func (c *Client) answerChallenge(msg *sipmess.SIPMessage) {
	if c.reg.challenged {
		c.finishRegistration(&AuthenticationError{StatusLine: msg.StatusLine(), Reason: "credentials rejected"})
		return
	}
	c.reg.challenged = true

	// The challenged transaction and anything else outstanding is dropped
	// before the authenticated retry goes out.
	c.txm.TerminateAll()

	challengeHeader, authHeader := sipmess.WWWAuthenticate, sipmess.Authorization
	if msg.StatusCode() == 407 {
		challengeHeader, authHeader = sipmess.ProxyAuthenticate, sipmess.ProxyAuthorization
	}
	raw, ok := msg.GetFirst(challengeHeader)
	if !ok {
		c.finishRegistration(&AuthenticationError{StatusLine: msg.StatusLine(), Reason: "challenge header missing"})
		return
	}
	chal, err := sipauth.ParseChallenge(raw)
	if err != nil {
		c.finishRegistration(&AuthenticationError{StatusLine: msg.StatusLine(), Reason: "unparseable challenge", Err: err})
		return
	}
	auth, err := sipauth.Authorize(chal, sipmess.Register.String(), c.registrarURI().String(), c.cfg.Username, c.cfg.Password)
	if err != nil {
		c.finishRegistration(&AuthenticationError{StatusLine: msg.StatusLine(), Reason: "cannot answer challenge", Err: err})
		return
	}

	log.Debug().Str("realm", chal.Realm).Str("call_id", c.reg.callID).Msg("Answering digest challenge")
	c.reg.cseq++
	c.sendRegister(c.cfg.Expires, authHeader, auth)
}

func (c *Client) finishRegistration(err error) {
	if !c.reg.inFlight {
		return
	}
	c.reg.inFlight = false
	if c.reg.timer != nil {
		c.reg.timer.Stop()
		c.reg.timer = nil
	}
	if c.reg.branch != "" {
		c.txm.Terminate(c.reg.branch, nil)
	}
	c.reg.registered = err == nil
	c.stats.registrationResult(err)

	if err != nil {
		log.Error().Err(err).Str("call_id", c.reg.callID).Msg("Registration failed")
	} else {
		log.Info().Str("aor", c.aor().String()).Int("expires", c.cfg.Expires).Msg("Registered")
	}

	if c.reg.result != nil {
		select {
		case c.reg.result <- err:
		default:
		}
		c.reg.result = nil
	}
}

// unregister sends REGISTER with Expires: 0 without waiting for the answer.
func (c *Client) unregister() {
	c.reg.cseq++
	msg := c.buildRegister(newBranch(), 0, 0, "")
	if err := c.tp.Send(msg.Serialize()); err != nil {
		log.Warn().Err(err).Msg("Unregister failed")
		return
	}
	c.reg.registered = false
	log.Info().Str("aor", c.aor().String()).Msg("Unregistered")
}
