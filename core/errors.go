package core

import (
	"github.com/pkg/errors"
)

var (
	ErrClosed                 = errors.New("client closed")
	ErrNotRegistered          = errors.New("not registered")
	ErrRegistrationInProgress = errors.New("registration already in progress")
	ErrCallInProgress         = errors.New("a call is already active or pending")
	ErrNoPendingCall          = errors.New("no pending incoming call")
	ErrNoActiveCall           = errors.New("no active call")
	ErrReset                  = errors.New("client reset")
)

// RegistrationError is a registration that ended without success for a
// reason other than credentials.
type RegistrationError struct {
	StatusLine string
	Reason     string
	Err        error
}

func (e *RegistrationError) Error() string {
	return describe("registration failed", e.Reason, e.StatusLine, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// AuthenticationError is a registrar refusing the credentials or sending a
// challenge that cannot be answered.
type AuthenticationError struct {
	StatusLine string
	Reason     string
	Err        error
}

func (e *AuthenticationError) Error() string {
	return describe("authentication failed", e.Reason, e.StatusLine, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// CallError is an outbound call that failed for any reason other than an
// explicit rejection.
type CallError struct {
	StatusLine string
	Reason     string
	Err        error
}

func (e *CallError) Error() string {
	return describe("call failed", e.Reason, e.StatusLine, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// CallRejected is a final 404, 480, 486 or 603 to an outbound INVITE.
type CallRejected struct {
	StatusCode int
	StatusLine string
}

func (e *CallRejected) Error() string {
	return "call rejected: " + e.StatusLine
}

func describe(prefix, reason, statusLine string, err error) string {
	msg := prefix
	if reason != "" {
		msg += ": " + reason
	}
	if statusLine != "" {
		msg += " (" + statusLine + ")"
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}
