package siptrans

import (
	"time"

	"sipua/sipmess"
)

// Timings holds the base timer values. Zero fields take RFC 3261 defaults.
type Timings struct {
	T1 time.Duration
	T2 time.Duration
	// InviteTimeout and NonInviteTimeout bound a transaction regardless of
	// retransmissions. They default to 64*T1 and 32*T1.
	InviteTimeout    time.Duration
	NonInviteTimeout time.Duration
}

func (t Timings) withDefaults() Timings {
	if t.T1 <= 0 {
		t.T1 = T1
	}
	if t.T2 <= 0 {
		t.T2 = T2
	}
	if t.InviteTimeout <= 0 {
		t.InviteTimeout = 64 * t.T1
	}
	if t.NonInviteTimeout <= 0 {
		t.NonInviteTimeout = 32 * t.T1
	}
	return t
}

type policy struct {
	maxRetransmits int
	timeout        time.Duration
	// stopOnProvisional: a 1xx ends retransmission.
	stopOnProvisional bool
	// stopOnChallenge: a 401/407 ends retransmission without completing.
	stopOnChallenge bool
}

func policyFor(method sipmess.SIPMethod, t Timings) policy {
	if method == sipmess.Invite {
		return policy{
			maxRetransmits:    MaxInviteRetransmits,
			timeout:           t.InviteTimeout,
			stopOnProvisional: true,
		}
	}
	return policy{
		maxRetransmits:  MaxNonInviteRetransmits,
		timeout:         t.NonInviteTimeout,
		stopOnChallenge: true,
	}
}
