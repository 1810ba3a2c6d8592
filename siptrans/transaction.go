package siptrans

import (
	"fmt"
	"net"
	"time"

	"sipua/sipmess"

	"github.com/pkg/errors"
)

type State int

const (
	Calling State = iota
	Proceeding
	Completed
	Terminated
)

func (s State) String() string {
	switch s {
	case Calling:
		return "Calling"
	case Proceeding:
		return "Proceeding"
	case Completed:
		return "Completed"
	default:
		return "Terminated"
	}
}

var (
	ErrDuplicateBranch = errors.New("transaction with this branch already exists")
	ErrTerminated      = errors.New("transaction is completed or terminated")
)

// TimeoutError is reported when a transaction gives up waiting for a final
// response.
type TimeoutError struct {
	Branch      string
	Method      sipmess.SIPMethod
	Retransmits int
	Elapsed     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s transaction %s timed out after %d retransmissions (%s)",
		e.Method, e.Branch, e.Retransmits, e.Elapsed.Round(time.Millisecond))
}

// Transaction is a client transaction. Its fields are owned by the Manager
// and must only be touched from the goroutine driving it.
type Transaction struct {
	Branch  string
	Method  sipmess.SIPMethod
	Message []byte
	// Dest overrides the manager's default destination when set.
	Dest *net.UDPAddr

	state       State
	retransmits int
	interval    time.Duration
	created     time.Time

	retransmit        *transTimer
	timeout           *transTimer
	retransmitStopped bool
	completed         bool
	terminated        bool
	errorReported     bool

	onMessage func(*sipmess.SIPMessage)
	onError   func(error)
}

func (tx *Transaction) State() State            { return tx.state }
func (tx *Transaction) Retransmits() int        { return tx.retransmits }
func (tx *Transaction) Interval() time.Duration { return tx.interval }
