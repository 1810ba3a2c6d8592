// Package siptrans implements UDP client transactions: retransmission with
// exponential backoff, absolute timeouts and routing of responses by branch.
//
// A Manager is not safe for concurrent use. Timers do not touch transaction
// state; they post TimerEvents to a channel and the goroutine that owns the
// Manager feeds them back through HandleTimer.
package siptrans

import (
	"net"
	"time"

	"sipua/sipmess"

	"github.com/rs/zerolog/log"
)

// Sender writes a datagram. *siptransp.Transport implements it.
type Sender interface {
	SendTo(b []byte, addr *net.UDPAddr) error
}

type Manager struct {
	sender  Sender
	dest    *net.UDPAddr
	timings Timings
	events  chan<- TimerEvent
	done    chan struct{}
	txs     map[string]*Transaction
}

// NewManager returns a manager sending to dest unless a transaction sets its
// own destination. Timer events are delivered on events.
func NewManager(sender Sender, dest *net.UDPAddr, events chan<- TimerEvent, timings Timings) *Manager {
	return &Manager{
		sender:  sender,
		dest:    dest,
		timings: timings.withDefaults(),
		events:  events,
		done:    make(chan struct{}),
		txs:     make(map[string]*Transaction),
	}
}

func (m *Manager) Timings() Timings { return m.timings }

// Len returns the number of live transactions.
func (m *Manager) Len() int { return len(m.txs) }

// Get returns the live transaction for branch.
func (m *Manager) Get(branch string) (*Transaction, bool) {
	tx, ok := m.txs[branch]
	return tx, ok
}

// Create registers a transaction. onMessage receives every response routed
// to it. onError is called at most once, after the transaction has been
// removed, when it ends abnormally.
func (m *Manager) Create(branch string, method sipmess.SIPMethod, message []byte,
	onMessage func(*sipmess.SIPMessage), onError func(error)) (*Transaction, error) {
	if _, ok := m.txs[branch]; ok {
		return nil, ErrDuplicateBranch
	}
	tx := &Transaction{
		Branch:     branch,
		Method:     method,
		Message:    message,
		state:      Calling,
		interval:   m.timings.T1,
		created:    time.Now(),
		retransmit: newTransTimer(TimerRetransmit),
		timeout:    newTransTimer(TimerTimeout),
		onMessage:  onMessage,
		onError:    onError,
	}
	m.txs[branch] = tx
	log.Trace().Str("transaction_id", branch).Str("method", method.String()).Msg("Creating client transaction")
	return tx, nil
}

// Send transmits the request and arms the timers. A send failure terminates
// the transaction, reports it through onError and is also returned.
func (m *Manager) Send(tx *Transaction) error {
	if tx.completed || tx.terminated {
		return ErrTerminated
	}
	if err := m.write(tx); err != nil {
		m.Terminate(tx.Branch, err)
		return err
	}
	if tx.completed || tx.terminated {
		return nil
	}
	if !tx.timeout.armed() {
		tx.timeout.start(policyFor(tx.Method, m.timings).timeout, m.poster(tx.Branch))
	}
	if !tx.retransmitStopped {
		tx.retransmit.start(tx.interval, m.poster(tx.Branch))
	}
	return nil
}

func (m *Manager) write(tx *Transaction) error {
	dest := tx.Dest
	if dest == nil {
		dest = m.dest
	}
	log.Trace().Str("transaction_id", tx.Branch).Str("dest", dest.String()).
		Int("retransmits", tx.retransmits).Msg("Sending request")
	return m.sender.SendTo(tx.Message, dest)
}

func (m *Manager) poster(branch string) func(TimerKind, uint64) {
	return func(kind TimerKind, gen uint64) {
		select {
		case m.events <- TimerEvent{Branch: branch, Kind: kind, Gen: gen}:
		case <-m.done:
		}
	}
}

// OnResponse applies a response status to the transaction's timers and state.
func (m *Manager) OnResponse(branch string, statusCode int) {
	tx, ok := m.txs[branch]
	if !ok || tx.terminated {
		return
	}
	p := policyFor(tx.Method, m.timings)

	switch {
	case statusCode < 200:
		if p.stopOnProvisional {
			// The absolute ceiling keeps running while ringing.
			tx.retransmit.stop()
			tx.retransmitStopped = true
		}
		if tx.state == Calling {
			tx.state = Proceeding
		}
	case p.stopOnChallenge && (statusCode == 401 || statusCode == 407):
		tx.retransmit.stop()
		tx.retransmitStopped = true
	default:
		tx.retransmit.stop()
		tx.timeout.stop()
		tx.retransmitStopped = true
		tx.completed = true
		tx.state = Completed
	}
	log.Trace().Str("transaction_id", branch).Int("status", statusCode).Str("state", tx.state.String()).Msg("Response applied")
}

// Dispatch routes a response to the transaction named by its top Via branch
// and CSeq method. A final response completes and then terminates the
// transaction after the subscriber has seen it. It reports whether a
// transaction took the response.
func (m *Manager) Dispatch(msg *sipmess.SIPMessage) bool {
	if msg.Response == nil {
		return false
	}
	branch := msg.Branch()
	tx, ok := m.txs[branch]
	if !ok || tx.Method != msg.CSeq.Method {
		return false
	}

	m.OnResponse(branch, msg.Response.StatusCode)
	if tx.onMessage != nil {
		tx.onMessage(msg)
	}
	if tx.completed && !tx.terminated {
		m.Terminate(branch, nil)
	}
	return true
}

// Terminate removes the transaction, stops its timers and, when err is
// non-nil, reports err through onError once.
func (m *Manager) Terminate(branch string, err error) {
	tx, ok := m.txs[branch]
	if !ok {
		return
	}
	delete(m.txs, branch)
	tx.retransmit.stop()
	tx.timeout.stop()
	tx.terminated = true
	tx.state = Terminated

	if err != nil {
		log.Debug().Err(err).Str("transaction_id", branch).Str("method", tx.Method.String()).Msg("Transaction failed")
	} else {
		log.Trace().Str("transaction_id", branch).Msg("Transaction terminated")
	}
	if err != nil && tx.onError != nil && !tx.errorReported {
		tx.errorReported = true
		tx.onError(err)
	}
}

// TerminateAll terminates every live transaction without reporting errors.
func (m *Manager) TerminateAll() {
	branches := make([]string, 0, len(m.txs))
	for b := range m.txs {
		branches = append(branches, b)
	}
	for _, b := range branches {
		m.Terminate(b, nil)
	}
}

// HandleTimer processes a fired timer. Events for unknown, finished or
// re-armed timers are ignored.
func (m *Manager) HandleTimer(ev TimerEvent) {
	tx, ok := m.txs[ev.Branch]
	if !ok || tx.completed || tx.terminated {
		log.Trace().Str("transaction_id", ev.Branch).Str("timer", ev.Kind.String()).Msg("Ignoring stale timer")
		return
	}
	p := policyFor(tx.Method, m.timings)

	switch ev.Kind {
	case TimerTimeout:
		if ev.Gen != tx.timeout.gen {
			return
		}
		m.Terminate(tx.Branch, &TimeoutError{
			Branch: tx.Branch, Method: tx.Method, Retransmits: tx.retransmits, Elapsed: time.Since(tx.created),
		})
	case TimerRetransmit:
		if ev.Gen != tx.retransmit.gen || tx.retransmitStopped {
			return
		}
		if tx.retransmits >= p.maxRetransmits {
			m.Terminate(tx.Branch, &TimeoutError{
				Branch: tx.Branch, Method: tx.Method, Retransmits: tx.retransmits, Elapsed: time.Since(tx.created),
			})
			return
		}
		tx.retransmits++
		tx.interval = nextInterval(tx.interval, m.timings.T2)
		if err := m.write(tx); err != nil {
			m.Terminate(tx.Branch, err)
			return
		}
		tx.retransmit.start(tx.interval, m.poster(tx.Branch))
	}
}

// Close terminates everything and releases timers blocked on the event
// channel.
func (m *Manager) Close() {
	m.TerminateAll()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}
