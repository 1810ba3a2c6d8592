package siptrans

import (
	"time"

	"go.uber.org/atomic"
)

// RFC 3261 timer values.
const (
	T1 = 500 * time.Millisecond
	T2 = 4 * time.Second
)

// Retransmission caps.
const (
	MaxInviteRetransmits    = 6
	MaxNonInviteRetransmits = 10
)

type TimerKind int

const (
	TimerRetransmit TimerKind = iota
	TimerTimeout
)

func (k TimerKind) String() string {
	if k == TimerRetransmit {
		return "retransmit"
	}
	return "timeout"
}

// TimerEvent is posted to the owner's queue when a transaction timer fires.
// Gen identifies the arming so that a late event can be recognised as stale.
type TimerEvent struct {
	Branch string
	Kind   TimerKind
	Gen    uint64
}

// Generations are unique across all transactions so a stale event can never
// match a newer transaction that reuses the branch.
var timerGen atomic.Uint64

type transTimer struct {
	kind     TimerKind
	timer    *time.Timer
	gen      uint64
	Duration time.Duration
}

func newTransTimer(kind TimerKind) *transTimer {
	return &transTimer{kind: kind}
}

// start (re)arms the timer. fire runs on the timer goroutine.
func (t *transTimer) start(d time.Duration, fire func(kind TimerKind, gen uint64)) {
	t.stop()
	gen := timerGen.Inc()
	t.gen = gen
	t.Duration = d
	kind := t.kind
	t.timer = time.AfterFunc(d, func() { fire(kind, gen) })
}

func (t *transTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen = 0
}

func (t *transTimer) armed() bool {
	return t.timer != nil
}

func nextInterval(cur, ceiling time.Duration) time.Duration {
	return min(cur*2, ceiling)
}
