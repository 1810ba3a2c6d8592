package core

import (
	"context"
	"strconv"
	"testing"
	"time"

	"sipua/sdp"
	"sipua/sipmess"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callReturn struct {
	res *CallResult
	err error
}

func startCall(ctx context.Context, c *Client, number string, d time.Duration) <-chan callReturn {
	out := make(chan callReturn, 1)
	go func() {
		res, err := c.Call(ctx, number, d)
		out <- callReturn{res, err}
	}()
	return out
}

func waitCall(t *testing.T, out <-chan callReturn) callReturn {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "call did not finish")
		return callReturn{}
	}
}

func answerWith(sdpPort int, contactPort int) func(*sipmess.SIPMessage) {
	return func(m *sipmess.SIPMessage) {
		m.AddHeader(sipmess.Contact, "<sip:100@127.0.0.1:"+strconv.Itoa(contactPort)+">")
		withSDP(sdpPort)(m)
	}
}

func TestOperationsNeedState(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p)
	ctx := context.Background()

	_, err := c.Call(ctx, "100", time.Second)
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.ErrorIs(t, c.Hangup(ctx), ErrNoActiveCall)
	assert.ErrorIs(t, c.Answer(ctx), ErrNoPendingCall)

	rejected, err := c.Reject(ctx)
	require.NoError(t, err)
	assert.False(t, rejected)
}

func TestCallRejectedSendsNoAck(t *testing.T) {
	tests := []struct {
		code     int
		reason   string
		rejected bool
	}{
		{404, "Not Found", true},
		{486, "Busy Here", true},
		{603, "Decline", true},
		{500, "Server Internal Error", false},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			p := newPeer(t)
			c := newTestClient(t, p)
			register(t, c, p)

			out := startCall(context.Background(), c, "100", time.Second)
			inv, src := p.request(sipmess.Invite)
			p.reply(inv, src, 100, "Trying", nil)
			p.reply(inv, src, tt.code, tt.reason, nil)

			r := waitCall(t, out)
			require.Error(t, r.err)
			var rej *CallRejected
			if tt.rejected {
				require.True(t, errors.As(r.err, &rej), "got %v", r.err)
				assert.Equal(t, tt.code, rej.StatusCode)
			} else {
				var callErr *CallError
				require.True(t, errors.As(r.err, &callErr), "got %v", r.err)
				assert.False(t, errors.As(r.err, &rej))
			}

			p.none(300*time.Millisecond, isRequest(sipmess.Ack))

			stats, err := c.Statistics(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, stats.CallAttempts)
			assert.Equal(t, 1, stats.CallFailures)
		})
	}
}

func TestCallRunsForDuration(t *testing.T) {
	p := newPeer(t)
	sink := newRTPSink(t)
	c := newTestClient(t, p)
	register(t, c, p)

	out := startCall(context.Background(), c, "100", 300*time.Millisecond)
	inv, src := p.request(sipmess.Invite)
	assert.Equal(t, "sip:100@example.com", inv.Request.RequestURI.String())
	ct, _ := inv.GetFirst(sipmess.ContentType)
	assert.Equal(t, "application/sdp", ct)
	offer, err := sdp.Parse(inv.Body)
	require.NoError(t, err)
	assert.Equal(t, c.RTPPort(), offer.Port)
	assert.Equal(t, "127.0.0.1", offer.Address)

	p.reply(inv, src, 180, "Ringing", nil)
	p.reply(inv, src, 200, "OK", answerWith(sink.port(), p.port()))

	ack, _ := p.request(sipmess.Ack)
	assert.Equal(t, 1, ack.CSeq.Seq)
	assert.Equal(t, "peer-tag", ack.To.Tag())
	assert.Equal(t, inv.From.Tag(), ack.From.Tag())
	assert.Equal(t, "sip:100@127.0.0.1:"+strconv.Itoa(p.port()), ack.Request.RequestURI.String())
	assert.NotEqual(t, inv.Branch(), ack.Branch())

	pkt := sink.packet(t)
	assert.Len(t, pkt, 172)
	assert.Equal(t, byte(0x80), pkt[0])
	assert.Equal(t, byte(0), pkt[1]&0x7f)

	bye, src := p.request(sipmess.Bye)
	assert.Equal(t, inv.CallID, bye.CallID)
	assert.Equal(t, 2, bye.CSeq.Seq)
	assert.Equal(t, "peer-tag", bye.To.Tag())
	p.reply(bye, src, 200, "OK", nil)

	r := waitCall(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, EndedByDuration, r.res.EndedBy)
	assert.True(t, r.res.Media)
	assert.NotZero(t, r.res.RTPSent)
	assert.Equal(t, inv.CallID, r.res.CallID)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st.Call)
	assert.False(t, st.RTPActive)

	stats, err := c.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CallSuccesses)
	assert.False(t, stats.LastSuccessfulCall.IsZero())
}

func TestCallEndedByRemote(t *testing.T) {
	p := newPeer(t)
	sink := newRTPSink(t)
	c := newTestClient(t, p)
	register(t, c, p)

	out := startCall(context.Background(), c, "100", time.Minute)
	inv, src := p.request(sipmess.Invite)
	p.reply(inv, src, 200, "OK", answerWith(sink.port(), p.port()))
	p.request(sipmess.Ack)

	// A retransmitted 2xx is acknowledged again.
	p.reply(inv, src, 200, "OK", answerWith(sink.port(), p.port()))
	p.request(sipmess.Ack)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.Call)
	assert.Equal(t, StateEstablished, st.Call.State)
	assert.Equal(t, Outbound, st.Call.Direction)

	bye := p.dialogRequest(sipmess.Bye, inv.CallID, inv.To.WithTag("peer-tag"), inv.From, 1)
	p.send(bye, src)
	p.responseTo(inv.CallID, sipmess.Bye, 200)

	r := waitCall(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, EndedByRemote, r.res.EndedBy)
	p.none(200*time.Millisecond, isRequest(sipmess.Bye))
}

func TestCallCancelledBeforeAnswer(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p)
	register(t, c, p)

	ctx, cancel := context.WithCancel(context.Background())
	out := startCall(ctx, c, "100", time.Second)
	inv, src := p.request(sipmess.Invite)
	p.reply(inv, src, 180, "Ringing", nil)
	cancel()

	r := waitCall(t, out)
	assert.ErrorIs(t, r.err, context.Canceled)

	require.Eventually(t, func() bool {
		st, err := c.Status(context.Background())
		return err == nil && st.Call == nil && st.Transactions == 0
	}, 2*time.Second, 20*time.Millisecond)
	p.none(200*time.Millisecond, func(m *sipmess.SIPMessage) bool {
		return m.Request != nil && (m.Request.Method == sipmess.Bye || m.Request.Method == sipmess.Ack)
	})
}

func TestHangupEstablishedCall(t *testing.T) {
	p := newPeer(t)
	sink := newRTPSink(t)
	c := newTestClient(t, p)
	register(t, c, p)

	out := startCall(context.Background(), c, "100", time.Minute)
	inv, src := p.request(sipmess.Invite)
	p.reply(inv, src, 200, "OK", answerWith(sink.port(), p.port()))
	p.request(sipmess.Ack)
	sink.packet(t)

	require.NoError(t, c.Hangup(context.Background()))
	bye, src := p.request(sipmess.Bye)
	p.reply(bye, src, 200, "OK", nil)

	r := waitCall(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, EndedByLocal, r.res.EndedBy)
}

func TestResetClearsStatistics(t *testing.T) {
	p := newPeer(t)
	c := newTestClient(t, p)
	register(t, c, p)

	require.NoError(t, c.Reset(context.Background()))

	stats, err := c.Statistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.RegistrationAttempts)
	ok, err := c.Registered(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
