package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T, consumers ...Consumer) (*Supervisor, *fakeDialer) {
	t.Helper()
	d := NewDispatcher(64, consumers...)
	startDispatcher(t, d)
	dialer := &fakeDialer{}
	sup, err := NewSupervisor(SupervisorConfig{Dial: dialer.Dial, Boundary: d})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sup.Close(ctx)
	})
	return sup, dialer
}

func TestNewSupervisorValidates(t *testing.T) {
	_, err := NewSupervisor(SupervisorConfig{Boundary: NewDispatcher(1)})
	assert.Error(t, err)
	_, err = NewSupervisor(SupervisorConfig{Dial: (&fakeDialer{}).Dial})
	assert.Error(t, err)
}

func TestSupervisorEmptyChannel(t *testing.T) {
	r := &recorder{}
	sup, dialer := newTestSupervisor(t, r)

	require.NoError(t, sup.Restart(context.Background(), ""))
	require.Eventually(t, func() bool { return sup.Status().State == StateTerminated.String() }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return r.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, dialer.count())
	assert.Equal(t, []string{"reset"}, r.entries(), "only the restart reset reaches consumers")
}

func TestSupervisorRestartMidStream(t *testing.T) {
	r := &recorder{}
	sup, dialer := newTestSupervisor(t, r)
	ctx := context.Background()

	require.NoError(t, sup.Restart(ctx, "Old"))
	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, time.Millisecond)
	old := dialer.conn(0)
	old.events <- privmsg("old", "o1", "u1", "a")
	old.events <- privmsg("old", "o2", "u1", "b")
	require.Eventually(t, func() bool { return r.len() == 3 }, time.Second, time.Millisecond)

	require.NoError(t, sup.Restart(ctx, "new"))
	require.Eventually(t, func() bool { return dialer.count() == 2 }, time.Second, time.Millisecond)
	// Late events on the old connection must never reach consumers after the reset.
	select {
	case old.events <- privmsg("old", "o3", "u1", "late"):
	default:
	}
	fresh := dialer.conn(1)
	fresh.events <- privmsg("new", "n1", "u2", "c")
	require.Eventually(t, func() bool { return r.len() == 5 }, time.Second, time.Millisecond)

	assert.Equal(t, []string{"reset", "msg:old:o1", "msg:old:o2", "reset", "msg:new:n1"}, r.entries())
	require.Eventually(t, old.isClosed, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, old.closes.Load())
	assert.Equal(t, "new", sup.Status().Channel)
	assert.Equal(t, uint64(2), sup.Status().Generation)
}

func TestSupervisorRepeatedRestartSameChannel(t *testing.T) {
	r := &recorder{}
	sup, dialer := newTestSupervisor(t, r)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, sup.Restart(ctx, "same"))
	}
	require.Eventually(t, func() bool { return dialer.count() == 3 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return r.len() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"reset", "reset", "reset"}, r.entries())

	// Sessions dial concurrently, so dial order says nothing about which
	// generation a connection belongs to. Exactly one must survive.
	openConns := func() []*fakeConn {
		var open []*fakeConn
		for i := 0; i < dialer.count(); i++ {
			if c := dialer.conn(i); !c.isClosed() {
				open = append(open, c)
			}
		}
		return open
	}
	require.Eventually(t, func() bool { return len(openConns()) == 1 }, time.Second, time.Millisecond)
	survivor := openConns()[0]
	assert.True(t, survivor.joined.Load())
	assert.Equal(t, "same", survivor.channel)

	survivor.events <- privmsg("same", "m1", "u", "x")
	require.Eventually(t, func() bool { return r.len() == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, "msg:same:m1", r.entries()[3], "the surviving connection belongs to the current session")
	assert.Equal(t, uint64(3), sup.Status().Generation)
}

func TestSupervisorApply(t *testing.T) {
	r := &recorder{}
	sup, dialer := newTestSupervisor(t, r)
	ctx := context.Background()

	require.NoError(t, sup.Apply(ctx, ChannelChanged{Channel: "#chan"}))
	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, sup.Apply(ctx, Reset{}))

	dialer.conn(0).events <- privmsg("chan", "m1", "u", "x")
	require.Eventually(t, func() bool { return r.len() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"reset", "reset", "msg:chan:m1"}, r.entries())
	assert.Equal(t, 1, dialer.count(), "Reset must not restart the session")
}

func TestSupervisorClose(t *testing.T) {
	sup, dialer := newTestSupervisor(t, &recorder{})
	ctx := context.Background()

	require.NoError(t, sup.Restart(ctx, "a"))
	require.Eventually(t, func() bool { return dialer.count() == 1 }, time.Second, time.Millisecond)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, sup.Close(closeCtx))
	assert.True(t, dialer.conn(0).isClosed())

	assert.ErrorIs(t, sup.Restart(ctx, "b"), ErrSupervisorClosed)
	assert.ErrorIs(t, sup.Apply(ctx, Reset{}), ErrSupervisorClosed)
}
