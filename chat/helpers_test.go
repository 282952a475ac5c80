package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// fakeConn is an in-memory Conn fed by the test through events.
type fakeConn struct {
	channel string
	joinErr error

	events    chan twitch.Message
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
	joined    atomic.Bool
}

func newFakeConn(channel string) *fakeConn {
	return &fakeConn{
		channel: channel,
		events:  make(chan twitch.Message, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Join(ctx context.Context, channel string) error {
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joined.Store(true)
	return nil
}

func (c *fakeConn) Next(ctx context.Context) (twitch.Message, error) {
	select {
	case m, ok := <-c.events:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-c.closed:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out a fresh fakeConn per dial and remembers them in order.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	joinErr error
}

func (d *fakeDialer) Dial(ctx context.Context, channel string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newFakeConn(channel)
	c.joinErr = d.joinErr
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// recorder is a Consumer that logs every call as a string.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) OnMessage(m Message) {
	r.append(fmt.Sprintf("msg:%s:%s", m.Channel, m.ID))
}

func (r *recorder) OnCleared(c ClearMessage) {
	r.append("clear:" + c.ID)
}

func (r *recorder) OnReset() { r.append("reset") }

func (r *recorder) append(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

// sinkFunc adapts a function to Sink.
type sinkFunc func(ctx context.Context, gen uint64, ev Event) error

func (f sinkFunc) Deliver(ctx context.Context, gen uint64, ev Event) error { return f(ctx, gen, ev) }

// collectSink stores delivered events.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	gens   []uint64
}

func (s *collectSink) Deliver(_ context.Context, gen uint64, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.gens = append(s.gens, gen)
	s.mu.Unlock()
	return nil
}

func (s *collectSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func privmsg(channel, id, userID, text string) *twitch.PrivateMessage {
	return &twitch.PrivateMessage{
		User:    twitch.User{ID: userID, Name: userID, DisplayName: userID},
		Channel: channel,
		ID:      id,
		Message: text,
		Time:    time.Unix(1700000000, 0),
	}
}

func clearmsg(channel, id string) *twitch.ClearMessage {
	return &twitch.ClearMessage{Channel: channel, TargetMsgID: id, Login: "someone", Message: "gone"}
}

// startDispatcher runs d until the test ends.
func startDispatcher(t interface{ Cleanup(func()) }, d *Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}
