package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

var (
	// ErrEmptyChannel is returned when joining without a channel name.
	ErrEmptyChannel = errors.New("chat: empty channel")
	// ErrConnClosed is returned by a Conn after Close.
	ErrConnClosed = errors.New("chat: connection closed")
	// ErrJoinTimeout is returned when the connection is not established in time.
	ErrJoinTimeout = errors.New("chat: join timed out")
)

// Conn is one protocol connection bound to a channel. Next yields raw events
// in arrival order; any error from Next means the stream has ended.
type Conn interface {
	Join(ctx context.Context, channel string) error
	Next(ctx context.Context) (twitch.Message, error)
	Close() error
}

// Dialer opens a new, independent Conn for a channel.
type Dialer func(ctx context.Context, channel string) (Conn, error)

// IRCOptions configures DialIRC. Zero values use the library defaults.
type IRCOptions struct {
	// Address overrides the IRC endpoint (host:port).
	Address string
	// DisableTLS connects over plain TCP.
	DisableTLS bool
	// JoinTimeout bounds how long Join waits for the connection. Default 15s.
	JoinTimeout time.Duration
	// Buffer is the number of raw events held between the reader and Next. Default 256.
	Buffer int
}

// DialIRC returns a Dialer backed by an anonymous go-twitch-irc client.
func DialIRC(opts IRCOptions) Dialer {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 15 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	return func(ctx context.Context, channel string) (Conn, error) {
		if channel == "" {
			return nil, ErrEmptyChannel
		}
		client := twitch.NewAnonymousClient()
		if opts.Address != "" {
			client.IrcAddress = opts.Address
		}
		client.TLS = !opts.DisableTLS
		return newIRCConn(client, opts), nil
	}
}

// ircConn turns go-twitch-irc's callback API into a pull-based stream.
type ircConn struct {
	client      *twitch.Client
	joinTimeout time.Duration

	events    chan twitch.Message
	connected chan struct{}
	connErr   chan error
	closed    chan struct{}

	connectOnce sync.Once
	closeOnce   sync.Once
	joinedOnce  sync.Once

	mu  sync.Mutex
	err error
}

func newIRCConn(client *twitch.Client, opts IRCOptions) *ircConn {
	c := &ircConn{
		client:      client,
		joinTimeout: opts.JoinTimeout,
		events:      make(chan twitch.Message, opts.Buffer),
		connected:   make(chan struct{}),
		connErr:     make(chan error, 1),
		closed:      make(chan struct{}),
	}

	client.OnConnect(func() {
		// Close may have run while the handshake was in flight, when
		// Disconnect still reports ErrConnectionIsNotOpen.
		select {
		case <-c.closed:
			_ = c.client.Disconnect()
			return
		default:
		}
		c.joinedOnce.Do(func() { close(c.connected) })
	})
	client.OnPrivateMessage(func(m twitch.PrivateMessage) { c.push(&m) })
	client.OnClearMessage(func(m twitch.ClearMessage) { c.push(&m) })
	// The remaining kinds are forwarded so that filtering happens in one place.
	client.OnClearChatMessage(func(m twitch.ClearChatMessage) { c.push(&m) })
	client.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) { c.push(&m) })
	client.OnRoomStateMessage(func(m twitch.RoomStateMessage) { c.push(&m) })
	client.OnNoticeMessage(func(m twitch.NoticeMessage) { c.push(&m) })
	client.OnReconnectMessage(func(m twitch.ReconnectMessage) {
		slog.Info("twitch server requested reconnect", slog.String("component", "chat_conn"))
		c.push(&m)
	})

	return c
}

// push runs on the client's reader goroutine. It blocks while the buffer is
// full so no event is lost, and gives up once the connection is closed.
func (c *ircConn) push(m twitch.Message) {
	select {
	case c.events <- m:
	case <-c.closed:
	}
}

func (c *ircConn) Join(ctx context.Context, channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.client.Join(channel)
	c.connectOnce.Do(func() {
		go func() {
			c.connErr <- c.client.Connect()
		}()
	})

	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()

	select {
	case <-c.connected:
		return nil
	case err := <-c.connErr:
		c.setErr(err)
		return fmt.Errorf("join %s: %w", channel, err)
	case <-timer.C:
		return fmt.Errorf("join %s: %w", channel, ErrJoinTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrConnClosed
	}
}

func (c *ircConn) Next(ctx context.Context) (twitch.Message, error) {
	for {
		select {
		case <-c.closed:
			return nil, ErrConnClosed
		default:
		}
		// Events already buffered are handed out before a terminal error.
		select {
		case m := <-c.events:
			return m, nil
		default:
		}
		if err := c.getErr(); err != nil {
			return nil, err
		}
		select {
		case m := <-c.events:
			return m, nil
		case err := <-c.connErr:
			c.setErr(err)
		case <-c.closed:
			return nil, ErrConnClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases the connection. A connection still waiting for the server
// welcome is disconnected by the OnConnect hook as soon as it arrives.
func (c *ircConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if dErr := c.client.Disconnect(); dErr != nil && !errors.Is(dErr, twitch.ErrConnectionIsNotOpen) {
			err = dErr
		}
	})
	return err
}

func (c *ircConn) setErr(err error) {
	if err == nil {
		err = ErrConnClosed
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *ircConn) getErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
