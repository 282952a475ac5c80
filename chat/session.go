package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/onnwee/twitch-chat-metrics/telemetry"
)

// State is the lifecycle state of an ingestion session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateJoined
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Sink receives normalized events from a session. Deliver must either queue
// the event or block until it can, so that no event is lost or reordered.
type Sink interface {
	Deliver(ctx context.Context, generation uint64, ev Event) error
}

// SessionConfig holds everything a session needs. Channel is normalized by
// NewSession; an empty channel is valid and yields a session that terminates
// without connecting.
type SessionConfig struct {
	Channel    string
	Generation uint64
	Dial       Dialer
	Sink       Sink
	Logger     *slog.Logger
}

// Session owns one protocol connection bound to one channel and pumps its
// normalized events into a Sink.
type Session struct {
	id         uuid.UUID
	channel    string
	generation uint64
	dial       Dialer
	sink       Sink
	log        *slog.Logger
	state      atomic.Int32
}

// NewSession validates cfg and returns an idle session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Dial == nil {
		return nil, errors.New("chat: session requires a dialer")
	}
	if cfg.Sink == nil {
		return nil, errors.New("chat: session requires a sink")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	channel := NormalizeChannel(cfg.Channel)
	return &Session{
		id:         id,
		channel:    channel,
		generation: cfg.Generation,
		dial:       cfg.Dial,
		sink:       cfg.Sink,
		log: logger.With(
			slog.String("component", "chat_session"),
			slog.String("session_id", id.String()),
			slog.String("channel", channel),
		),
	}, nil
}

func (s *Session) ID() uuid.UUID      { return s.id }
func (s *Session) Channel() string    { return s.channel }
func (s *Session) Generation() uint64 { return s.generation }
func (s *Session) State() State       { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("session state", slog.String("state", st.String()))
}

// Start runs the session on its own goroutine and returns the handle that
// controls it.
func (s *Session) Start(ctx context.Context) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		s.Run(runCtx)
	}()
	return &Handle{session: s, cancel: cancel, done: done}
}

// Run drives the session until the stream ends or ctx is cancelled. It never
// returns an error: join failures and stream termination are logged and end
// the session quietly.
func (s *Session) Run(ctx context.Context) {
	defer s.setState(StateTerminated)

	if s.channel == "" {
		s.log.Info("no channel selected; session not started")
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.session",
		telemetry.ChannelAttr(s.channel),
		telemetry.SessionAttr(s.id.String()),
	)
	defer span.End()

	s.setState(StateConnecting)
	conn, err := s.connect(ctx)
	if err != nil {
		telemetry.IncJoinFailures()
		telemetry.RecordError(span, err)
		s.log.Warn("join failed; session ends", slog.Any("err", err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debug("close connection", slog.Any("err", err))
		}
	}()

	s.setState(StateJoined)
	telemetry.SessionJoined()
	defer telemetry.SessionLeft()
	s.log.Info("joined channel")

	var delivered uint64
	for {
		select {
		case <-ctx.Done():
			s.setState(StateDraining)
			s.log.Info("session cancelled", slog.Uint64("delivered", delivered))
			return
		default:
		}

		raw, err := conn.Next(ctx)
		if err != nil {
			s.setState(StateDraining)
			if ctx.Err() == nil {
				s.log.Info("chat stream ended", slog.Any("err", err), slog.Uint64("delivered", delivered))
			}
			return
		}
		telemetry.IncEventsReceived()

		ev, ok := Normalize(raw)
		if !ok {
			telemetry.IncEventsFiltered()
			continue
		}
		if err := s.sink.Deliver(ctx, s.generation, ev); err != nil {
			s.setState(StateDraining)
			s.log.Debug("delivery stopped", slog.Any("err", err))
			return
		}
		delivered++
	}
}

func (s *Session) connect(ctx context.Context) (Conn, error) {
	conn, err := s.dial(ctx, s.channel)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := conn.Join(ctx, s.channel); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Handle is the exclusive control capability for one running session.
type Handle struct {
	session *Session
	cancel  context.CancelFunc
	done    <-chan struct{}
}

// Cancel asks the session to stop. It may be called any number of times,
// including after the session has terminated.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the session has terminated.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the session terminates or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns the session controlled by h.
func (h *Handle) Session() *Session { return h.session }
