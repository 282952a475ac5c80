package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/twitch-chat-metrics/telemetry"
)

// ErrSupervisorClosed is returned by Restart and Apply after Close.
var ErrSupervisorClosed = errors.New("chat: supervisor closed")

// Boundary is the delivery side a supervisor feeds: sessions deliver into it
// and the supervisor resets it on every transition. *Dispatcher implements it.
type Boundary interface {
	Sink
	Reset(ctx context.Context, generation uint64) error
}

// SupervisorConfig configures NewSupervisor.
type SupervisorConfig struct {
	Dial     Dialer
	Boundary Boundary
	Logger   *slog.Logger
}

// Status describes the supervisor's current slot.
type Status struct {
	Channel    string `json:"channel"`
	Generation uint64 `json:"generation"`
	SessionID  string `json:"session_id,omitempty"`
	State      string `json:"state"`
}

// Supervisor owns at most one active ingestion session and replaces it on
// every channel change.
type Supervisor struct {
	dial     Dialer
	boundary Boundary
	log      *slog.Logger

	root       context.Context
	rootCancel context.CancelFunc
	sessions   sync.WaitGroup

	mu      sync.Mutex
	gen     uint64
	current *Handle
	closed  bool
}

func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Dial == nil {
		return nil, errors.New("chat: supervisor requires a dialer")
	}
	if cfg.Boundary == nil {
		return nil, errors.New("chat: supervisor requires a delivery boundary")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		dial:       cfg.Dial,
		boundary:   cfg.Boundary,
		log:        logger.With(slog.String("component", "chat_supervisor")),
		root:       root,
		rootCancel: cancel,
	}, nil
}

// Restart cancels the current session without waiting for it, resets every
// consumer, and starts a fresh session bound to channel. It runs even when
// channel equals the current one. ctx bounds only the reset hand-off; the new
// session lives until the next Restart or Close.
func (s *Supervisor) Restart(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}

	channel = NormalizeChannel(channel)
	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.restart", telemetry.ChannelAttr(channel))
	defer span.End()

	if s.current != nil {
		s.current.Cancel()
		s.current = nil
	}

	s.gen++
	gen := s.gen
	span.SetAttributes(telemetry.GenerationAttr(gen))
	if err := s.boundary.Reset(ctx, gen); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("reset consumers: %w", err)
	}

	sess, err := NewSession(SessionConfig{
		Channel:    channel,
		Generation: gen,
		Dial:       s.dial,
		Sink:       s.boundary,
		Logger:     s.log,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	h := sess.Start(s.root)
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		<-h.Done()
	}()
	s.current = h

	telemetry.IncRestarts()
	telemetry.SetSpanSuccess(span)
	s.log.Info("session restarted",
		slog.String("channel", channel),
		slog.Uint64("generation", gen),
		slog.String("session_id", sess.ID().String()),
	)
	return nil
}

// Apply dispatches a control signal. ChannelChanged restarts ingestion; Reset
// clears consumer state and leaves the running session alone.
func (s *Supervisor) Apply(ctx context.Context, sig ControlSignal) error {
	switch sig := sig.(type) {
	case ChannelChanged:
		return s.Restart(ctx, sig.Channel)
	case Reset:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSupervisorClosed
		}
		return s.boundary.Reset(ctx, s.gen)
	default:
		return fmt.Errorf("chat: unknown control signal %T", sig)
	}
}

// Status reports the current session slot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Generation: s.gen, State: StateTerminated.String()}
	if s.current != nil {
		sess := s.current.Session()
		st.Channel = sess.Channel()
		st.SessionID = sess.ID().String()
		st.State = sess.State().String()
	}
	return st
}

// Close cancels every session and waits for them to release their
// connections, or for ctx to end.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.current != nil {
		s.current.Cancel()
		s.current = nil
	}
	s.rootCancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("all sessions stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
