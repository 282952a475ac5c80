package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onnwee/twitch-chat-metrics/telemetry"
)

// ErrDispatcherStopped is returned once the dispatcher's Run loop has exited.
var ErrDispatcherStopped = errors.New("chat: dispatcher stopped")

// Consumer is a reducer over the normalized event stream. All methods are
// called from the dispatcher goroutine only and must return quickly.
type Consumer interface {
	OnMessage(Message)
	OnCleared(ClearMessage)
	OnReset()
}

type envelopeKind int

const (
	envEvent envelopeKind = iota
	envReset
	envCall
)

// Call states. A call runs only if the dispatcher claims it before the
// caller gives up on it.
const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

type call struct {
	fn    func()
	state atomic.Int32
	done  chan struct{}
}

type envelope struct {
	kind envelopeKind
	gen  uint64
	ev   Event
	call *call
}

// Dispatcher is the delivery boundary between ingestion sessions and the
// consumers. Sessions enqueue events tagged with their generation; a single
// goroutine (Run) owns consumer state and applies every event to every
// consumer in queue order. After Reset(gen) any event carrying an older
// generation is discarded, so consumers never see the old channel after a
// reset.
type Dispatcher struct {
	queue     chan envelope
	consumers []Consumer
	log       *slog.Logger

	// gen is only touched by the Run goroutine.
	gen uint64

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewDispatcher returns a dispatcher with a queue of the given size feeding
// the consumers in registration order.
func NewDispatcher(size int, consumers ...Consumer) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		queue:     make(chan envelope, size),
		consumers: consumers,
		log:       slog.Default().With(slog.String("component", "dispatcher")),
		stopped:   make(chan struct{}),
	}
}

// Run drains the queue until ctx is done. It must be called exactly once.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.stopOnce.Do(func() { close(d.stopped) })
	d.log.Debug("dispatcher started", slog.Int("consumers", len(d.consumers)))
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("dispatcher stopped", slog.Int("pending", len(d.queue)))
			return
		case env := <-d.queue:
			telemetry.SetQueueDepth(len(d.queue))
			d.handle(env)
		}
	}
}

func (d *Dispatcher) handle(env envelope) {
	switch env.kind {
	case envReset:
		if env.gen > d.gen {
			d.gen = env.gen
		}
		for _, c := range d.consumers {
			c.OnReset()
		}
	case envCall:
		if !env.call.state.CompareAndSwap(callPending, callRunning) {
			return
		}
		env.call.fn()
		close(env.call.done)
	case envEvent:
		if env.gen < d.gen {
			telemetry.IncStaleDropped()
			return
		}
		d.apply(env.ev)
	}
}

func (d *Dispatcher) apply(ev Event) {
	switch e := ev.(type) {
	case Message:
		for _, c := range d.consumers {
			c.OnMessage(e)
		}
		telemetry.IncDelivered(telemetry.KindMessage)
	case ClearMessage:
		for _, c := range d.consumers {
			c.OnCleared(e)
		}
		telemetry.IncDelivered(telemetry.KindCleared)
	}
}

// Deliver queues ev for the consumers. It blocks while the queue is full.
func (d *Dispatcher) Deliver(ctx context.Context, gen uint64, ev Event) error {
	return d.enqueue(ctx, envelope{kind: envEvent, gen: gen, ev: ev})
}

// Reset queues a reset that moves the dispatcher to generation gen. Every
// event queued after it with a lower generation is dropped.
func (d *Dispatcher) Reset(ctx context.Context, gen uint64) error {
	return d.enqueue(ctx, envelope{kind: envReset, gen: gen})
}

// Do runs fn on the dispatcher goroutine, after everything queued before it,
// and waits for it to finish. fn may read or mutate consumer state freely.
// When Do returns an error fn has not run and never will.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	c := &call{fn: fn, done: make(chan struct{})}
	if err := d.enqueue(ctx, envelope{kind: envCall, call: c}); err != nil {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return c.abandon(ctx.Err())
	case <-d.stopped:
		return c.abandon(ErrDispatcherStopped)
	}
}

// abandon withdraws a queued call. If the dispatcher already claimed it the
// call is waited out and reported as done.
func (c *call) abandon(err error) error {
	if c.state.CompareAndSwap(callPending, callAbandoned) {
		return err
	}
	<-c.done
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-d.stopped:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrDispatcherStopped
	}
}
