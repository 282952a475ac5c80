// Package store persists the chat stream to Postgres. The Recorder is a
// chat consumer that never blocks the dispatcher: rows are queued and written
// in pgx batches by a background goroutine.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/twitch-chat-metrics/chat"
	"github.com/onnwee/twitch-chat-metrics/telemetry"
)

// BatchConfig controls batching of writes. MaxBatch and QueueSize count
// events; a clear expands to two statements in the batch.
type BatchConfig struct {
	MaxBatch     int
	FlushEvery   time.Duration
	QueueSize    int
	FlushTimeout time.Duration
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.MaxBatch <= 0 {
		c.MaxBatch = 100
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 1500 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	return c
}

// BatchSender is satisfied by *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const (
	insertMessage = `
insert into chat_messages (
  message_id, channel, user_id, login, display_name, text, emotes, bits, subscriber, sent_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
on conflict (message_id) do nothing`

	markCleared = `update chat_messages set cleared_at = now() where message_id = $1 and cleared_at is null`

	insertClear = `insert into chat_clears (message_id, channel, author_login, text) values ($1,$2,$3,$4)`
)

type item struct {
	msg     *chat.Message
	cleared *chat.ClearMessage
}

// Recorder writes messages and clear events to Postgres.
type Recorder struct {
	input   chan item
	config  BatchConfig
	sender  BatchSender
	clock   clockwork.Clock
	log     *slog.Logger
	dropped atomic.Uint64
	written atomic.Uint64
	done    chan struct{}
}

// NewRecorder starts the background writer; it flushes what is pending and
// stops when ctx is done. A nil clock means the real clock.
func NewRecorder(ctx context.Context, sender BatchSender, cfg BatchConfig, clock clockwork.Clock) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg = cfg.withDefaults()
	r := &Recorder{
		input:  make(chan item, cfg.QueueSize),
		config: cfg,
		sender: sender,
		clock:  clock,
		log:    slog.Default().With(slog.String("component", "recorder")),
		done:   make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

func (r *Recorder) OnMessage(m chat.Message) { r.Enqueue(m) }

// OnCleared stamps the referenced row; an id that was never stored matches
// nothing. The clear itself is always logged to chat_clears.
func (r *Recorder) OnCleared(c chat.ClearMessage) { r.Enqueue(c) }

// OnReset keeps the stored history: rows are per channel.
func (r *Recorder) OnReset() {}

// Enqueue queues ev for writing without blocking; it reports false when the
// queue is full and the event was dropped.
func (r *Recorder) Enqueue(ev chat.Event) bool {
	var it item
	switch e := ev.(type) {
	case chat.Message:
		cp := e.Clone()
		it.msg = &cp
	case chat.ClearMessage:
		it.cleared = &e
	default:
		return false
	}
	select {
	case r.input <- it:
		return true
	default:
		telemetry.IncRecorderDropped()
		if n := r.dropped.Add(1); n%100 == 1 {
			r.log.Warn("recorder queue full; dropping events", slog.Uint64("dropped_total", n))
		}
		return false
	}
}

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of events (messages and clears) stored by
// successful batches.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Done is closed after the final flush.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	ticker := r.clock.NewTicker(r.config.FlushEvery)
	defer ticker.Stop()

	batch := &pgx.Batch{}
	pending := 0

	flush := func() {
		if pending == 0 {
			return
		}
		// Detached from ctx so the last batch still lands during shutdown.
		dbCtx, cancel := context.WithTimeout(context.Background(), r.config.FlushTimeout)
		defer cancel()

		var err error
		telemetry.TimeFunc(telemetry.RecorderFlushDuration, func() {
			err = r.sender.SendBatch(dbCtx, batch).Close()
		})
		telemetry.RecordBatch(pending, err)
		if err != nil {
			r.log.Error("batch flush failed",
				slog.Int("events", pending),
				slog.Int("statements", batch.Len()),
				slog.Any("err", err),
			)
		} else {
			r.written.Add(uint64(pending))
		}
		batch = &pgx.Batch{}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case it := <-r.input:
					if queue(batch, it) {
						pending++
					}
				default:
					break drain
				}
			}
			flush()
			r.log.Info("recorder stopped", slog.Uint64("written", r.written.Load()), slog.Uint64("dropped", r.dropped.Load()))
			return
		case <-ticker.Chan():
			flush()
		case it := <-r.input:
			if queue(batch, it) {
				pending++
			}
			if pending >= r.config.MaxBatch {
				flush()
			}
		}
	}
}

// queue adds the statements for one event to b.
func queue(b *pgx.Batch, it item) bool {
	switch {
	case it.msg != nil:
		m := it.msg
		emotes, _ := json.Marshal(m.Emotes)
		if m.Emotes == nil {
			emotes = []byte("[]")
		}
		var bits *int64
		if m.Bits != nil {
			v := int64(*m.Bits)
			bits = &v
		}
		b.Queue(insertMessage,
			m.ID, m.Channel, m.Author.ID, m.Author.Login, m.Author.DisplayName, m.Text,
			emotes, bits, m.Subscriber, time.Unix(m.Timestamp, 0).UTC(),
		)
		return true
	case it.cleared != nil:
		c := it.cleared
		b.Queue(markCleared, c.ID)
		b.Queue(insertClear, c.ID, c.Channel, c.AuthorLogin, c.Text)
		return true
	}
	return false
}
