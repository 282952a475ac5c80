package analytics

import (
	"sync"
	"sync/atomic"

	"github.com/onnwee/twitch-chat-metrics/chat"
)

// Feed event types.
const (
	FeedMessage = "message"
	FeedCleared = "cleared"
	FeedReset   = "reset"
)

// FeedEvent is one item on the live feed.
type FeedEvent struct {
	Type    string             `json:"type"`
	Message *chat.Message      `json:"message,omitempty"`
	Cleared *chat.ClearMessage `json:"cleared,omitempty"`
}

type feedSub struct {
	ch chan FeedEvent
}

// Feed republishes the consumer stream to live subscribers. Publishing never
// blocks the dispatcher: a subscriber whose buffer is full misses the event.
type Feed struct {
	mu      sync.RWMutex
	subs    map[*feedSub]struct{}
	dropped atomic.Uint64
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*feedSub]struct{})}
}

func (f *Feed) OnMessage(m chat.Message) {
	cp := m.Clone()
	f.publish(FeedEvent{Type: FeedMessage, Message: &cp})
}

func (f *Feed) OnCleared(c chat.ClearMessage) {
	f.publish(FeedEvent{Type: FeedCleared, Cleared: &c})
}

func (f *Feed) OnReset() { f.publish(FeedEvent{Type: FeedReset}) }

func (f *Feed) publish(ev FeedEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unsubscribes and closes the channel; it is safe to call twice.
func (f *Feed) Subscribe(buffer int) (<-chan FeedEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &feedSub{ch: make(chan FeedEvent, buffer)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, sub)
			f.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of attached subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }
