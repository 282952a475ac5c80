package analytics

import (
	"slices"

	"github.com/onnwee/twitch-chat-metrics/chat"
)

// DefaultHistoryCapacity is used when no chat_buffer is configured.
const DefaultHistoryCapacity = 250

// HistoryEntry is a retained message. Deleted is set once a moderator
// removed it.
type HistoryEntry struct {
	chat.Message
	Deleted bool `json:"deleted"`
}

// History retains the most recent messages of the current channel.
type History struct {
	capacity int
	entries  []HistoryEntry // oldest first
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity}
}

func (h *History) OnMessage(m chat.Message) {
	h.entries = append(h.entries, HistoryEntry{Message: m.Clone()})
	h.truncate()
}

// OnCleared marks the retained message deleted; unknown ids are ignored.
func (h *History) OnCleared(c chat.ClearMessage) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].ID == c.ID {
			h.entries[i].Deleted = true
			return
		}
	}
}

func (h *History) OnReset() { h.entries = nil }

// SetCapacity changes the retention cap, dropping the oldest entries if
// needed. Non-positive values are ignored.
func (h *History) SetCapacity(n int) {
	if n <= 0 {
		return
	}
	h.capacity = n
	h.truncate()
}

func (h *History) Capacity() int { return h.capacity }

func (h *History) Len() int { return len(h.entries) }

func (h *History) truncate() {
	if n := len(h.entries); n > h.capacity {
		h.entries = slices.Delete(h.entries, 0, n-h.capacity)
	}
}

// Snapshot returns up to limit entries, newest first. limit <= 0 means all.
func (h *History) Snapshot(limit int) []HistoryEntry {
	n := len(h.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]HistoryEntry, 0, n)
	for i := len(h.entries) - 1; i >= 0 && len(out) < n; i-- {
		e := h.entries[i]
		e.Message = e.Message.Clone()
		out = append(out, e)
	}
	return out
}
