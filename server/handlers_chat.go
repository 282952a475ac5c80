package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/twitch-chat-metrics/analytics"
)

const (
	defaultChatLimit = 100
	streamBuffer     = 256
	streamKeepAlive  = 15 * time.Second
)

// HandleChat returns retained messages newest-first. limit defaults to 100;
// non-positive limits return the whole buffer.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", defaultChatLimit)
	var entries []analytics.HistoryEntry
	if !h.withState(w, r, func() { entries = h.History.Snapshot(limit) }) {
		return
	}
	if entries == nil {
		entries = []analytics.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleChatStream tails the live feed as Server-Sent Events. With backlog=N
// the N most recent retained messages are sent first (oldest first); the
// backlog and the subscription are taken together so nothing is missed or
// repeated.
func (h *Handlers) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	backlogN := parseIntQuery(r, "backlog", 0)

	var (
		backlog []analytics.HistoryEntry
		events  <-chan analytics.FeedEvent
		cancel  func()
	)
	if !h.withState(w, r, func() {
		if backlogN > 0 {
			backlog = h.History.Snapshot(backlogN)
		}
		events, cancel = h.Feed.Subscribe(streamBuffer)
	}) {
		return
	}
	defer cancel()

	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("cannot clear write deadline", slog.Any("err", err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for i := len(backlog) - 1; i >= 0; i-- {
		m := backlog[i].Message
		if !writeEvent(w, analytics.FeedEvent{Type: analytics.FeedMessage, Message: &m}) {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !writeEvent(w, ev) {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE frame named after the event type.
func writeEvent(w http.ResponseWriter, ev analytics.FeedEvent) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to encode feed event", slog.Any("err", err))
		return true
	}
	if _, err := w.Write([]byte("event: " + ev.Type + "\ndata: ")); err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	return true
}
