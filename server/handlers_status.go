package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/twitch-chat-metrics/analytics"
	"github.com/onnwee/twitch-chat-metrics/chat"
	"github.com/onnwee/twitch-chat-metrics/db"
	"github.com/onnwee/twitch-chat-metrics/settings"
	"github.com/onnwee/twitch-chat-metrics/telemetry"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Session         chat.Status       `json:"session"`
	Settings        settings.Settings `json:"settings"`
	FeedSubscribers int               `json:"feed_subscribers"`
	FeedDropped     uint64            `json:"feed_dropped"`
	Recording       bool              `json:"recording"`
	Tracing         bool              `json:"tracing"`
}

// HandleStatus returns the current session, settings and feed counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		Session:   h.Supervisor.Status(),
		Settings:  h.Settings.Current(),
		Recording: h.DB != nil,
		Tracing:   telemetry.TracingEnabled(),
	}
	if h.Feed != nil {
		resp.FeedSubscribers = h.Feed.Subscribers()
		resp.FeedDropped = h.Feed.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleOverview returns the overview counters.
func (h *Handlers) HandleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var snap analytics.OverviewSnapshot
	if !h.withState(w, r, func() { snap = h.Overview.Snapshot() }) {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleGiveaway returns the giveaway state.
func (h *Handlers) HandleGiveaway(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var snap analytics.GiveawaySnapshot
	if !h.withState(w, r, func() { snap = h.Giveaway.Snapshot() }) {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleStats returns recorded totals for a channel (default: the current one).
// It needs the database.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.DB == nil {
		http.Error(w, "recording disabled", http.StatusServiceUnavailable)
		return
	}
	channel := chat.NormalizeChannel(r.URL.Query().Get("channel"))
	if channel == "" {
		channel = h.Settings.Current().TwitchChannel
	}
	if channel == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}
	stats, err := db.GetChannelStats(r.Context(), h.DB, channel)
	if err != nil {
		slog.Error("channel stats query failed", slog.String("channel", channel), slog.Any("err", err))
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
