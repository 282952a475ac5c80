package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/twitch-chat-metrics/settings"
)

// HandleSettings returns the current settings.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.Current())
}

// settingsPatch holds the fields a PUT may change; absent fields keep their value.
type settingsPatch struct {
	TwitchChannel *string `json:"twitch_channel"`
	ChatBuffer    *int    `json:"chat_buffer"`
}

// HandleAdminSettings persists new settings. The change is picked up by the
// settings watcher, which restarts the session and resizes the history.
func (h *Handlers) HandleAdminSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var patch settingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	next := h.Settings.Current()
	if patch.TwitchChannel != nil {
		next.TwitchChannel = *patch.TwitchChannel
	}
	if patch.ChatBuffer != nil {
		next.ChatBuffer = *patch.ChatBuffer
	}
	saved, err := h.Settings.Update(next)
	if err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("failed to save settings", slog.Any("err", err))
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
