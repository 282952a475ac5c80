package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/twitch-chat-metrics/analytics"
)

// HandleAdminGiveawayPrefix replaces the entry prefix. Existing entrants stay.
func (h *Handlers) HandleAdminGiveawayPrefix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Prefix *string `json:"prefix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Prefix == nil {
		http.Error(w, "invalid json: prefix required", http.StatusBadRequest)
		return
	}
	var snap analytics.GiveawaySnapshot
	if !h.withState(w, r, func() {
		h.Giveaway.SetPrefix(*body.Prefix)
		snap = h.Giveaway.Snapshot()
	}) {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DrawResponse is the body of POST /admin/giveaway/draw.
type DrawResponse struct {
	Drawn    bool                       `json:"drawn"`
	Winner   *analytics.Entrant         `json:"winner,omitempty"`
	Giveaway analytics.GiveawaySnapshot `json:"giveaway"`
}

// HandleAdminGiveawayDraw picks a winner. With no entrants nothing changes
// and drawn is false.
func (h *Handlers) HandleAdminGiveawayDraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var resp DrawResponse
	if !h.withState(w, r, func() {
		if winner, ok := h.Giveaway.Draw(); ok {
			resp.Drawn = true
			resp.Winner = &winner
		}
		resp.Giveaway = h.Giveaway.Snapshot()
	}) {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAdminGiveawayClear removes entrants, the winner and its messages.
func (h *Handlers) HandleAdminGiveawayClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.withState(w, r, h.Giveaway.Clear) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
