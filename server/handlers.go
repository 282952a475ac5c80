// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/twitch-chat-metrics/analytics"
	"github.com/onnwee/twitch-chat-metrics/chat"
	"github.com/onnwee/twitch-chat-metrics/settings"
)

// stateTimeout bounds how long a handler waits for the dispatcher.
const stateTimeout = 2 * time.Second

// SessionStatus reports the current ingestion session.
type SessionStatus interface {
	Status() chat.Status
}

// Executor runs a function on the goroutine that owns consumer state.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

// SettingsStore reads and persists user settings.
type SettingsStore interface {
	Current() settings.Settings
	Update(settings.Settings) (settings.Settings, error)
}

// Deps are the collaborators the handlers read from. Overview, Giveaway and
// History are only touched inside Dispatcher.Do. DB is optional.
type Deps struct {
	Supervisor SessionStatus
	Dispatcher Executor
	Overview   *analytics.Overview
	Giveaway   *analytics.Giveaway
	History    *analytics.History
	Feed       *analytics.Feed
	Settings   SettingsStore
	DB         *sql.DB
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{Deps: deps}
}

// withState runs fn against consumer state on the dispatcher goroutine and
// writes a 503 when the dispatcher cannot serve it.
func (h *Handlers) withState(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), stateTimeout)
	defer cancel()
	if err := h.Dispatcher.Do(ctx, fn); err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			// client went away
			return false
		}
		slog.Warn("state read failed", slog.String("path", r.URL.Path), slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "dispatcher unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}
