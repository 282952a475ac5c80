package analytics

import (
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/onnwee/twitch-chat-metrics/chat"
)

// WinnerMessageCap bounds the retained messages of the selected winner.
const WinnerMessageCap = 100

// Entrant is one giveaway participant.
type Entrant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GiveawaySnapshot is a point-in-time copy of the tracker. WinnerMessages is
// newest-first.
type GiveawaySnapshot struct {
	Prefix         string         `json:"prefix"`
	Entrants       []Entrant      `json:"entrants"`
	Winner         *Entrant       `json:"winner,omitempty"`
	WinnerMessages []chat.Message `json:"winner_messages"`
}

// Giveaway collects everyone whose message starts with the entry prefix and
// follows the messages of a drawn winner.
type Giveaway struct {
	prefix   string
	entrants map[string]string
	winner   string
	// oldest first; reversed on read
	winnerMessages []chat.Message
	intN           func(n int) int
}

// GiveawayOption customizes NewGiveaway.
type GiveawayOption func(*Giveaway)

// WithIntN replaces the random source used by Draw. intN must return a
// value in [0, n).
func WithIntN(intN func(n int) int) GiveawayOption {
	return func(g *Giveaway) { g.intN = intN }
}

func NewGiveaway(prefix string, opts ...GiveawayOption) *Giveaway {
	g := &Giveaway{
		prefix:   prefix,
		entrants: make(map[string]string),
		intN:     rand.IntN,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnMessage enters the author when the text starts with the prefix (an
// empty prefix matches everything) and records the message if it was sent
// by the current winner.
func (g *Giveaway) OnMessage(m chat.Message) {
	if strings.HasPrefix(m.Text, g.prefix) {
		if _, ok := g.entrants[m.Author.ID]; !ok {
			g.entrants[m.Author.ID] = m.Author.Name()
		}
	}
	if g.winner != "" && m.Author.ID == g.winner {
		g.winnerMessages = append(g.winnerMessages, m.Clone())
		if n := len(g.winnerMessages); n > WinnerMessageCap {
			g.winnerMessages = slices.Delete(g.winnerMessages, 0, n-WinnerMessageCap)
		}
	}
}

// OnCleared is a no-op: entries and winner messages are kept.
func (g *Giveaway) OnCleared(chat.ClearMessage) {}

func (g *Giveaway) OnReset() { g.Clear() }

// Clear drops entrants, winner and winner messages. The prefix is kept.
func (g *Giveaway) Clear() {
	clear(g.entrants)
	g.winner = ""
	g.winnerMessages = nil
}

func (g *Giveaway) SetPrefix(prefix string) { g.prefix = prefix }

func (g *Giveaway) Prefix() string { return g.prefix }

// Draw selects a winner uniformly among the current entrants. With no
// entrants it returns ok=false and leaves the state untouched. Drawing a
// different winner discards the previous winner's messages.
func (g *Giveaway) Draw() (Entrant, bool) {
	if len(g.entrants) == 0 {
		return Entrant{}, false
	}
	ids := make([]string, 0, len(g.entrants))
	for id := range g.entrants {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	id := ids[g.intN(len(ids))]
	if id != g.winner {
		g.winnerMessages = nil
	}
	g.winner = id
	return Entrant{ID: id, Name: g.entrants[id]}, true
}

// Winner returns the selected winner, if any.
func (g *Giveaway) Winner() (Entrant, bool) {
	if g.winner == "" {
		return Entrant{}, false
	}
	return Entrant{ID: g.winner, Name: g.entrants[g.winner]}, true
}

func (g *Giveaway) Snapshot() GiveawaySnapshot {
	s := GiveawaySnapshot{
		Prefix:         g.prefix,
		Entrants:       make([]Entrant, 0, len(g.entrants)),
		WinnerMessages: make([]chat.Message, 0, len(g.winnerMessages)),
	}
	for id, name := range g.entrants {
		s.Entrants = append(s.Entrants, Entrant{ID: id, Name: name})
	}
	slices.SortFunc(s.Entrants, func(a, b Entrant) int { return strings.Compare(a.ID, b.ID) })
	if w, ok := g.Winner(); ok {
		s.Winner = &w
	}
	for i := len(g.winnerMessages) - 1; i >= 0; i-- {
		s.WinnerMessages = append(s.WinnerMessages, g.winnerMessages[i].Clone())
	}
	return s
}
