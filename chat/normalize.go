package chat

import (
	"sort"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

const subscriberBadge = "subscriber"

// Normalize maps a raw protocol event to a domain event. PRIVMSG becomes a
// Message and CLEARMSG becomes a ClearMessage; every other kind is filtered
// out and reported with ok=false.
func Normalize(raw twitch.Message) (Event, bool) {
	switch m := raw.(type) {
	case *twitch.PrivateMessage:
		if m == nil {
			return nil, false
		}
		return toMessage(m), true
	case *twitch.ClearMessage:
		if m == nil {
			return nil, false
		}
		return toClearMessage(m), true
	default:
		return nil, false
	}
}

func toMessage(m *twitch.PrivateMessage) Message {
	sentAt := m.Time
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	var bits *uint64
	if m.Bits > 0 {
		b := uint64(m.Bits)
		bits = &b
	}

	return Message{
		ID:        m.ID,
		Channel:   NormalizeChannel(m.Channel),
		Timestamp: sentAt.Unix(),
		Author: Author{
			ID:          m.User.ID,
			Login:       m.User.Name,
			DisplayName: m.User.DisplayName,
		},
		Text:       m.Message,
		Emotes:     toEmotes(m.Emotes),
		Bits:       bits,
		Subscriber: hasSubscriberBadge(m),
	}
}

func toClearMessage(m *twitch.ClearMessage) ClearMessage {
	return ClearMessage{
		ID:          m.TargetMsgID,
		Channel:     NormalizeChannel(m.Channel),
		AuthorLogin: m.Login,
		Text:        m.Message,
	}
}

// toEmotes flattens per-emote position lists into one entry per occurrence,
// ordered by position in the text.
func toEmotes(in []*twitch.Emote) []Emote {
	out := make([]Emote, 0, len(in))
	for _, e := range in {
		if e == nil {
			continue
		}
		for _, p := range e.Positions {
			out = append(out, Emote{ID: e.ID, Name: e.Name, Start: p.Start, End: p.End})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// hasSubscriberBadge checks both the parsed badges and the raw badge-info tag
// ("subscriber/12,..."), which carries the subscription even when the badge
// slot shows something else.
func hasSubscriberBadge(m *twitch.PrivateMessage) bool {
	if _, ok := m.User.Badges[subscriberBadge]; ok {
		return true
	}
	for _, info := range strings.Split(m.Tags["badge-info"], ",") {
		name, _, _ := strings.Cut(info, "/")
		if name == subscriberBadge {
			return true
		}
	}
	return false
}
