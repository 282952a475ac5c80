package chat

import (
	"fmt"
	"strings"
)

// Author identifies the sender of a chat message.
type Author struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Name returns the display name, falling back to the login name.
func (a Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Login
}

// Emote is one occurrence of an emote inside a message text.
// Start and End are inclusive rune offsets into the text.
type Emote struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Event is a normalized chat event. It is either a Message or a ClearMessage.
type Event interface {
	isEvent()
}

// Message is a chat message as delivered to consumers. Values are never
// mutated after normalization; consumers that retain a message keep a Clone.
type Message struct {
	ID         string  `json:"id"`
	Channel    string  `json:"channel"`
	Timestamp  int64   `json:"timestamp"`
	Author     Author  `json:"author"`
	Text       string  `json:"text"`
	Emotes     []Emote `json:"emotes"`
	Bits       *uint64 `json:"bits,omitempty"`
	Subscriber bool    `json:"subscriber"`
}

func (Message) isEvent() {}

// BitsOrZero returns the cheered amount, or 0 when the message carried no bits.
func (m Message) BitsOrZero() uint64 {
	if m.Bits == nil {
		return 0
	}
	return *m.Bits
}

// Clone returns a deep copy that shares no memory with m.
func (m Message) Clone() Message {
	out := m
	if m.Emotes != nil {
		out.Emotes = make([]Emote, len(m.Emotes))
		copy(out.Emotes, m.Emotes)
	}
	if m.Bits != nil {
		b := *m.Bits
		out.Bits = &b
	}
	return out
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Author.Name(), m.Text)
}

// ClearMessage reports that a single message was removed by a moderator.
// The referenced message may never have been seen by the current session.
type ClearMessage struct {
	ID          string `json:"id"`
	Channel     string `json:"channel"`
	AuthorLogin string `json:"author_login"`
	Text        string `json:"text"`
}

func (ClearMessage) isEvent() {}

// ControlSignal drives the supervisor and the consumers outside of the event stream.
type ControlSignal interface {
	isControl()
}

// ChannelChanged asks the supervisor to move ingestion to a new channel.
type ChannelChanged struct {
	Channel string
}

func (ChannelChanged) isControl() {}

// Reset clears every consumer's derived state without touching the session.
type Reset struct{}

func (Reset) isControl() {}

// NormalizeChannel returns the canonical login form of a channel name:
// trimmed, without a leading '#', lowercased. The empty string means
// "no channel selected".
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}
