package analytics

import "github.com/onnwee/twitch-chat-metrics/chat"

// Overview tracks running totals for the current channel.
type Overview struct {
	chatters           map[string]string
	totalMessages      uint64
	subscriberMessages uint64
	totalBits          uint64
	messagesCleared    uint64
}

// OverviewSnapshot is a point-in-time copy of the counters.
type OverviewSnapshot struct {
	UniqueChatters     int     `json:"unique_chatters"`
	TotalMessages      uint64  `json:"total_messages"`
	SubscriberMessages uint64  `json:"subscriber_messages"`
	SubscriberShare    float64 `json:"subscriber_share_percent"`
	TotalBits          uint64  `json:"total_bits"`
	MessagesCleared    uint64  `json:"messages_cleared"`
}

func NewOverview() *Overview {
	return &Overview{chatters: make(map[string]string)}
}

// OnMessage records the author (name is last-write-wins) and bumps the counters.
func (o *Overview) OnMessage(m chat.Message) {
	o.chatters[m.Author.ID] = m.Author.Name()
	o.totalMessages++
	o.totalBits += m.BitsOrZero()
	if m.Subscriber {
		o.subscriberMessages++
	}
}

// OnCleared counts the clear whether or not the message was seen.
func (o *Overview) OnCleared(chat.ClearMessage) {
	o.messagesCleared++
}

func (o *Overview) OnReset() {
	clear(o.chatters)
	o.totalMessages = 0
	o.subscriberMessages = 0
	o.totalBits = 0
	o.messagesCleared = 0
}

// Chatters returns a copy of the id to display name map.
func (o *Overview) Chatters() map[string]string {
	out := make(map[string]string, len(o.chatters))
	for id, name := range o.chatters {
		out[id] = name
	}
	return out
}

func (o *Overview) Snapshot() OverviewSnapshot {
	s := OverviewSnapshot{
		UniqueChatters:     len(o.chatters),
		TotalMessages:      o.totalMessages,
		SubscriberMessages: o.subscriberMessages,
		TotalBits:          o.totalBits,
		MessagesCleared:    o.messagesCleared,
	}
	if o.totalMessages > 0 {
		s.SubscriberShare = 100 * float64(o.subscriberMessages) / float64(o.totalMessages)
	}
	return s
}
