// Package chat is the ingestion and fan-out core.
//
// A Session owns one protocol connection (Conn, normally go-twitch-irc via
// DialIRC) bound to one channel. It pulls raw events, maps them with
// Normalize to Message or ClearMessage, and hands them to a Sink.
//
// The Dispatcher is the Sink used in production: a single goroutine drains
// its queue and applies each event to every registered Consumer in arrival
// order. Nothing else touches consumer state; other goroutines read or
// mutate it through Dispatcher.Do.
//
// The Supervisor holds at most one running session. Restart cancels the old
// one without waiting, resets every consumer through the dispatcher, and
// starts a new session under a fresh generation. Events still queued by the
// old session carry the previous generation and are dropped, so consumers
// never see the old channel after the reset.
//
// Join failures, stream termination and unrecognised protocol events are
// logged and counted but never surfaced; an explicit Restart is the only
// recovery.
package chat
