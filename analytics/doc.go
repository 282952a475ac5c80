// Package analytics holds the consumers that fold the normalized chat stream
// into derived state: Overview counters, the Giveaway tracker, the chat
// History buffer and the live Feed.
//
// Overview, Giveaway and History are not safe for concurrent use. They are
// registered with a chat.Dispatcher, which calls them from its own goroutine;
// everything else reads or mutates them through Dispatcher.Do. Feed is the
// exception: subscribers attach from arbitrary goroutines.
package analytics
