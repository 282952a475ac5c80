package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitch-chat-metrics/chat"
	"github.com/onnwee/twitch-chat-metrics/db"
	"github.com/onnwee/twitch-chat-metrics/testutil"
)

func TestRecorderWritesToPostgres(t *testing.T) {
	pool := testutil.SetupTestPool(t)
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRecorder(ctx, pool, BatchConfig{MaxBatch: 10, FlushEvery: 20 * time.Millisecond}, nil)

	cheer := uint64(50)
	m1 := testMessage("pg-1")
	m1.Emotes = []chat.Emote{{ID: "25", Name: "Kappa", Start: 0, End: 4}}
	m2 := testMessage("pg-2")
	m2.Author.ID = "u2"
	m2.Bits = &cheer
	r.OnMessage(m1)
	r.OnMessage(m2)
	r.OnMessage(m1) // duplicate ids are ignored
	r.OnCleared(chat.ClearMessage{ID: "pg-1", Channel: "ch", AuthorLogin: "name", Text: "hi"})
	r.OnCleared(chat.ClearMessage{ID: "never-seen", Channel: "ch"})

	cancel()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop")
	}

	sqlDB := db.SQL(pool)
	t.Cleanup(func() { sqlDB.Close() })
	stats, err := db.GetChannelStats(context.Background(), sqlDB, "ch")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Messages)
	assert.EqualValues(t, 1, stats.Cleared)
	assert.EqualValues(t, 2, stats.Chatters)
	require.NotNil(t, stats.LastSeen)

	var bits int64
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT bits FROM chat_messages WHERE message_id='pg-2'`).Scan(&bits))
	assert.EqualValues(t, 50, bits)

	var clears int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM chat_clears`).Scan(&clears))
	assert.Equal(t, 2, clears)
}
