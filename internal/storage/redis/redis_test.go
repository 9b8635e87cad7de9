package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/storage"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := NewStore(ctx, config.DatabaseConfig{RedisURL: url, MessageTTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 4; i++ {
		id, err := store.AppendMessage(ctx, &storage.Message{
			RoomID:     "room-1",
			SenderID:   "alice",
			SenderRole: "company",
			Body:       "msg",
			Seq:        uint64(i),
			CreatedAt:  base.Add(time.Duration(i) * time.Microsecond),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	history, err := store.FetchHistory(ctx, "room-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(3), history[0].Seq)
	assert.Equal(t, uint64(4), history[1].Seq)
	assert.True(t, history[1].CreatedAt.Equal(base.Add(4*time.Microsecond)))

	ttl, err := store.client.TTL(ctx, roomMessagesKey("room-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestStoreRetryKeepsOneMember(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	msg := &storage.Message{RoomID: "room-2", SenderID: "bob", SenderRole: "worker", Body: "once", Seq: 1}
	first, err := store.AppendMessage(ctx, msg)
	require.NoError(t, err)
	second, err := store.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := store.client.ZCard(ctx, roomMessagesKey("room-2")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNewStoreRejectsBadURL(t *testing.T) {
	_, err := NewStore(context.Background(), config.DatabaseConfig{RedisURL: "://nope"})
	assert.Error(t, err)
}
