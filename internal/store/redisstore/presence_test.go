package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// needs a live Redis; set TEST_REDIS_ADDR to run.
func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	s := NewFromClient(rdb)
	require.NoError(t, s.Ping(context.Background()))
	t.Cleanup(func() {
		_ = rdb.FlushDB(context.Background()).Err()
		_ = s.Close()
	})
	return s
}

func TestPresenceRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, err := s.GetPresence(ctx, "alice")
	require.NoError(t, err)
	require.False(t, p.Online)
	require.Nil(t, p.LastSeen)

	require.NoError(t, s.SetOnline(ctx, "alice"))
	p, err = s.GetPresence(ctx, "alice")
	require.NoError(t, err)
	require.True(t, p.Online)

	seen := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.SetOffline(ctx, "alice", seen))
	p, err = s.GetPresence(ctx, "alice")
	require.NoError(t, err)
	require.False(t, p.Online)
	require.NotNil(t, p.LastSeen)
	require.True(t, p.LastSeen.Equal(seen))
}
