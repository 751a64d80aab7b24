package presence

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTrackerIsNoOp(t *testing.T) {
	var tracker *Tracker
	ctx := context.Background()

	assert.NoError(t, tracker.MarkOnline(ctx, "user-1", "Alice"))
	assert.NoError(t, tracker.MarkOffline(ctx, "user-1"))

	count, err := tracker.OnlineCount(ctx)
	assert.NoError(t, err)
	assert.Zero(t, count)

	online, err := tracker.IsOnline(ctx, "user-1")
	assert.NoError(t, err)
	assert.False(t, online)

	assert.NoError(t, tracker.Close())
}

// Integration test against a real Redis. Skipped unless TEST_REDIS_ADDR is set.
func TestTrackerRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis integration test")
	}

	tracker, err := NewTracker(addr)
	require.NoError(t, err, "should connect to redis")
	defer tracker.Close()

	ctx := context.Background()
	require.NoError(t, tracker.MarkOnline(ctx, "user-presence-test", "Alice"))

	online, err := tracker.IsOnline(ctx, "user-presence-test")
	require.NoError(t, err)
	assert.True(t, online)

	count, err := tracker.OnlineCount(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, int64(1))

	require.NoError(t, tracker.MarkOffline(ctx, "user-presence-test"))
	online, err = tracker.IsOnline(ctx, "user-presence-test")
	require.NoError(t, err)
	assert.False(t, online)
}
