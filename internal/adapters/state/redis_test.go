package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	store := New(cfg)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_BlockAndLookup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	blocked, err := store.IsBlocked(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, store.AddBlock(ctx, "203.0.113.7", "test reason", time.Hour))

	blocked, err = store.IsBlocked(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestRedisStore_BlockExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddBlock(ctx, "203.0.113.7", "r", time.Hour))
	mr.FastForward(2 * time.Hour)

	blocked, err := store.IsBlocked(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked, "block should expire with its TTL")
}

func TestRedisStore_RepeatedBlocksExtendTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	db := mr.DB(DefaultConfig().DBBlocklist)

	require.NoError(t, store.AddBlock(ctx, "203.0.113.7", "first", 2*time.Hour))
	require.NoError(t, store.AddBlock(ctx, "203.0.113.7", "second", time.Hour))

	ttl := db.TTL("blocklist:ip:203.0.113.7")
	assert.Equal(t, 2*time.Hour, ttl, "shorter re-block must not shorten the TTL")

	require.NoError(t, store.AddBlock(ctx, "203.0.113.7", "third", 4*time.Hour))
	ttl = db.TTL("blocklist:ip:203.0.113.7")
	assert.Equal(t, 4*time.Hour, ttl, "longer re-block extends the TTL")
}

func TestRedisStore_FlagTarpit(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.FlagTarpit(ctx, "203.0.113.7", 5*time.Minute))

	db := mr.DB(DefaultConfig().DBFlags)
	assert.True(t, db.Exists("tarpit:flag:203.0.113.7"))
	assert.Equal(t, 5*time.Minute, db.TTL("tarpit:flag:203.0.113.7"))
}

func TestRedisStore_IncrHops(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrHops(ctx, "203.0.113.7", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	db := mr.DB(DefaultConfig().DBHops)
	assert.Equal(t, time.Hour, db.TTL("hops:203.0.113.7"), "window set by first increment only")

	mr.FastForward(2 * time.Hour)
	got, err := store.IncrHops(ctx, "203.0.113.7", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "counter resets after window expiry")
}

func TestRedisStore_RecordRequest(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	count, since, err := store.RecordRequest(ctx, "203.0.113.7", base, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, -1.0, since, "no previous request in window")

	count, since, err = store.RecordRequest(ctx, "203.0.113.7", base.Add(2*time.Second), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.InDelta(t, 2.0, since, 0.1)

	count, _, err = store.RecordRequest(ctx, "203.0.113.7", base.Add(4*time.Second), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRedisStore_RecordRequest_WindowTrim(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	_, _, err := store.RecordRequest(ctx, "203.0.113.7", base, 5*time.Minute)
	require.NoError(t, err)

	// Ten minutes later the first entry is outside the window and trimmed.
	count, since, err := store.RecordRequest(ctx, "203.0.113.7", base.Add(10*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, -1.0, since)
}

func TestRedisStore_FailOpenOnDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	store := New(cfg)
	defer store.Close()

	mr.Close()

	blocked, err := store.IsBlocked(context.Background(), "203.0.113.7")
	assert.Error(t, err)
	assert.False(t, blocked, "lookup errors report not-blocked for fail-open callers")
}
