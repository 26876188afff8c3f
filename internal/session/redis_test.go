package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisStore(client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStoreGetOrCreate(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	sess, isNew, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "home", sess.CurrentState)
	assert.Equal(t, 0, sess.InputCount)

	again, isNew, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, sess.ID, again.ID)
}

func TestRedisStoreSaveRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	sess, _, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)

	sess.CurrentState = "loan_amount"
	sess.InputCount = 2
	sess.Data["fullName"] = "John Doe"
	sess.Data["loanAmount"] = 2000.0
	require.NoError(t, store.Save(ctx, sess))

	loaded, isNew, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "loan_amount", loaded.CurrentState)
	assert.Equal(t, 2, loaded.InputCount)
	assert.Equal(t, "John Doe", loaded.GetString("fullName"))
	// JSON round-trips numbers as float64; GetFloat hides that.
	assert.Equal(t, 2000.0, loaded.GetFloat("loanAmount"))
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t, WithTTL(2*time.Second))
	ctx := context.Background()

	sess, _, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	sess.InputCount = 3
	require.NoError(t, store.Save(ctx, sess))

	mr.FastForward(3 * time.Second)

	fresh, isNew, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	assert.True(t, isNew, "expired session should be recreated")
	assert.Equal(t, 0, fresh.InputCount)
}

func TestRedisStoreSaveRefreshesTTL(t *testing.T) {
	store, mr := newTestRedisStore(t, WithTTL(2*time.Second))
	ctx := context.Background()

	sess, _, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)

	mr.FastForward(1500 * time.Millisecond)
	require.NoError(t, store.Save(ctx, sess))
	mr.FastForward(1500 * time.Millisecond)

	_, isNew, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	assert.False(t, isNew, "session should survive while active")
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, _, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "s1"))

	_, isNew, err := store.GetOrCreate(ctx, "s1", "+2348012345678", "home")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisStore(client, WithKeyPrefix("custom:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, _, err = store.GetOrCreate(context.Background(), "s1", "+2348012345678", "home")
	require.NoError(t, err)
	assert.True(t, mr.Exists("custom:s1"))
}
