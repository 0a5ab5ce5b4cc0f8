package cartflow

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	srv := miniredis.RunT(t)
	store := NewRedisStore(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore(t *testing.T) {
	testStoreRoundTrip(t, newTestRedisStore(t))
}

func TestRedisStoreKeyLayout(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	store := NewRedisStore(&redis.Options{Addr: srv.Addr()})
	defer store.Close()

	require.NoError(t, store.Save(ctx, sampleRunState("run-1")))

	assert.True(t, srv.Exists("cartflow:run:run-1"))
	members, err := srv.SMembers("cartflow:runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, members)
}

func TestRedisStoreListSkipsStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	store := NewRedisStore(&redis.Options{Addr: srv.Addr()})
	defer store.Close()

	require.NoError(t, store.Save(ctx, sampleRunState("run-1")))
	require.NoError(t, store.Save(ctx, sampleRunState("run-2")))

	// Drop the value but leave the index entry behind.
	srv.Del("cartflow:run:run-1")

	states, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "run-2", states[0].RunID)
}
