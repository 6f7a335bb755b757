package connect_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connect "github.com/goliatone/go-connect"
)

func TestMemoryApprovalCache(t *testing.T) {
	ctx := context.Background()
	cache := connect.NewMemoryApprovalCache()

	_, err := cache.Load(ctx)
	assert.ErrorIs(t, err, connect.ErrApprovalsCacheMiss)

	approvals := sampleApprovals()
	require.NoError(t, cache.Store(ctx, approvals))
	approvals[0].UserRole = "mutated"

	got, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "marketing", got[0].UserRole)
}

func TestRedisApprovalCache(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := connect.NewRedisApprovalCache(client, "", time.Hour)

	_, err := cache.Load(ctx)
	assert.ErrorIs(t, err, connect.ErrApprovalsCacheMiss)

	require.NoError(t, cache.Store(ctx, sampleApprovals()))
	assert.True(t, srv.Exists("connect:user-approvals"))
	assert.Equal(t, time.Hour, srv.TTL("connect:user-approvals"))

	got, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleApprovals(), got)

	srv.FastForward(2 * time.Hour)
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, connect.ErrApprovalsCacheMiss)
}

func TestRedisApprovalCacheCorruptPayload(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, srv.Set("approvals", "{broken"))
	cache := connect.NewRedisApprovalCache(client, "approvals", 0)

	_, err := cache.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, connect.ErrApprovalsCacheMiss)
}
