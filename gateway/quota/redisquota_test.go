package quota

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rudironsoni/inference-gateway/gateway/health"
)

func newTestRedisTracker(t *testing.T) (*RedisTracker, health.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	hs := health.NewInProcessStore()
	return NewRedisTracker(client, hs, zap.NewNop()), hs
}

func TestRedisTracker_ReserveRespectsRPMLimit(t *testing.T) {
	tr, _ := newTestRedisTracker(t)
	now := time.Now()

	for i := 0; i < 2; i++ {
		require.True(t, tr.Reserve("p1", 2, now))
	}
	require.False(t, tr.Reserve("p1", 2, now))
}

func TestRedisTracker_CommitTokensOverflowRecordsHealthFailure(t *testing.T) {
	tr, hs := newTestRedisTracker(t)
	now := time.Now()

	called := false
	tr.CommitTokens("p1", 1000, 100, now, func() { called = true })

	assert.True(t, called)
	assert.False(t, hs.IsEligible("p1", now))
}

func TestRedisTracker_SnapshotReflectsCommittedTokens(t *testing.T) {
	tr, _ := newTestRedisTracker(t)
	now := time.Now()

	tr.Reserve("p1", 10, now)
	tr.CommitTokens("p1", 42, 0, now, nil)

	snap := tr.Snapshot("p1")
	assert.Equal(t, 1, snap.RequestsInWindow)
	assert.Equal(t, 42, snap.TokensInWindow)
}
