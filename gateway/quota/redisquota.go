package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/health"
	"go.uber.org/zap"
)

const quotaTTL = 2 * time.Minute

var reserveScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'requests') or '0')
local limit = tonumber(ARGV[1])
if limit > 0 and count + 1 > limit then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'requests', 1)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
return 1
`)

var commitTokensScript = redis.NewScript(`
local total = redis.call('HINCRBY', KEYS[1], 'tokens', tonumber(ARGV[1]))
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
local limit = tonumber(ARGV[2])
if limit > 0 and total > limit then
  return 1
end
return 0
`)

// RedisTracker is the remote-KV-backed QuotaTracker, for sharing RPM/TPM
// state across gateway replicas. Keys are quota:{provider_id}:{window_start
// _epoch_minute} with a 2-minute TTL. Fail-open: if the backing store is
// unreachable, Reserve returns ok — risking an upstream 429 is preferable
// to shedding load the quota wasn't actually going to deny.
type RedisTracker struct {
	client *redis.Client
	health health.Store
	logger *zap.Logger
}

func NewRedisTracker(client *redis.Client, healthStore health.Store, logger *zap.Logger) *RedisTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTracker{client: client, health: healthStore, logger: logger.With(zap.String("component", "quota.RedisTracker"))}
}

func windowKey(providerID string, now time.Time) string {
	epochMinute := (now.Unix() / 60) * 60
	return "quota:" + providerID + ":" + strconv.FormatInt(epochMinute, 10)
}

func (t *RedisTracker) Reserve(providerID string, rpmLimit int, now time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := reserveScript.Run(ctx, t.client, []string{windowKey(providerID, now)},
		rpmLimit, int(quotaTTL.Seconds()),
	).Int()
	if err != nil {
		t.logger.Warn("quota reserve failed, failing open", zap.String("provider", providerID), zap.Error(err))
		return true
	}
	return res == 1
}

func (t *RedisTracker) CommitTokens(providerID string, tokenCount int, tpmLimit int, now time.Time, onOverflow func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := commitTokensScript.Run(ctx, t.client, []string{windowKey(providerID, now)},
		tokenCount, tpmLimit, int(quotaTTL.Seconds()),
	).Int()
	if err != nil {
		t.logger.Warn("quota commit failed, swallowing", zap.String("provider", providerID), zap.Error(err))
		return
	}
	if res == 1 {
		if t.health != nil {
			t.health.RecordFailure(providerID, gwerrors.CodeRateLimited, 60*time.Second)
		}
		if onOverflow != nil {
			onOverflow()
		}
	}
}

func (t *RedisTracker) Snapshot(providerID string) Entry {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Now()
	key := windowKey(providerID, now)
	res, err := t.client.HGetAll(ctx, key).Result()
	if err != nil {
		t.logger.Warn("quota snapshot failed", zap.String("provider", providerID), zap.Error(err))
		return Entry{ProviderID: providerID, WindowStart: time.Unix((now.Unix()/60)*60, 0)}
	}
	requests, _ := strconv.Atoi(res["requests"])
	tokens, _ := strconv.Atoi(res["tokens"])
	return Entry{
		ProviderID:       providerID,
		RequestsInWindow: requests,
		TokensInWindow:   tokens,
		WindowStart:      time.Unix((now.Unix()/60)*60, 0),
	}
}
