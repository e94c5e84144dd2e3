package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"go.uber.org/zap"
)

const healthTTL = time.Hour

// recordFailureScript performs the read-modify-write for RecordFailure
// atomically server-side, so two concurrent failures for the same provider
// never interleave into a torn entry.
var recordFailureScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local prev_state = 'healthy'
local prev_cooldown = 0
local prev_failures = 0
if raw then
  local prev = cjson.decode(raw)
  prev_state = prev.state or 'healthy'
  prev_cooldown = prev.cooldown_until or 0
  prev_failures = prev.consecutive_failures or 0
end

local table_cooldown = tonumber(ARGV[3])
local hint = tonumber(ARGV[2])
local d = table_cooldown
if hint > d then d = hint end
local now = tonumber(ARGV[4])

local state = prev_state
local cooldown_until = prev_cooldown
if ARGV[5] == '1' then
  state = 'unhealthy'
  cooldown_until = now + d
end

local encoded = cjson.encode({
  provider_id = KEYS[1],
  state = state,
  last_error_class = ARGV[1],
  consecutive_failures = prev_failures + 1,
  cooldown_until = cooldown_until,
  updated_at = now,
})
redis.call('SET', KEYS[1], encoded, 'EX', tonumber(ARGV[6]))
return encoded
`)

// RedisStore is the remote-KV-backed HealthStore, for sharing health state
// across gateway replicas. Keys are health:{provider_id} with a 1h TTL.
// Fail-open: on any Redis error, Get returns a default healthy entry and
// writes are logged and swallowed — a backing-store outage must never
// propagate into the request path.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger.With(zap.String("component", "health.RedisStore"))}
}

func keyFor(providerID string) string {
	return "health:" + providerID
}

type redisEntry struct {
	ProviderID          string  `json:"provider_id"`
	State               string  `json:"state"`
	LastErrorClass      string  `json:"last_error_class"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	CooldownUntil       float64 `json:"cooldown_until"` // unix seconds
	UpdatedAt           float64 `json:"updated_at"`
}

func (s *RedisStore) Get(providerID string) Entry {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, keyFor(providerID)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("health get failed, failing open", zap.String("provider", providerID), zap.Error(err))
		}
		return defaultEntry(providerID, time.Now())
	}

	var re redisEntry
	if err := json.Unmarshal([]byte(raw), &re); err != nil {
		s.logger.Warn("health entry decode failed, failing open", zap.String("provider", providerID), zap.Error(err))
		return defaultEntry(providerID, time.Now())
	}
	return Entry{
		ProviderID:          providerID,
		State:               State(re.State),
		LastErrorClass:      gwerrors.Code(re.LastErrorClass),
		ConsecutiveFailures: re.ConsecutiveFailures,
		CooldownUntil:       time.Unix(int64(re.CooldownUntil), 0),
		UpdatedAt:           time.Unix(int64(re.UpdatedAt), 0),
	}
}

func (s *RedisStore) RecordSuccess(providerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Now()
	re := redisEntry{ProviderID: providerID, State: string(StateHealthy), UpdatedAt: float64(now.Unix())}
	payload, err := json.Marshal(re)
	if err != nil {
		s.logger.Warn("health success encode failed", zap.String("provider", providerID), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, keyFor(providerID), payload, healthTTL).Err(); err != nil {
		s.logger.Warn("health success write failed, swallowing", zap.String("provider", providerID), zap.Error(err))
	}
}

func (s *RedisStore) RecordFailure(providerID string, errorClass gwerrors.Code, retryAfterHint time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tableCooldown, unhealthy := cooldown(errorClass)
	unhealthyArg := "0"
	if unhealthy {
		unhealthyArg = "1"
	}

	_, err := recordFailureScript.Run(ctx, s.client, []string{keyFor(providerID)},
		string(errorClass),
		int(retryAfterHint.Seconds()),
		int(tableCooldown.Seconds()),
		time.Now().Unix(),
		unhealthyArg,
		int(healthTTL.Seconds()),
	).Result()
	if err != nil {
		s.logger.Warn("health failure write failed, swallowing", zap.String("provider", providerID), zap.Error(err))
	}
}

func (s *RedisStore) IsEligible(providerID string, now time.Time) bool {
	return eligible(s.Get(providerID), now)
}
