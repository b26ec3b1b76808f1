package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Leases live in a sorted set per key scored by their expiry in
// milliseconds, so a leaked lease stops counting once it expires.
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expiry = ARGV[2]
local member = ARGV[3]
local ttl = ARGV[4]

for _, key in ipairs(KEYS) do
  redis.call('ZREMRANGEBYSCORE', key, '-inf', now)
  if redis.call('ZSCORE', key, member) then
    return -2
  end
end

for i, key in ipairs(KEYS) do
  local limit = tonumber(ARGV[4 + i])
  if limit >= 0 and redis.call('ZCARD', key) >= limit then
    return i - 1
  end
end

for _, key in ipairs(KEYS) do
  redis.call('ZADD', key, expiry, member)
  redis.call('PEXPIRE', key, ttl)
end

return -1
`)

var refreshScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expiry = ARGV[2]
local member = ARGV[3]
local ttl = ARGV[4]

local score = redis.call('ZSCORE', KEYS[1], member)
if not score or tonumber(score) <= now then
  return 0
end

for _, key in ipairs(KEYS) do
  redis.call('ZADD', key, expiry, member)
  redis.call('PEXPIRE', key, ttl)
end

return 1
`)

// RedisStore keeps leases in Redis so limits hold across processes.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) TryAcquire(ctx context.Context, keys []string, limits []int64, member string, ttl time.Duration) (int, error) {
	now := s.now()

	args := []any{now.UnixMilli(), now.Add(ttl).UnixMilli(), member, ttl.Milliseconds()}
	for _, limit := range limits {
		args = append(args, limit)
	}

	return acquireScript.Run(ctx, s.client, keys, args...).Int()
}

func (s *RedisStore) Refresh(ctx context.Context, keys []string, member string, ttl time.Duration) (bool, error) {
	now := s.now()

	held, err := refreshScript.Run(ctx, s.client, keys, now.UnixMilli(), now.Add(ttl).UnixMilli(), member, ttl.Milliseconds()).Int()

	return held == 1, err
}

func (s *RedisStore) Remove(ctx context.Context, keys []string, member string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZRem(ctx, key, member)
		}

		return nil
	})

	return err
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	return s.client.ZCount(ctx, key, "("+strconv.FormatInt(s.now().UnixMilli(), 10), "+inf").Result()
}
