package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dailyCountScript atomically compares the counter against the limit and
// increments only when the request still fits.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = TTL seconds for the key
// Returns: [current_count, 1=admitted/0=denied]
var dailyCountScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = tonumber(redis.call('GET', key) or '0')
if count >= limit then
    return {count, 0}
end

count = redis.call('INCR', key)
redis.call('EXPIRE', key, ttl)
return {count, 1}
`)

// RedisStore keeps daily counters in Redis so every gateway replica sees the
// same totals. It reports errors instead of guessing; callers decide what a
// failed check means.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: "voidgate:quota",
		now:    time.Now,
	}
}

func (s *RedisStore) IncrBelow(ctx context.Context, key string, limit int, w Window) (int, bool, error) {
	if s.rdb == nil {
		return 0, false, fmt.Errorf("redis client not configured")
	}

	redisKey := fmt.Sprintf("%s:%s:%s", s.prefix, key, w.Key())
	// Expire at end of day UTC plus an hour of headroom
	ttlSecs := int64((w.UntilReset(s.now()) + time.Hour).Seconds())
	if ttlSecs < 1 {
		ttlSecs = 1
	}

	result, err := dailyCountScript.Run(ctx, s.rdb, []string{redisKey}, limit, ttlSecs).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("quota counter: %w", err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("quota counter: unexpected script reply %v", result)
	}
	return int(result[0]), result[1] == 1, nil
}
