package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore shares sliding-window counters across processes using sorted
// sets keyed by event time. Admission runs as a Lua script so the
// check-and-record is atomic under concurrent processes.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and pings; the caller decides whether to fall back
// to the in-memory store on error.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	log.Info().Str("addr", addr).Int("db", db).Msg("redis rate-limit store connected")
	return &RedisStore{rdb: rdb}, nil
}

// Close shuts down the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }

// KEYS[1] window zset; ARGV: now_micros, window_micros, limit, record(0/1)
// Returns {allowed, count_after, oldest_micros}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local record = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  allowed = 1
  if record == 1 then
    redis.call('ZADD', key, now, tostring(now) .. '-' .. tostring(math.random(1000000)))
    redis.call('PEXPIRE', key, math.ceil(window / 1000))
    count = count + 1
  end
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then oldestScore = tonumber(oldest[2]) end
return {allowed, count, oldestScore}
`)

func (s *RedisStore) run(ctx context.Context, key string, limit int, window time.Duration, record bool) (Decision, error) {
	now := time.Now().UnixMicro()
	rec := 0
	if record {
		rec = 1
	}

	res, err := slidingWindowScript.Run(ctx, s.rdb,
		[]string{"rl:" + key}, now, window.Microseconds(), limit, rec).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	d := Decision{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: limit - int(res[1]),
		ResetAt:   time.UnixMicro(res[2]).Add(window),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return s.run(ctx, key, limit, window, true)
}

func (s *RedisStore) Peek(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return s.run(ctx, key, limit, window, false)
}
