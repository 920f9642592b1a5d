package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/clock"
)

// Blocklist records temporarily banned IPs.
type Blocklist interface {
	Block(ctx context.Context, ip string, d time.Duration, reason string) error
	// BlockedUntil returns the block expiry when the IP is blocked.
	BlockedUntil(ctx context.Context, ip string) (time.Time, bool, error)
}

var auditBlock = log.With().Bool("audit", true).Logger()

// MemBlocklist is the in-memory blocklist with lazy expiry.
type MemBlocklist struct {
	mu      sync.Mutex
	blocked map[string]blockEntry
	clock   clock.Clock
}

type blockEntry struct {
	until  time.Time
	reason string
}

func NewMemBlocklist(clk clock.Clock) *MemBlocklist {
	return &MemBlocklist{blocked: make(map[string]blockEntry), clock: clk}
}

func (b *MemBlocklist) Block(_ context.Context, ip string, d time.Duration, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	until := b.clock.Now().Add(d)
	// Never shorten an existing block.
	if cur, ok := b.blocked[ip]; ok && cur.until.After(until) {
		return nil
	}
	b.blocked[ip] = blockEntry{until: until, reason: reason}
	auditBlock.Warn().Str("ip", ip).Time("until", until).Str("reason", reason).Msg("ip blocked")
	return nil
}

func (b *MemBlocklist) BlockedUntil(_ context.Context, ip string) (time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.blocked[ip]
	if !ok {
		return time.Time{}, false, nil
	}
	if !entry.until.After(b.clock.Now()) {
		delete(b.blocked, ip)
		return time.Time{}, false, nil
	}
	return entry.until, true, nil
}

// Sweep drops expired entries.
func (b *MemBlocklist) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	for ip, entry := range b.blocked {
		if !entry.until.After(now) {
			delete(b.blocked, ip)
		}
	}
}

// RedisBlocklist shares blocks across processes via TTL'd keys.
type RedisBlocklist struct {
	rdb *redis.Client
}

func NewRedisBlocklist(rdb *redis.Client) *RedisBlocklist {
	return &RedisBlocklist{rdb: rdb}
}

func (b *RedisBlocklist) Block(ctx context.Context, ip string, d time.Duration, reason string) error {
	until := time.Now().Add(d)
	err := b.rdb.Set(ctx, "ipblock:"+ip, until.UnixMicro(), d).Err()
	if err == nil {
		auditBlock.Warn().Str("ip", ip).Time("until", until).Str("reason", reason).Msg("ip blocked")
	}
	return err
}

func (b *RedisBlocklist) BlockedUntil(ctx context.Context, ip string) (time.Time, bool, error) {
	micros, err := b.rdb.Get(ctx, "ipblock:"+ip).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMicro(micros), true, nil
}
