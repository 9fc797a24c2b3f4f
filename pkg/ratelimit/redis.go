package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "karaoke:ratelimit:"

// slidingWindow checks every key before recording any of them so a request
// rejected on one key leaves the others untouched.
//
// KEYS: window keys. ARGV: now (ms), window (ms), limit, member.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
for _, key in ipairs(KEYS) do
	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
	if redis.call('ZCARD', key) >= limit then
		return 0
	end
end
for _, key in ipairs(KEYS) do
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
end
return 1
`)

// Redis is a sliding window limiter shared by every instance that points at
// the same Redis server. Windows are sorted sets scored by request time.
type Redis struct {
	client    redis.Scripter
	cfg       Config
	prefix    string
	now       func() time.Time
	newMember func() string
}

// NewRedis creates a Redis backed limiter. An empty prefix uses the default.
func NewRedis(client redis.Scripter, cfg Config, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{
		client:    client,
		cfg:       cfg.withDefaults(),
		prefix:    prefix,
		now:       time.Now,
		newMember: uuid.NewString,
	}
}

// Allow runs the sliding window script for keys.
func (r *Redis) Allow(ctx context.Context, keys ...string) (bool, error) {
	if len(keys) == 0 {
		return true, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}

	now := r.now().UnixMilli()
	res, err := slidingWindow.Run(ctx, r.client, prefixed,
		now, r.cfg.Window.Milliseconds(), r.cfg.Limit, r.member(now),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("running rate limit script: %w", err)
	}
	return res == 1, nil
}

// Close is a no-op; the caller owns the client.
func (*Redis) Close() error {
	return nil
}

func (r *Redis) member(now int64) string {
	return fmt.Sprintf("%d-%s", now, r.newMember())
}

// Verify interface compliance.
var _ Limiter = (*Redis)(nil)
