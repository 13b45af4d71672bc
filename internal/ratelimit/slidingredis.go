package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims the window, then records the event only when it still
// fits, so rejected attempts do not push the window forward.
var slidingScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local current = redis.call("ZCARD", KEYS[1])
if current < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
  current = current + 1
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  return {1, current}
end
return {0, current}
`)

// SlidingWindow is an exact sliding window limiter backed by a Redis sorted
// set per key. It guards low-volume endpoints such as order commits. A nil
// client allows everything.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow records an event for key when fewer than max happened in the last
// window.
func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	reset := now.Add(window)
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, reset, nil
	}

	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		now.Add(-window).UnixNano(),
		now.UnixNano(),
		max,
		uuid.NewString(),
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, reset, err
	}
	allowed, current := res[0] == 1, int(res[1])
	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, reset, nil
}
