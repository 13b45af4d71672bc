package health

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Pinger is anything with a context-aware liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probes implements Checker against the order backend and an optional Redis.
type Probes struct {
	Backend Pinger
	Redis   *redis.Client
}

// PingBackend probes the order backend.
func (p Probes) PingBackend(ctx context.Context, timeout time.Duration) error {
	if p.Backend == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Backend.Ping(ctx)
}

// PingRedis probes Redis. ErrDisabled is returned when Redis is not used.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}
