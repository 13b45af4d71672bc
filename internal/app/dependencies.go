package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/apotek-pos/internal/backend"
	"github.com/noah-isme/apotek-pos/internal/config"
	"github.com/noah-isme/apotek-pos/internal/ledger"
	"github.com/noah-isme/apotek-pos/internal/ratelimit"
	"github.com/noah-isme/apotek-pos/internal/resilience"
)

// ErrRedisRequired is returned when a component needs Redis but none is configured.
var ErrRedisRequired = errors.New("REDIS_URL is required")

// Dependencies enumerates the services shared by the api and worker hosts.
type Dependencies struct {
	Redis           *redis.Client
	Backend         *backend.Client
	Ledger          *ledger.Service
	Limiter         ratelimit.FixedWindow
	TaskClient      *asynq.Client
	MetricsRegistry prometheus.Registerer
}

// Build connects the shared dependencies. Redis and the task client are
// optional; everything that needs them degrades to in-process behaviour.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{MetricsRegistry: reg}
	if cfg.RedisEnabled() {
		rdb, err := NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		deps.Redis = rdb
		client, err := NewTaskClient(cfg.RedisURL)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		deps.TaskClient = client
	}

	limiter, err := ratelimit.NewFixedWindow(deps.Redis, "apotek:ratelimit")
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Limiter = limiter

	deps.Backend = NewBackend(cfg, logger)
	deps.Ledger = &ledger.Service{
		Source: ledger.BackendSource{Client: deps.Backend},
		Logger: logger.With().Str("component", "ledger").Logger(),
	}
	if deps.Redis != nil {
		deps.Ledger.Cache = ledger.NewCache(deps.Redis, cfg.LedgerCacheTTL)
	}
	return deps, nil
}

// NewBackend builds the order backend client from configuration.
func NewBackend(cfg *config.Config, logger zerolog.Logger) *backend.Client {
	return backend.NewClient(backend.Options{
		BaseURL:      cfg.BackendBaseURL,
		Token:        cfg.BackendAPIToken,
		Timeout:      cfg.BackendTimeout,
		ReadAttempts: cfg.BackendReadRetries,
		Breaker:      resilience.NewBreaker(cfg.Breaker.MinRequests, cfg.Breaker.FailureRatio, cfg.Breaker.OpenFor),
		Logger:       logger.With().Str("component", "backend").Logger(),
	})
}

// NewRedis parses url, instruments the client for tracing and pings it.
func NewRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewTaskClient returns an asynq client on the same Redis.
func NewTaskClient(url string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse asynq redis uri: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewTaskServer returns an asynq server consuming queue.
func NewTaskServer(url, queue string, concurrency int, logger zerolog.Logger) (*asynq.Server, error) {
	if url == "" {
		return nil, ErrRedisRequired
	}
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse asynq redis uri: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      TaskLogger{Logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task_type", task.Type()).Msg("task failed")
		}),
	}), nil
}

// Close releases connections held by the dependencies.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.TaskClient != nil {
		_ = d.TaskClient.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}
