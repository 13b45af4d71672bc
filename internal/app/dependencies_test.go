package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/apotek-pos/internal/config"
)

func testConfig(redisURL string) *config.Config {
	return &config.Config{
		BackendBaseURL:     "http://backend.invalid/api",
		BackendTimeout:     time.Second,
		BackendReadRetries: 2,
		Breaker:            config.BreakerConfig{MinRequests: 5, FailureRatio: 0.5, OpenFor: time.Second},
		RedisURL:           redisURL,
		LedgerCacheTTL:     time.Minute,
	}
}

func TestBuildWithoutRedis(t *testing.T) {
	deps, err := Build(context.Background(), testConfig(""), prometheus.NewRegistry(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.Nil(t, deps.Redis)
	require.Nil(t, deps.TaskClient)
	require.NotNil(t, deps.Limiter.Store)
	require.NotNil(t, deps.Backend)
	require.Nil(t, deps.Ledger.Cache)
	require.Equal(t, "http://backend.invalid/api", deps.Backend.BaseURL)
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	deps, err := Build(context.Background(), testConfig("redis://"+mr.Addr()+"/0"), prometheus.NewRegistry(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.TaskClient)
	require.NotNil(t, deps.Ledger.Cache)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	_, err := Build(context.Background(), testConfig("redis://127.0.0.1:1/0"), nil, zerolog.Nop())
	require.Error(t, err)
}

func TestNewTaskServerRequiresRedis(t *testing.T) {
	_, err := NewTaskServer("", "reconcile", 2, zerolog.Nop())
	require.ErrorIs(t, err, ErrRedisRequired)
}
