package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"

	"github.com/noah-isme/apotek-pos/internal/app"
	"github.com/noah-isme/apotek-pos/internal/checkout"
	"github.com/noah-isme/apotek-pos/internal/common"
	"github.com/noah-isme/apotek-pos/internal/config"
	"github.com/noah-isme/apotek-pos/internal/health"
	"github.com/noah-isme/apotek-pos/internal/ledger"
	"github.com/noah-isme/apotek-pos/internal/lock"
	"github.com/noah-isme/apotek-pos/internal/obs"
	"github.com/noah-isme/apotek-pos/internal/ratelimit"
	"github.com/noah-isme/apotek-pos/internal/reconcile"
	"github.com/noah-isme/apotek-pos/internal/resilience"
	"github.com/noah-isme/apotek-pos/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "apotek")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	registry := prometheus.DefaultRegisterer
	obs.MustRegisterDomainMetrics(metricsNamespace, registry)
	resilience.RegisterMetrics(registry)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "apotek-pos-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	deps, err := app.Build(startCtx, cfg, registry, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()
	if deps.Redis != nil && metricsEnabled {
		if err := redisotel.InstrumentMetrics(deps.Redis); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if deps.Redis == nil {
		logger.Warn().Msg("REDIS_URL not set: ledger cache, commit lock and reconciliation queue disabled")
	}

	store := checkout.NewStore(cfg.SessionTTL)
	go store.Run(ctx, time.Minute)

	checkoutSvc := &checkout.Service{
		Backend: deps.Backend,
		Logger:  logger.With().Str("component", "checkout").Logger(),
		OnCommitted: []func(context.Context, checkout.Receipt){
			func(ctx context.Context, _ checkout.Receipt) {
				if err := deps.Ledger.Invalidate(ctx); err != nil {
					logger.Warn().Err(err).Msg("invalidate ledger cache")
				}
			},
		},
	}
	if deps.TaskClient != nil {
		checkoutSvc.Reporter = reconcile.Enqueuer{
			Client: deps.TaskClient,
			Queue:  cfg.ReconcileQueue,
			Logger: logger.With().Str("component", "reconcile").Logger(),
		}
	}
	checkoutCfg := checkout.HandlerConfig{
		Store:   store,
		Service: checkoutSvc,
		LockTTL: cfg.CommitLockTTL,
		Logger:  logger,
	}
	if deps.Redis != nil {
		checkoutCfg.Locker = lock.Locker{R: deps.Redis}
	}
	checkoutHandler := checkout.NewHandler(checkoutCfg)
	ledgerHandler := ledger.NewHandler(ledger.HandlerConfig{Service: deps.Ledger, Summary: deps.Backend, Logger: logger})

	idem := common.Idem{R: deps.Redis}
	window, maxRequests, err := ratelimit.ParseRate(cfg.RateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RATE_LIMIT")
	}
	rateLimit := ratelimit.Handler{
		Limiter: deps.Limiter,
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP("ip:"), Window: window, Max: maxRequests},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	commitLimit := ratelimit.Handler{
		Limiter: ratelimit.SlidingWindow{Client: deps.Redis, Prefix: "apotek:commit:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByURLParam("session:", "sessionID"),
			Window: envDurationMillis("COMMIT_RATE_WINDOW_MS", 60000),
			Max:    envInt("COMMIT_RATE_MAX", 10),
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("commit limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, registry)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:        health.Probes{Backend: deps.Backend, Redis: deps.Redis},
		BackendTimeout: envDurationMillis("HEALTH_READY_BACKEND_TIMEOUT_MS", 2000),
		RedisTimeout:   envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(rateLimit.Middleware)
		v.Use(security.BodyLimit{Max: security.DefaultMaxBody}.Middleware)

		v.Route("/sessions", func(s chi.Router) {
			s.Post("/", checkoutHandler.Create)
			s.Route("/{sessionID}", func(one chi.Router) {
				one.Get("/", checkoutHandler.Get)
				one.Delete("/", checkoutHandler.Delete)
				one.Post("/items", checkoutHandler.AddItem)
				one.Patch("/items/{lineID}", checkoutHandler.UpdateItem)
				one.Delete("/items/{lineID}", checkoutHandler.RemoveItem)
				one.Put("/discount", checkoutHandler.SetDiscount)
				one.Put("/customer", checkoutHandler.SetCustomer)
				one.Put("/payment/method", checkoutHandler.SelectMethod)
				one.Patch("/payment", checkoutHandler.UpdatePayment)
				one.Group(func(g chi.Router) {
					g.Use(commitLimit.Middleware)
					g.Use(idem.Middleware)
					g.Post("/commit", checkoutHandler.Commit)
				})
			})
		})

		v.Route("/ledger", func(l chi.Router) {
			l.Get("/payments", ledgerHandler.Payments)
			l.Get("/stats", ledgerHandler.Stats)
			l.Get("/summary", ledgerHandler.Summary)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("backend", cfg.BackendBaseURL).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorised", nil)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
