package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem provides an Idempotency-Key middleware backed by Redis. A key is
// scoped to the request path and released again when the handler rejects the
// request with a 4xx or marks it with ReleaseIdempotencyKey, since nothing
// reached the backend in either case.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type idemKey struct{}

type idemRelease struct {
	released bool
}

// ReleaseIdempotencyKey marks the current request's key for release once the
// handler returns. It is a no-op outside the middleware.
func ReleaseIdempotencyKey(ctx context.Context) {
	if rel, ok := ctx.Value(idemKey{}).(*idemRelease); ok {
		rel.released = true
	}
}

func hashKey(path, key string) string {
	sum := sha256.Sum256([]byte(path + "\x00" + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ctx := r.Context()
		key := hashKey(r.URL.Path, header)
		ok, err := i.R.SetNX(ctx, key, "locked", ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, CodeIdempotentReplay, "duplicate request", nil)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		rel := &idemRelease{}
		defer func() {
			if rel.released || (sw.status >= 400 && sw.status < 500) {
				_ = i.R.Del(context.Background(), key).Err()
			}
		}()
		next.ServeHTTP(sw, r.WithContext(context.WithValue(ctx, idemKey{}, rel)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
