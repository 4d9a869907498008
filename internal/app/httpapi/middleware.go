package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/credit_layer/internal/app/metrics"
	"github.com/R3E-Network/credit_layer/internal/errors"
	"github.com/R3E-Network/credit_layer/pkg/logger"
)

// APIKeyHeader carries the internal service key on every credit request.
const APIKeyHeader = "X-API-Key"

// TenantHeader selects the tenant a transaction is attributed to. It does
// not affect authorization.
const TenantHeader = "X-Tenant-ID"

type contextKey string

const ctxTenantKey contextKey = "tenant"

// requireAPIKey rejects requests without a valid internal API key before any
// body parsing happens.
func (h *handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.cfg.Verifier.VerifyAPIKey(r.Header.Get(APIKeyHeader)); err != nil {
			metrics.RecordAuthFailure("api_key")
			h.respondError(w, r, err, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withTenant resolves the tenant from the request header or the configured
// default and threads it through the context.
func (h *handler) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			tenant = h.cfg.DefaultTenant
		}
		next.ServeHTTP(w, r.WithContext(withTenantContext(r.Context(), tenant)))
	})
}

// withTenantContext ensures tenant is set in context for downstream handlers.
func withTenantContext(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxTenantKey, tenant)
}

func tenantFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxTenantKey); v != nil {
		return v.(string)
	}
	return ""
}

// rateLimiter applies a per-caller token bucket, keyed by remote host. The
// credit endpoints are internal, so the keyspace stays small; the map is
// reset wholesale if it ever grows unreasonably.
type rateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

func newRateLimiter(requestsPerSecond, burst int, log *logger.Logger) *rateLimiter {
	if burst <= 0 {
		burst = requestsPerSecond
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		log:      log,
	}
}

func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}

		if !rl.getLimiter(key).Allow() {
			rl.log.WithFields(map[string]interface{}{
				"key":  key,
				"path": r.URL.Path,
			}).Warn("rate limit exceeded")
			se := errors.RateLimited()
			writeJSON(w, se.HTTPStatus, map[string]string{"error": se.Message, "code": se.Code})
			return
		}
		next.ServeHTTP(w, r)
	})
}
