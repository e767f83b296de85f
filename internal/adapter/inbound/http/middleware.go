package http

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/querygate/internal/ctxkey"
	"github.com/Sentinel-Gate/querygate/internal/domain/auth"
	"github.com/Sentinel-Gate/querygate/internal/domain/ratelimit"
)

type (
	identityContextKey struct{}
	clientIPContextKey struct{}
)

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is echoed in the X-Request-ID response header and is the
// id written to the decision record.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.NewString()
			}

			ctx := ctxkey.WithRequestID(r.Context(), requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("request_id", requestID))

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection validates Origin header against an allowlist.
// If allowedOrigins is empty, all requests with an Origin header are blocked.
// Requests without an Origin header are allowed (same-origin or non-browser).
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok {
				writeError(w, http.StatusForbidden, "origin not allowed", "origin_not_allowed", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RealIPMiddleware stores the client address for rate limiting. Only the
// first X-Forwarded-For entry is used.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPContextKey{}, extractRealIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// Authenticator resolves a raw API key to an identity.
type Authenticator interface {
	Validate(ctx context.Context, rawKey string) (*auth.Identity, error)
}

// IdentityMiddleware resolves the caller identity from the bearer API key.
// When no key is sent and fallback is non-nil (dev mode), the request runs
// as fallback. A key that is sent but invalid is always rejected.
func IdentityMiddleware(authn Authenticator, fallback *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			var identity *auth.Identity
			switch {
			case header == "" && fallback != nil:
				identity = fallback
			case header == "":
				writeError(w, http.StatusUnauthorized, "missing api key", "unauthenticated", ctxkey.RequestID(r.Context()))
				return
			default:
				rawKey, ok := strings.CutPrefix(header, "Bearer ")
				if !ok || authn == nil {
					writeError(w, http.StatusUnauthorized, "invalid authorization header", "unauthenticated", ctxkey.RequestID(r.Context()))
					return
				}
				id, err := authn.Validate(r.Context(), strings.TrimSpace(rawKey))
				if err != nil {
					LoggerFromContext(r.Context()).Info("api key rejected", "error", err)
					writeError(w, http.StatusUnauthorized, "invalid api key", "unauthenticated", ctxkey.RequestID(r.Context()))
					return
				}
				identity = id
			}

			logger := LoggerFromContext(r.Context()).With("identity", identity.ID, "role", identity.Role)
			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the identity set by IdentityMiddleware.
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*auth.Identity)
	return id, ok && id != nil
}

// RateLimitMiddleware applies a per-identity limit, falling back to the
// client address for requests without an identity. Limiter errors let the
// request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, cfg ratelimit.Config, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.AddrKey(clientIPFromContext(r.Context()))
			if id, ok := IdentityFromContext(r.Context()); ok {
				key = ratelimit.IdentityKey(id.ID)
			}

			res, err := limiter.Allow(r.Context(), key, cfg)
			if err != nil {
				LoggerFromContext(r.Context()).Warn("rate limiter failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			if !res.Allowed {
				if metrics != nil {
					metrics.RateLimitedTotal.Inc()
				}
				retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited", ctxkey.RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
