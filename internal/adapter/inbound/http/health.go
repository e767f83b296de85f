package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// SnapshotSource returns the active policy snapshot.
type SnapshotSource interface {
	Current() *policy.Snapshot
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuditQueue reports decision recorder backpressure.
type AuditQueue interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedRecords() int64
}

// SizedLimiter reports how many keys the rate limiter tracks.
type SizedLimiter interface {
	Size() int
}

// HealthChecker verifies component health.
type HealthChecker struct {
	policies    SnapshotSource
	database    Pinger
	audit       AuditQueue
	rateLimiter SizedLimiter
	version     string
	pingTimeout time.Duration
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(policies SnapshotSource, database Pinger, audit AuditQueue, rateLimiter SizedLimiter, version string) *HealthChecker {
	return &HealthChecker{
		policies:    policies,
		database:    database,
		audit:       audit,
		rateLimiter: rateLimiter,
		version:     version,
		pingTimeout: 2 * time.Second,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.policies != nil {
		snap := h.policies.Current()
		checks["policy"] = fmt.Sprintf("ok: revision %d, %d roles, %d tables", snap.Revision, len(snap.RoleNames()), len(snap.TableNames()))
	} else {
		checks["policy"] = "not configured"
	}

	if h.database != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout)
		err := h.database.Ping(pingCtx)
		cancel()
		if err != nil {
			checks["database"] = "unreachable"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	if h.audit != nil {
		depth := h.audit.ChannelDepth()
		capacity := h.audit.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// >90% full is unhealthy - system is under backpressure
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.audit.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	if h.rateLimiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("ok: %d keys", h.rateLimiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
