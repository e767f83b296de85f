// Package http exposes the query gateway as a JSON API.
//
// # Endpoints
//
//	POST /v1/query            - run one query request
//	GET  /v1/tables           - tables the caller may access
//	GET  /v1/tables/{name}    - one table as visible to the caller
//	GET  /v1/permissions      - the caller's role summary
//	GET  /v1/stats            - decision counters (admin callers)
//	GET  /v1/decisions        - recent decision records (admin callers)
//	GET  /health              - component health
//	GET  /metrics             - Prometheus metrics
//
// # Identity
//
// Callers authenticate with "Authorization: Bearer <api-key>". The identity
// bound to the key supplies the role, user id and tenant id; request bodies
// never carry identity. In dev mode a request without a key runs as the
// configured static identity.
//
// # Middleware Chain
//
// Requests to /v1 pass through, outermost first:
//
//  1. MetricsMiddleware - request count and duration
//  2. RequestIDMiddleware - X-Request-ID and request-scoped logger
//  3. RealIPMiddleware - client address for rate limiting
//  4. DNSRebindingProtection - Origin allowlist
//  5. IdentityMiddleware - API key to identity
//  6. RateLimitMiddleware - per-identity GCRA limit
//
// # Status Codes
//
// Denials return 403, malformed requests 400, statement timeouts 504,
// database failures 502, rate limiting 429. Error bodies carry a public
// message and a machine-readable reason, never the internal cause.
package http
