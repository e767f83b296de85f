package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/querygate/internal/ctxkey"
	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
	"github.com/Sentinel-Gate/querygate/internal/domain/authz"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/port/inbound"
	"github.com/Sentinel-Gate/querygate/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// queryRequest is the POST /v1/query body. Identity is never read from it.
type queryRequest struct {
	Table     string         `json:"table"`
	Operation string         `json:"operation"`
	Columns   []string       `json:"columns,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
	Values    map[string]any `json:"values,omitempty"`
	OrderBy   []authz.Sort   `json:"order_by,omitempty"`
	Limit     *int           `json:"limit,omitempty"`
	Offset    *int           `json:"offset,omitempty"`
	RawSQL    string         `json:"raw_sql,omitempty"`
	RawArgs   []any          `json:"raw_args,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id,omitempty"`
}

// StatsProvider returns decision counters.
type StatsProvider interface {
	GetStats() service.Stats
}

// APIHandler serves the /v1 routes.
type APIHandler struct {
	gateway   inbound.Gateway
	stats     StatsProvider
	decisions audit.QueryStore
}

// HandlerOption configures APIHandler.
type HandlerOption func(*APIHandler)

// WithStats enables GET /v1/stats.
func WithStats(p StatsProvider) HandlerOption {
	return func(h *APIHandler) { h.stats = p }
}

// WithDecisionQuery enables GET /v1/decisions.
func WithDecisionQuery(q audit.QueryStore) HandlerOption {
	return func(h *APIHandler) { h.decisions = q }
}

// NewAPIHandler creates the API handler over gateway.
func NewAPIHandler(gateway inbound.Gateway, opts ...HandlerOption) *APIHandler {
	h := &APIHandler{gateway: gateway}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the /v1 routes to mux. Every route expects
// IdentityMiddleware to have run.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/query", h.handleQuery)
	mux.HandleFunc("GET /v1/tables", h.handleListTables)
	mux.HandleFunc("GET /v1/tables/{name}", h.handleDescribeTable)
	mux.HandleFunc("GET /v1/permissions", h.handlePermissions)
	if h.stats != nil {
		mux.HandleFunc("GET /v1/stats", h.handleStats)
	}
	if h.decisions != nil {
		mux.HandleFunc("GET /v1/decisions", h.handleDecisions)
	}
}

func (h *APIHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	requestID := ctxkey.RequestID(r.Context())

	var body queryRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request", requestID)
		return
	}
	req, err := body.toRequest(actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request", requestID)
		return
	}

	result, err := h.gateway.Execute(r.Context(), req)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (b queryRequest) toRequest(actor policy.Actor) (authz.Request, error) {
	op := policy.OpRead
	switch {
	case b.Operation != "":
		parsed, ok := policy.ParseOperation(b.Operation)
		if !ok || parsed == policy.OpAll {
			return authz.Request{}, fmt.Errorf("unknown operation %q", b.Operation)
		}
		op = parsed
	case b.RawSQL != "":
		op = policy.OpAdmin
	}

	rawArgs := make([]any, len(b.RawArgs))
	for i, v := range b.RawArgs {
		rawArgs[i] = normalizeNumber(v)
	}
	return authz.Request{
		Actor:     actor,
		Table:     b.Table,
		Operation: op,
		Columns:   b.Columns,
		Filters:   normalizeMap(b.Filters),
		Values:    normalizeMap(b.Values),
		OrderBy:   b.OrderBy,
		Limit:     b.Limit,
		Offset:    b.Offset,
		RawSQL:    b.RawSQL,
		RawArgs:   rawArgs,
	}, nil
}

func (h *APIHandler) handleListTables(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	tables, err := h.gateway.ListTables(r.Context(), actor)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *APIHandler) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	info, err := h.gateway.DescribeTable(r.Context(), actor, r.PathValue("name"))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *APIHandler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	perms, err := h.gateway.Permissions(r.Context(), actor)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (h *APIHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}

// handleDecisions lists decision records, newest first. Query parameters:
// role, table, outcome, since and until (RFC 3339), limit.
func (h *APIHandler) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Role:    q.Get("role"),
		Table:   q.Get("table"),
		Outcome: q.Get("outcome"),
	}
	requestID := ctxkey.RequestID(r.Context())
	if filter.Outcome != "" && filter.Outcome != audit.OutcomeAllow && filter.Outcome != audit.OutcomeDeny {
		writeError(w, http.StatusBadRequest, "outcome must be allow or deny", "invalid_request", requestID)
		return
	}
	for name, dst := range map[string]*time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, name+" must be RFC 3339", "invalid_request", requestID)
				return
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer", "invalid_request", requestID)
			return
		}
		filter.Limit = n
	}

	records, err := h.decisions.Query(r.Context(), filter)
	if err != nil {
		LoggerFromContext(r.Context()).Error("decision query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "internal_error", requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}

// requireAdmin allows callers whose role may run raw queries.
func (h *APIHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor, ok := actorFrom(w, r)
	if !ok {
		return false
	}
	perms, err := h.gateway.Permissions(r.Context(), actor)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return false
	}
	if !perms.RawQueries {
		writeError(w, http.StatusForbidden, "access denied", "operation_not_permitted", ctxkey.RequestID(r.Context()))
		return false
	}
	return true
}

func (h *APIHandler) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		LoggerFromContext(r.Context()).Error("request failed", "error", err)
	}
	writeError(w, status, service.PublicMessage(err), service.PublicReason(err), ctxkey.RequestID(r.Context()))
}

// statusFor maps a gateway error to an HTTP status.
func statusFor(err error) int {
	var execErr *service.ExecutionError
	switch {
	case service.IsDenial(err):
		return http.StatusForbidden
	case service.IsBadRequest(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &execErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func actorFrom(w http.ResponseWriter, r *http.Request) (policy.Actor, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing api key", "unauthenticated", ctxkey.RequestID(r.Context()))
		return policy.Actor{}, false
	}
	return id.Actor(), true
}

// decodeJSON reads one JSON object. Numbers decode as json.Number so
// integer values keep full precision.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return errors.New("request body too large (max 1MB)")
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeNumber(v)
	}
	return out
}

// normalizeNumber converts json.Number to int64 when integral, else float64.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = normalizeNumber(e)
		}
		return out
	case map[string]any:
		return normalizeMap(n)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, reason, requestID string) {
	writeJSON(w, status, errorResponse{Error: msg, Reason: reason, RequestID: requestID})
}
