package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/Sentinel-Gate/querygate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/database"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/policyfile"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/querygate/internal/domain/auth"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
	"github.com/Sentinel-Gate/querygate/internal/service"
)

const (
	readerKey = "reader-key"
	writerKey = "writer-key"
	adminKey  = "admin-key"
)

const schema = `
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, email TEXT, phone TEXT, ssn TEXT, tenant_id INTEGER);
CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, amount NUMERIC, status TEXT);
CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price NUMERIC, cost NUMERIC);
INSERT INTO users VALUES (1, 'Ada', 'ada@example.com', '555-0100', '123-45-6789', 1);
INSERT INTO users VALUES (2, 'Grace', 'grace@example.com', '555-0101', '987-65-4321', 2);
INSERT INTO orders VALUES (100, 7, 25.5, 'open');
INSERT INTO orders VALUES (101, 8, 10, 'open');
INSERT INTO products VALUES (1, 'Widget', 9.99, 4.5);
`

// basePolicy grants reader users and products; grantOrdersPolicy adds orders.
const basePolicy = `version: "1.0"
default_role: reader
roles:
  admin:
    tables: ["*"]
    operations: [read, write, delete, admin]
  reader:
    tables: [users, products]
    operations: [read]
    columns:
      users: [id, name, email]
  writer:
    tables: [orders]
    operations: [read, write]
    row_filters:
      orders: "user_id = {user_id}"
tables:
  users:
    primary_key: id
    columns:
      - {name: id, type: integer}
      - {name: name, type: text}
      - {name: email, type: text, sensitive: true, format: email}
      - {name: phone, type: text, sensitive: true}
      - {name: ssn, type: text, sensitive: true, visible_to: [admin]}
      - {name: tenant_id, type: integer}
  orders:
    primary_key: id
    columns:
      - {name: id, type: integer}
      - {name: user_id, type: integer}
      - {name: amount, type: numeric}
      - {name: status, type: text}
  products:
    columns:
      - {name: id, type: integer}
      - {name: name, type: text}
      - {name: price, type: numeric}
      - {name: cost, type: numeric, visible_to: [admin]}
`

var grantOrdersPolicy = strings.Replace(basePolicy, "tables: [users, products]", "tables: [users, products, orders]", 1)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stack is the full pipeline behind a test HTTP server.
type stack struct {
	policyPath string
	policies   *service.PolicyService
	metrics    *httpadapter.Metrics
	audit      *service.AuditService
	decisions  *sqlite.DecisionStore
	server     *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := testLogger()

	policyPath := filepath.Join(dir, "policy.yaml")
	writePolicy(t, policyPath, basePolicy)

	reg := prometheus.NewRegistry()
	metrics := httpadapter.NewMetrics(reg)

	conditions, err := cel.NewEvaluator()
	if err != nil {
		t.Fatalf("cel.NewEvaluator() error: %v", err)
	}
	policies, err := service.NewPolicyService(ctx, policyfile.NewSource(policyPath), logger,
		service.WithConditions(conditions), service.WithReloadObserver(metrics))
	if err != nil {
		t.Fatalf("NewPolicyService() error: %v", err)
	}

	exec, err := database.OpenSQL(ctx, "sqlite", filepath.Join(dir, "app.db"), logger)
	if err != nil {
		t.Fatalf("OpenSQL() error: %v", err)
	}
	t.Cleanup(func() { _ = exec.Close() })
	if _, err := exec.DB().ExecContext(ctx, schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	decisions, err := sqlite.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = decisions.Close() })

	auditSvc := service.NewAuditService(decisions, logger,
		service.WithFlushInterval(10*time.Millisecond), service.WithDropHook(metrics.AuditDropped))
	auditSvc.Start(ctx)
	t.Cleanup(auditSvc.Stop)

	stats := service.NewStatsService()
	gw := service.NewGatewayService(policies, query.NewBuilder(query.SQLite, query.DefaultLimits()), exec, auditSvc, logger,
		service.WithDecisionObserver(service.MultiObserver{metrics, stats}))

	authStore := memory.NewAuthStore()
	seven := int64(7)
	for _, id := range []struct {
		id, role, key string
		userID        *int64
	}{
		{"reader-1", "reader", readerKey, nil},
		{"writer-7", "writer", writerKey, &seven},
		{"admin-1", "admin", adminKey, nil},
	} {
		authStore.AddIdentity(&auth.Identity{ID: id.id, Name: id.id, Role: id.role, UserID: id.userID})
		authStore.AddKey(&auth.APIKey{Key: "sha256:" + auth.HashKey(id.key), IdentityID: id.id})
	}

	api := httpadapter.NewAPIHandler(gw, httpadapter.WithStats(stats), httpadapter.WithDecisionQuery(decisions))
	server := httpadapter.NewServer(api,
		httpadapter.WithLogger(logger),
		httpadapter.WithMetrics(metrics, reg),
		httpadapter.WithAuthenticator(auth.NewAPIKeyService(authStore)),
		httpadapter.WithHealthChecker(httpadapter.NewHealthChecker(policies, exec, auditSvc, nil, "test")))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &stack{
		policyPath: policyPath,
		policies:   policies,
		metrics:    metrics,
		audit:      auditSvc,
		decisions:  decisions,
		server:     ts,
	}
}

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func (s *stack) do(t *testing.T, method, path, key, body string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func tableNames(body map[string]any) []string {
	raw, _ := body["tables"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}
