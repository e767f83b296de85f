package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	_ "modernc.org/sqlite"

	httpadapter "github.com/Sentinel-Gate/querygate/internal/adapter/inbound/http"
	auditfile "github.com/Sentinel-Gate/querygate/internal/adapter/outbound/audit"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/database"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/policyfile"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/querygate/internal/config"
	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
	"github.com/Sentinel-Gate/querygate/internal/domain/auth"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
	"github.com/Sentinel-Gate/querygate/internal/port/outbound"
	"github.com/Sentinel-Gate/querygate/internal/service"
)

// decisionStore is what every audit output provides.
type decisionStore interface {
	audit.DecisionStore
	audit.QueryStore
}

// app holds the components shared by serve and mcp.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *httpadapter.Metrics
	source   *policyfile.Source
	policies *service.PolicyService
	executor outbound.Executor
	store    decisionStore
	audit    *service.AuditService
	stats    *service.StatsService
	gateway  *service.GatewayService
	tracer   *sdktrace.TracerProvider
}

// loadConfig loads and validates configuration, letting --dev override the file.
func loadConfig(devFlag bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devFlag {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr; stdout is reserved for the MCP stream.
// DevMode always forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildApp wires the pipeline. stdio reports whether stdout carries the MCP
// stream, in which case "stdout" audit output goes to stderr instead.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdio bool) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = httpadapter.NewMetrics(a.registry)

	if cfg.Telemetry.TraceStdout {
		if a.tracer, err = newTracerProvider(cfg.Telemetry.ServiceName); err != nil {
			return nil, err
		}
		otel.SetTracerProvider(a.tracer)
	}

	conditions, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	a.source = policyfile.NewSource(cfg.Policy.File)
	a.policies, err = service.NewPolicyService(ctx, a.source, logger,
		service.WithConditions(conditions),
		service.WithReloadObserver(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to load policy %s: %w", cfg.Policy.File, err)
	}

	if a.executor, err = openExecutor(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}

	var stdout io.Writer = os.Stdout
	if stdio {
		stdout = os.Stderr
	}
	if a.store, err = openDecisionStore(cfg.Audit, stdout, logger); err != nil {
		return nil, err
	}

	a.audit = service.NewAuditService(a.store, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(mustDuration(cfg.Audit.FlushInterval)),
		service.WithSendTimeout(mustDuration(cfg.Audit.SendTimeout)),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
		service.WithDropHook(a.metrics.AuditDropped))
	// The worker outlives ctx so requests finishing during shutdown are
	// still recorded; Close stops it.
	a.audit.Start(context.WithoutCancel(ctx))

	dialect, err := query.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	builder := query.NewBuilder(dialect, query.Limits{
		DefaultPageSize: cfg.Query.DefaultLimit,
		MaxPageSize:     cfg.Query.MaxLimit,
		HardRowCap:      cfg.Query.MaxRows,
	})

	a.stats = service.NewStatsService()
	opts := []service.GatewayOption{
		service.WithDecisionObserver(service.MultiObserver{a.metrics, a.stats}),
		service.WithQueryTimeout(mustDuration(cfg.Query.Timeout)),
	}
	if a.tracer != nil {
		opts = append(opts, service.WithTracer(a.tracer.Tracer("github.com/Sentinel-Gate/querygate")))
	}
	a.gateway = service.NewGatewayService(a.policies, builder, a.executor, a.audit, logger, opts...)

	snap := a.policies.Current()
	logger.Info("querygate ready",
		"policy", cfg.Policy.File,
		"revision", snap.Revision,
		"roles", len(snap.RoleNames()),
		"tables", len(snap.TableNames()),
		"driver", cfg.Database.Driver,
		"audit", cfg.Audit.Output)
	return a, nil
}

// Close drains the audit queue before closing the store, then releases the
// database and flushes spans.
func (a *app) Close() {
	if a.audit != nil {
		a.audit.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close decision store", "error", err)
		}
	}
	if a.executor != nil {
		if err := a.executor.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}

// reload re-reads the policy file. Failures keep the current snapshot.
func (a *app) reload(ctx context.Context) error {
	changed, err := a.policies.Reload(ctx)
	if err != nil {
		return err
	}
	if changed {
		a.logger.Info("policy reloaded", "revision", a.policies.Current().Revision)
	}
	return nil
}

func openExecutor(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (outbound.Executor, error) {
	switch cfg.Driver {
	case "postgres":
		exec, err := database.NewPostgresExecutor(ctx, database.PostgresConfig{
			DSN:           cfg.DSN,
			MaxConns:      int32(cfg.MaxConns),
			TenantSetting: cfg.TenantSetting,
		}, logger)
		if err != nil {
			return nil, err
		}
		return exec, nil
	case "sqlite":
		exec, err := database.OpenSQL(ctx, "sqlite", cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		exec.DB().SetMaxOpenConns(cfg.MaxConns)
		return exec, nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}

// openDecisionStore creates the store named by cfg.Output. Validation has
// already checked the form, so only open failures are reported.
func openDecisionStore(cfg config.AuditConfig, stdout io.Writer, logger *slog.Logger) (decisionStore, error) {
	switch {
	case cfg.Output == "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.BufferSize)
		return memory.NewDecisionStoreWithWriter(stdout, cfg.BufferSize), nil

	case cfg.Output == "memory":
		logger.Debug("audit output: memory", "buffer_size", cfg.BufferSize)
		return memory.NewDecisionStoreWithWriter(nil, cfg.BufferSize), nil

	case strings.HasPrefix(cfg.Output, "file://"):
		path := strings.TrimPrefix(cfg.Output, "file://")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
		}
		logger.Debug("audit output: file", "path", path, "buffer_size", cfg.BufferSize)
		return memory.NewDecisionStoreWithWriter(f, cfg.BufferSize), nil

	case strings.HasPrefix(cfg.Output, "dir://"):
		dir := strings.TrimPrefix(cfg.Output, "dir://")
		logger.Debug("audit output: rotating files", "dir", dir, "retention_days", cfg.RetentionDays)
		store, err := auditfile.NewFileStore(auditfile.FileConfig{
			Dir:           dir,
			RetentionDays: cfg.RetentionDays,
			MaxFileSizeMB: cfg.MaxFileSizeMB,
			CacheSize:     cfg.BufferSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case strings.HasPrefix(cfg.Output, "sqlite://"):
		path := strings.TrimPrefix(cfg.Output, "sqlite://")
		logger.Debug("audit output: sqlite", "path", path)
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("invalid audit output: %s", cfg.Output)
}

func newTracerProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", Version)))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
}

// newAuthenticator seeds an in-memory auth store from the config.
func newAuthenticator(cfg config.AuthConfig) *auth.APIKeyService {
	store := memory.NewAuthStore()
	for _, id := range cfg.Identities {
		store.AddIdentity(&auth.Identity{
			ID:       id.ID,
			Name:     id.Name,
			Role:     id.Role,
			UserID:   id.UserID,
			TenantID: id.TenantID,
		})
	}
	for _, k := range cfg.APIKeys {
		store.AddKey(&auth.APIKey{Key: k.KeyHash, IdentityID: k.IdentityID, Name: k.Name})
	}
	return auth.NewAPIKeyService(store)
}

// staticActor is the identity for MCP and keyless dev-mode requests.
func staticActor(cfg config.StaticIdentity) policy.Actor {
	return policy.Actor{Role: cfg.Role, UserID: cfg.UserID, TenantID: cfg.TenantID}
}

// mustDuration parses a duration that validation has already accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
