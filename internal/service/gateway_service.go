package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/querygate/internal/ctxkey"
	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
	"github.com/Sentinel-Gate/querygate/internal/domain/authz"
	"github.com/Sentinel-Gate/querygate/internal/domain/masking"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/query"
	"github.com/Sentinel-Gate/querygate/internal/port/inbound"
	"github.com/Sentinel-Gate/querygate/internal/port/outbound"
)

// DecisionObserver sees every decision record, for metrics.
type DecisionObserver interface {
	ObserveDecision(rec audit.DecisionRecord)
}

// GatewayService runs the request pipeline: authorize, build, execute,
// mask, record. Every request yields exactly one decision record.
type GatewayService struct {
	policies     *PolicyService
	engine       *authz.Engine
	builder      *query.Builder
	executor     outbound.Executor
	recorder     audit.Recorder
	observer     DecisionObserver
	tracer       trace.Tracer
	queryTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// GatewayOption configures GatewayService.
type GatewayOption func(*GatewayService)

// WithDecisionObserver registers an observer for decision records.
func WithDecisionObserver(o DecisionObserver) GatewayOption {
	return func(s *GatewayService) { s.observer = o }
}

// WithTracer overrides the tracer. The default is the global provider's.
func WithTracer(t trace.Tracer) GatewayOption {
	return func(s *GatewayService) { s.tracer = t }
}

// WithQueryTimeout bounds each statement execution. 0 means no bound.
func WithQueryTimeout(d time.Duration) GatewayOption {
	return func(s *GatewayService) { s.queryTimeout = d }
}

// NewGatewayService wires the pipeline.
func NewGatewayService(policies *PolicyService, builder *query.Builder, executor outbound.Executor,
	recorder audit.Recorder, logger *slog.Logger, opts ...GatewayOption) *GatewayService {
	s := &GatewayService{
		policies: policies,
		engine:   authz.NewEngine(),
		builder:  builder,
		executor: executor,
		recorder: recorder,
		tracer:   otel.Tracer("github.com/Sentinel-Gate/querygate"),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GatewayService) loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return s.logger
}

// Execute mediates one request. The returned error is detailed; callers
// should show PublicMessage(err) instead.
func (s *GatewayService) Execute(ctx context.Context, req authz.Request) (*inbound.QueryResult, error) {
	start := s.now()
	snap := s.policies.Current()
	requestID := ctxkey.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if req.RequestTime.IsZero() {
		req.RequestTime = start
	}
	actor := req.Actor
	if actor.Role == "" {
		actor.Role = snap.DefaultRole
	}
	op := authz.NormalizeOperation(req.Operation, len(req.Filters) > 0)

	ctx, span := s.tracer.Start(ctx, "querygate.execute", trace.WithAttributes(
		attribute.String("querygate.request_id", requestID),
		attribute.String("querygate.role", actor.Role),
		attribute.String("querygate.table", req.Table),
		attribute.String("querygate.operation", string(op)),
		attribute.Int64("querygate.snapshot_revision", int64(snap.Revision)),
	))
	defer span.End()

	rec := audit.DecisionRecord{
		RequestID:        requestID,
		Timestamp:        start.UTC(),
		Actor:            audit.Actor{UserID: actor.UserID, Role: actor.Role, TenantID: actor.TenantID},
		Table:            req.Table,
		Operation:        string(op),
		ColumnsRequested: requestedColumns(req, op),
		SnapshotRevision: snap.Revision,
	}
	logger := s.loggerFrom(ctx)

	deny := func(err error) (*inbound.QueryResult, error) {
		rec.Outcome = audit.OutcomeDeny
		rec.Reason = Reason(err)
		rec.Detail = err.Error()
		rec.LatencyMicros = s.now().Sub(start).Microseconds()
		s.record(rec)
		span.SetStatus(codes.Error, rec.Reason)
		span.SetAttributes(attribute.String("querygate.outcome", audit.OutcomeDeny))
		logger.Info("request denied",
			"request_id", requestID,
			"role", actor.Role,
			"table", req.Table,
			"operation", op,
			"reason", rec.Reason,
			"error", err,
		)
		return nil, err
	}

	q, err := s.engine.Authorize(snap, req)
	if err != nil {
		return deny(err)
	}
	rec.ColumnsGranted = q.Columns

	stmt, err := s.builder.Build(q)
	if err != nil {
		return deny(err)
	}
	logger.Debug("statement built", "request_id", requestID, "sql", stmt.SQL, "args", len(stmt.Args))

	execCtx := ctx
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}
	rs, err := s.executor.Execute(execCtx, stmt)
	if err != nil {
		return deny(&ExecutionError{Err: err})
	}

	rows := rs.Rows
	switch {
	case q.Operation == policy.OpAdmin:
		rows = masking.MaskRaw(rows, actor.Role, snap)
	case q.Table != nil:
		rows = masking.Mask(rows, actor.Role, q.Table, snap.Masking)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	rec.Outcome = audit.OutcomeAllow
	rec.Reason = ReasonOK
	rec.RowCount = rs.RowCount
	rec.LatencyMicros = s.now().Sub(start).Microseconds()
	s.record(rec)
	span.SetAttributes(
		attribute.String("querygate.outcome", audit.OutcomeAllow),
		attribute.Int64("querygate.row_count", rs.RowCount),
	)

	return &inbound.QueryResult{
		RequestID:        requestID,
		Table:            q.TableName(),
		Operation:        q.Operation,
		Columns:          rs.Columns,
		Rows:             rows,
		RowCount:         rs.RowCount,
		SnapshotRevision: snap.Revision,
	}, nil
}

func (s *GatewayService) record(rec audit.DecisionRecord) {
	if s.recorder != nil {
		s.recorder.Record(rec)
	}
	if s.observer != nil {
		s.observer.ObserveDecision(rec)
	}
}

func requestedColumns(req authz.Request, op policy.Operation) []string {
	switch op {
	case policy.OpInsert, policy.OpUpdate:
		cols := make([]string, 0, len(req.Values))
		for c := range req.Values {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		return cols
	}
	return req.Columns
}

func (s *GatewayService) role(snap *policy.Snapshot, actor policy.Actor) (*policy.Role, error) {
	name := actor.Role
	if name == "" {
		name = snap.DefaultRole
	}
	role, ok := snap.Role(name)
	if !ok {
		return nil, &authz.Error{Kind: authz.RoleNotDeclared, Role: name}
	}
	return role, nil
}

// ListTables returns the tables the actor's role has any permission on.
func (s *GatewayService) ListTables(_ context.Context, actor policy.Actor) ([]string, error) {
	snap := s.policies.Current()
	role, err := s.role(snap, actor)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range snap.TableNames() {
		if perm, ok := role.Permission(t); ok && perm.Operations != 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

// DescribeTable returns the columns and operations visible to the actor.
// Tables the actor cannot access are reported the same way as unknown ones.
func (s *GatewayService) DescribeTable(_ context.Context, actor policy.Actor, table string) (*inbound.TableInfo, error) {
	snap := s.policies.Current()
	role, err := s.role(snap, actor)
	if err != nil {
		return nil, err
	}
	if err := snap.ValidateIdentifiers(table); err != nil {
		return nil, err
	}
	perm, ok := role.Permission(table)
	if !ok {
		return nil, &authz.Error{Kind: authz.TableNotPermitted, Role: role.Name, Table: table}
	}
	schema, _ := snap.Table(table)
	info := describe(schema, perm, role.Name)
	return &info, nil
}

// Permissions summarizes the actor's role.
func (s *GatewayService) Permissions(_ context.Context, actor policy.Actor) (*inbound.Permissions, error) {
	snap := s.policies.Current()
	role, err := s.role(snap, actor)
	if err != nil {
		return nil, err
	}
	out := &inbound.Permissions{Role: role.Name, Description: role.Description, Tables: []inbound.TableInfo{}}
	if wc, ok := role.Wildcard(); ok && wc.Operations.Has(policy.OpAdmin) {
		out.RawQueries = true
	}
	for _, t := range snap.TableNames() {
		perm, ok := role.Permission(t)
		if !ok {
			continue
		}
		schema, _ := snap.Table(t)
		out.Tables = append(out.Tables, describe(schema, perm, role.Name))
	}
	return out, nil
}

func describe(schema *policy.TableSchema, perm *policy.TablePermission, role string) inbound.TableInfo {
	info := inbound.TableInfo{
		Name:       schema.Name,
		Operations: perm.Operations.List(),
		Columns:    []inbound.ColumnInfo{},
		RowFilter:  perm.RowFilter != nil || schema.RoleRowFilters[role] != nil,
	}
	granted := authz.GrantedColumns(schema, perm, role)
	for _, name := range granted {
		c, _ := schema.Column(name)
		info.Columns = append(info.Columns, inbound.ColumnInfo{Name: c.Name, Type: c.Type, Sensitive: c.Sensitive})
		if name == schema.PrimaryKey {
			info.PrimaryKey = name
		}
	}
	return info
}

var _ inbound.Gateway = (*GatewayService)(nil)
