package authz

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy/policytest"
)

func actor(role string, userID, tenantID *int64) policy.Actor {
	return policy.Actor{Role: role, UserID: userID, TenantID: tenantID}
}

func TestAuthorize_ReaderColumnDenied(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	_, err := NewEngine().Authorize(snap, Request{
		Actor:     actor("reader", nil, nil),
		Table:     "users",
		Operation: policy.OpRead,
		Columns:   []string{"id", "phone"},
	})
	var denial *Error
	if !errors.As(err, &denial) || denial.Kind != ColumnNotPermitted || denial.Column != "phone" {
		t.Fatalf("Authorize() error = %v, want ColumnNotPermitted on phone", err)
	}
}

func TestAuthorize_WriterUpdateBindsRowFilter(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	q, err := NewEngine().Authorize(snap, Request{
		Actor:     actor("writer", policytest.Int64(7), nil),
		Table:     "orders",
		Operation: policy.OpUpdate,
		Filters:   map[string]any{"id": 42},
		Values:    map[string]any{"status": "shipped"},
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if q.RowFilter == nil {
		t.Fatal("expected a bound row filter")
	}
	if got := q.RowFilter.Args(); !reflect.DeepEqual(got, []any{int64(7)}) {
		t.Errorf("row filter args = %v, want [7]", got)
	}
	if !reflect.DeepEqual(q.Values, []Value{{Column: "status", Value: "shipped"}}) {
		t.Errorf("values = %v", q.Values)
	}
	if !reflect.DeepEqual(q.Filters, []Filter{{Column: "id", Value: 42}}) {
		t.Errorf("filters = %v", q.Filters)
	}
}

func TestAuthorize_UpdateKeepsRowFilterColumns(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	q, err := NewEngine().Authorize(snap, Request{
		Actor:     actor("writer", policytest.Int64(7), nil),
		Table:     "orders",
		Operation: policy.OpUpdate,
		Filters:   map[string]any{"id": 100},
		Values:    map[string]any{"user_id": 7, "status": "shipped"},
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	want := []Value{{Column: "user_id", Value: 7}, {Column: "status", Value: "shipped"}}
	if !reflect.DeepEqual(q.Values, want) {
		t.Errorf("values = %v, want %v", q.Values, want)
	}

	_, err = NewEngine().Authorize(snap, Request{
		Actor:     actor("writer", policytest.Int64(7), nil),
		Table:     "orders",
		Operation: policy.OpUpdate,
		Filters:   map[string]any{"id": 100},
		Values:    map[string]any{"user_id": 8},
	})
	var denial *Error
	if !errors.As(err, &denial) || denial.Kind != RowFilterViolation || denial.Column != "user_id" {
		t.Fatalf("Authorize() error = %v, want RowFilterViolation on user_id", err)
	}
}

func TestAuthorize_Denials(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{
			name: "table not granted",
			req:  Request{Actor: actor("reader", nil, nil), Table: "orders", Operation: policy.OpRead},
			want: ErrTableNotPermitted,
		},
		{
			name: "operation not granted",
			req:  Request{Actor: actor("reader", nil, nil), Table: "products", Operation: policy.OpDelete, Filters: map[string]any{"id": 1}},
			want: ErrOperationNotPermitted,
		},
		{
			name: "role not declared",
			req:  Request{Actor: actor("guest", nil, nil), Table: "products", Operation: policy.OpRead},
			want: ErrRoleNotDeclared,
		},
		{
			name: "row filter context missing",
			req:  Request{Actor: actor("writer", nil, nil), Table: "orders", Operation: policy.OpRead},
			want: ErrMissingContextForRowFilter,
		},
		{
			name: "per-table role row filter context missing",
			req:  Request{Actor: actor("support", nil, nil), Table: "users", Operation: policy.OpRead},
			want: ErrMissingContextForRowFilter,
		},
		{
			name: "unrestricted delete",
			req:  Request{Actor: actor("admin", nil, nil), Table: "users", Operation: policy.OpDelete},
			want: ErrUnrestrictedMutationNotAllowed,
		},
		{
			name: "column hidden by visible_to",
			req:  Request{Actor: actor("writer", policytest.Int64(1), nil), Table: "users", Operation: policy.OpRead, Columns: []string{"ssn"}},
			want: ErrColumnNotPermitted,
		},
		{
			name: "filter on ungranted column",
			req:  Request{Actor: actor("reader", nil, nil), Table: "users", Operation: policy.OpRead, Filters: map[string]any{"phone": "555"}},
			want: ErrColumnNotPermitted,
		},
		{
			name: "sort on ungranted column",
			req:  Request{Actor: actor("reader", nil, nil), Table: "products", Operation: policy.OpRead, OrderBy: []Sort{{Column: "cost"}}},
			want: ErrColumnNotPermitted,
		},
		{
			name: "insert contradicting row filter",
			req: Request{Actor: actor("writer", policytest.Int64(7), nil), Table: "orders", Operation: policy.OpInsert,
				Values: map[string]any{"user_id": 8, "amount": 10}},
			want: ErrRowFilterViolation,
		},
		{
			name: "update moving a row out of the row filter",
			req: Request{Actor: actor("writer", policytest.Int64(7), nil), Table: "orders", Operation: policy.OpUpdate,
				Filters: map[string]any{"id": 100}, Values: map[string]any{"user_id": 8}},
			want: ErrRowFilterViolation,
		},
		{
			name: "admin raw without wildcard",
			req:  Request{Actor: actor("reader", nil, nil), Operation: policy.OpAdmin, RawSQL: "SELECT 1"},
			want: ErrTableNotPermitted,
		},
		{
			name: "admin raw without admin grant",
			req:  Request{Actor: actor("writer", nil, nil), Table: "orders", Operation: policy.OpAdmin, RawSQL: "SELECT 1"},
			want: ErrOperationNotPermitted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, err := NewEngine().Authorize(snap, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Authorize() = %v, %v; want %v", q, err, tt.want)
			}
		})
	}
}

func TestAuthorize_UnknownIdentifiers(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	for _, req := range []Request{
		{Actor: actor("admin", nil, nil), Table: "accounts", Operation: policy.OpRead},
		{Actor: actor("admin", nil, nil), Table: "users", Operation: policy.OpRead, Columns: []string{"password"}},
		{Actor: actor("admin", nil, nil), Table: "users", Operation: policy.OpRead, Filters: map[string]any{"1=1 OR id": 1}},
	} {
		_, err := NewEngine().Authorize(snap, req)
		var idErr *policy.IdentifierError
		if !errors.As(err, &idErr) {
			t.Errorf("Authorize(%+v) error = %v, want *IdentifierError", req, err)
		}
	}
}

func TestAuthorize_TableNotPermittedIsTotal(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	engine := NewEngine()
	uid, tid := policytest.Int64(1), policytest.Int64(1)
	for _, roleName := range snap.RoleNames() {
		role, _ := snap.Role(roleName)
		for _, table := range snap.TableNames() {
			_, granted := role.Permission(table)
			for _, op := range []policy.Operation{policy.OpRead, policy.OpInsert, policy.OpUpdate, policy.OpDelete} {
				_, err := engine.Authorize(snap, Request{
					Actor: actor(roleName, uid, tid), Table: table, Operation: op,
					Filters: map[string]any{"id": 1}, Values: map[string]any{"id": 1},
				})
				if !granted && !errors.Is(err, ErrTableNotPermitted) {
					t.Errorf("%s %s %s: error = %v, want TableNotPermitted", roleName, op, table, err)
				}
			}
		}
	}
}

func TestAuthorize_ResolvedColumnsAreGranted(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	engine := NewEngine()
	uid, tid := policytest.Int64(1), policytest.Int64(1)
	for _, roleName := range snap.RoleNames() {
		role, _ := snap.Role(roleName)
		for _, table := range snap.TableNames() {
			perm, ok := role.Permission(table)
			if !ok || !perm.Operations.Has(policy.OpRead) {
				continue
			}
			q, err := engine.Authorize(snap, Request{Actor: actor(roleName, uid, tid), Table: table, Operation: policy.OpRead})
			if err != nil {
				t.Fatalf("%s read %s: %v", roleName, table, err)
			}
			schema, _ := snap.Table(table)
			for _, c := range q.Columns {
				spec, declared := schema.Column(c)
				if !declared || !perm.AllowsColumn(c) || !spec.VisibleToRole(roleName) {
					t.Errorf("%s read %s resolved column %q outside the granted set", roleName, table, c)
				}
			}
		}
	}
}

func TestAuthorize_Idempotent(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	engine := NewEngine()
	req := Request{
		Actor:     actor("support", nil, policytest.Int64(3)),
		Table:     "users",
		Operation: policy.OpRead,
		Columns:   []string{"email", "id", "email"},
		Filters:   map[string]any{"name": "ada", "id": 2},
	}
	first, err := engine.Authorize(snap, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Authorize(snap, req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Authorize() is not idempotent:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(first.Columns, []string{"id", "email"}) {
		t.Errorf("columns = %v, want schema order without duplicates", first.Columns)
	}
	if first.Filters[0].Column != "id" || first.Filters[1].Column != "name" {
		t.Errorf("filters not in schema order: %v", first.Filters)
	}
}

func TestAuthorize_WriteNormalization(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	engine := NewEngine()
	uid := policytest.Int64(7)

	q, err := engine.Authorize(snap, Request{Actor: actor("writer", uid, nil), Table: "orders", Operation: policy.OpWrite,
		Values: map[string]any{"amount": 10}})
	if err != nil {
		t.Fatal(err)
	}
	if q.Operation != policy.OpInsert {
		t.Errorf("write without filters = %s, want insert", q.Operation)
	}
	want := []Value{{Column: "user_id", Value: int64(7)}, {Column: "amount", Value: 10}}
	if !reflect.DeepEqual(q.Values, want) {
		t.Errorf("insert values = %v, want forced user_id first in schema order", q.Values)
	}

	q, err = engine.Authorize(snap, Request{Actor: actor("writer", uid, nil), Table: "orders", Operation: policy.OpWrite,
		Filters: map[string]any{"id": 1}, Values: map[string]any{"status": "paid"}})
	if err != nil {
		t.Fatal(err)
	}
	if q.Operation != policy.OpUpdate {
		t.Errorf("write with filters = %s, want update", q.Operation)
	}
}

func TestAuthorize_AdminRaw(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	q, err := NewEngine().Authorize(snap, Request{
		Actor:     actor("admin", nil, nil),
		Operation: policy.OpAdmin,
		RawSQL:    "SELECT id FROM users WHERE id = $1",
		RawArgs:   []any{1},
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if q.RowFilter != nil || q.Columns != nil {
		t.Error("admin raw queries are not rewritten")
	}
	if q.RawSQL == "" || len(q.RawArgs) != 1 {
		t.Errorf("raw query not carried: %+v", q)
	}
}

func TestAuthorize_DefaultRole(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	q, err := NewEngine().Authorize(snap, Request{Table: "products", Operation: policy.OpRead})
	if err != nil {
		t.Fatal(err)
	}
	if q.Actor.Role != "reader" {
		t.Errorf("role = %q, want default reader", q.Actor.Role)
	}
	if !reflect.DeepEqual(q.Columns, []string{"id", "name", "price"}) {
		t.Errorf("columns = %v, cost should be hidden from reader", q.Columns)
	}
}

type staticCondition struct {
	ok  bool
	err error
}

func (c staticCondition) Eval(policy.ConditionInput) (bool, error) { return c.ok, c.err }

type staticCompiler map[string]staticCondition

func (c staticCompiler) CompileCondition(expr string) (policy.Condition, error) {
	return c[expr], nil
}

func TestAuthorize_Condition(t *testing.T) {
	t.Parallel()

	raw := policytest.Raw()
	reader := raw.Roles["reader"]
	reader.Permissions = map[string]policy.RawPermission{
		"products": {Operations: []string{"read"}, Condition: "closed"},
	}
	raw.Roles["reader"] = reader
	snap, err := policy.Load(raw, policy.WithConditionCompiler(staticCompiler{"closed": {ok: false}}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewEngine().Authorize(snap, Request{Actor: actor("reader", nil, nil), Table: "products", Operation: policy.OpRead})
	if !errors.Is(err, ErrConditionNotSatisfied) {
		t.Errorf("Authorize() error = %v, want ConditionNotSatisfied", err)
	}
}
