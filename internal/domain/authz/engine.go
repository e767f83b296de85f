package authz

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Engine evaluates requests against a snapshot. It holds no mutable state;
// the same snapshot and request always yield the same result.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Authorize validates identifiers, checks the role's permission for the
// table and operation, resolves the granted column set, and binds the row
// filter. Every denial is an *Error or a *policy.IdentifierError.
func (e *Engine) Authorize(snap *policy.Snapshot, req Request) (*AuthorizedQuery, error) {
	actor := req.Actor
	if actor.Role == "" {
		actor.Role = snap.DefaultRole
	}
	role, ok := snap.Role(actor.Role)
	if !ok {
		return nil, &Error{Kind: RoleNotDeclared, Role: actor.Role}
	}
	op := NormalizeOperation(req.Operation, len(req.Filters) > 0)
	if req.RequestTime.IsZero() {
		req.RequestTime = e.now()
	}

	if op == policy.OpAdmin {
		return e.authorizeAdmin(snap, role, actor, req)
	}

	if err := snap.ValidateIdentifiers(req.Table, requestedIdentifiers(req)...); err != nil {
		return nil, err
	}
	schema, _ := snap.Table(req.Table)

	perm, ok := role.Permission(req.Table)
	if !ok {
		return nil, &Error{Kind: TableNotPermitted, Role: role.Name, Table: req.Table, Operation: op}
	}
	if !perm.Operations.Has(op) {
		return nil, &Error{Kind: OperationNotPermitted, Role: role.Name, Table: req.Table, Operation: op}
	}

	granted := GrantedColumns(schema, perm, role.Name)
	grantedSet := make(map[string]struct{}, len(granted))
	for _, c := range granted {
		grantedSet[c] = struct{}{}
	}
	deny := func(col string) error {
		return &Error{Kind: ColumnNotPermitted, Role: role.Name, Table: req.Table, Operation: op, Column: col}
	}
	checkGranted := func(cols []string) error {
		for _, c := range cols {
			if _, ok := grantedSet[c]; !ok {
				return deny(c)
			}
		}
		return nil
	}

	if err := e.checkCondition(perm, actor, op, req); err != nil {
		return nil, err
	}

	q := &AuthorizedQuery{
		SnapshotRevision:  snap.Revision,
		Actor:             actor,
		Table:             schema,
		Operation:         op,
		Granted:           granted,
		OrderBy:           req.OrderBy,
		Page:              Page{Limit: req.Limit, Offset: req.Offset},
		AllowUnrestricted: perm.UnrestrictedMutation,
	}

	switch op {
	case policy.OpRead:
		if len(req.Columns) == 0 {
			if len(granted) == 0 {
				return nil, deny("*")
			}
			q.Columns = granted
		} else {
			if err := checkGranted(req.Columns); err != nil {
				return nil, err
			}
			q.Columns = inSchemaOrder(schema, req.Columns)
		}
	case policy.OpInsert, policy.OpUpdate:
		cols := mapKeys(req.Values)
		if err := checkGranted(cols); err != nil {
			return nil, err
		}
	}

	if err := checkGranted(mapKeys(req.Filters)); err != nil {
		return nil, err
	}
	for _, s := range req.OrderBy {
		if err := checkGranted([]string{s.Column}); err != nil {
			return nil, err
		}
	}
	for _, c := range inSchemaOrder(schema, mapKeys(req.Filters)) {
		q.Filters = append(q.Filters, Filter{Column: c, Value: req.Filters[c]})
	}

	tmpl := perm.RowFilter
	if tmpl == nil {
		tmpl = schema.RoleRowFilters[role.Name]
	}
	if tmpl != nil {
		if perm.Table == policy.WildcardTable {
			if err := tmpl.CheckColumns(schema); err != nil {
				return nil, err
			}
		}
		bound, err := tmpl.Bind(actor)
		if err != nil {
			var missing *policy.MissingVarError
			if errors.As(err, &missing) {
				return nil, &Error{Kind: MissingContextForRowFilter, Role: role.Name, Table: req.Table, Operation: op, Detail: missing.Var}
			}
			return nil, err
		}
		q.RowFilter = bound
	}

	if (op == policy.OpUpdate || op == policy.OpDelete) && q.RowFilter == nil && len(q.Filters) == 0 && !perm.UnrestrictedMutation {
		return nil, &Error{Kind: UnrestrictedMutationNotAllowed, Role: role.Name, Table: req.Table, Operation: op}
	}

	if op == policy.OpInsert || op == policy.OpUpdate {
		values := make(map[string]any, len(req.Values))
		for k, v := range req.Values {
			values[k] = v
		}
		// Row-filter equalities pin their columns: an insert gets the
		// caller's value and an update may not move a row out of scope.
		if tmpl != nil {
			for col, name := range tmpl.Equalities() {
				forced, _ := actor.Lookup(name)
				if v, ok := values[col]; ok && fmt.Sprint(v) != fmt.Sprint(forced) {
					return nil, &Error{Kind: RowFilterViolation, Role: role.Name, Table: req.Table, Operation: op, Column: col,
						Detail: fmt.Sprintf("value must equal %s", name)}
				}
				if op == policy.OpInsert {
					values[col] = forced
				}
			}
		}
		q.Columns = inSchemaOrder(schema, mapKeys(values))
		for _, c := range q.Columns {
			q.Values = append(q.Values, Value{Column: c, Value: values[c]})
		}
	}
	return q, nil
}

func (e *Engine) authorizeAdmin(snap *policy.Snapshot, role *policy.Role, actor policy.Actor, req Request) (*AuthorizedQuery, error) {
	var (
		perm   *policy.TablePermission
		ok     bool
		schema *policy.TableSchema
	)
	if req.Table != "" {
		if err := snap.ValidateIdentifiers(req.Table); err != nil {
			return nil, err
		}
		schema, _ = snap.Table(req.Table)
		perm, ok = role.Permission(req.Table)
	} else {
		perm, ok = role.Wildcard()
	}
	if !ok {
		return nil, &Error{Kind: TableNotPermitted, Role: role.Name, Table: req.Table, Operation: policy.OpAdmin}
	}
	if !perm.Operations.Has(policy.OpAdmin) {
		return nil, &Error{Kind: OperationNotPermitted, Role: role.Name, Table: req.Table, Operation: policy.OpAdmin}
	}
	if err := e.checkCondition(perm, actor, policy.OpAdmin, req); err != nil {
		return nil, err
	}
	return &AuthorizedQuery{
		SnapshotRevision: snap.Revision,
		Actor:            actor,
		Table:            schema,
		Operation:        policy.OpAdmin,
		RawSQL:           req.RawSQL,
		RawArgs:          req.RawArgs,
	}, nil
}

func (e *Engine) checkCondition(perm *policy.TablePermission, actor policy.Actor, op policy.Operation, req Request) error {
	if perm.Condition == nil {
		return nil
	}
	ok, err := perm.Condition.Eval(policy.ConditionInput{
		Actor:       actor,
		Table:       req.Table,
		Operation:   op,
		Columns:     req.Columns,
		Filters:     req.Filters,
		RequestTime: req.RequestTime,
	})
	if err != nil {
		return &Error{Kind: ConditionNotSatisfied, Role: actor.Role, Table: req.Table, Operation: op, Detail: err.Error()}
	}
	if !ok {
		return &Error{Kind: ConditionNotSatisfied, Role: actor.Role, Table: req.Table, Operation: op, Detail: perm.ConditionSource}
	}
	return nil
}

// NormalizeOperation maps a requested write to update when the request
// carries filters and to insert otherwise.
func NormalizeOperation(op policy.Operation, hasFilters bool) policy.Operation {
	if op != policy.OpWrite {
		return op
	}
	if hasFilters {
		return policy.OpUpdate
	}
	return policy.OpInsert
}

// GrantedColumns returns the columns role may touch on schema under perm, in
// schema order: declared, allowed by the permission, and visible to the role.
func GrantedColumns(schema *policy.TableSchema, perm *policy.TablePermission, role string) []string {
	var out []string
	for _, c := range schema.Columns {
		if perm.AllowsColumn(c.Name) && c.VisibleToRole(role) {
			out = append(out, c.Name)
		}
	}
	return out
}

func requestedIdentifiers(req Request) []string {
	ids := make([]string, 0, len(req.Columns)+len(req.Filters)+len(req.Values)+len(req.OrderBy))
	ids = append(ids, req.Columns...)
	ids = append(ids, mapKeys(req.Filters)...)
	ids = append(ids, mapKeys(req.Values)...)
	for _, s := range req.OrderBy {
		ids = append(ids, s.Column)
	}
	return ids
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// inSchemaOrder deduplicates cols and orders them by declaration position.
func inSchemaOrder(schema *policy.TableSchema, cols []string) []string {
	seen := make(map[string]struct{}, len(cols))
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return schema.ColumnPosition(out[i]) < schema.ColumnPosition(out[j])
	})
	return out
}
