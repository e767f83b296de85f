package policy

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

type loadOptions struct {
	revision    uint64
	fingerprint uint64
	compiler    ConditionCompiler
	now         func() time.Time
}

// Option configures Load.
type Option func(*loadOptions)

// WithRevision sets the snapshot revision.
func WithRevision(rev uint64) Option {
	return func(o *loadOptions) { o.revision = rev }
}

// WithFingerprint records the source fingerprint on the snapshot.
func WithFingerprint(fp uint64) Option {
	return func(o *loadOptions) { o.fingerprint = fp }
}

// WithConditionCompiler enables permission conditions.
func WithConditionCompiler(c ConditionCompiler) Option {
	return func(o *loadOptions) { o.compiler = c }
}

// WithClock overrides the load timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *loadOptions) { o.now = now }
}

// Load validates raw and builds an immutable snapshot. Any inconsistency is
// reported as a *ConfigError; nothing is partially applied.
func Load(raw RawConfig, opts ...Option) (*Snapshot, error) {
	o := loadOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Snapshot{
		Version:     raw.Version,
		Revision:    o.revision,
		Fingerprint: o.fingerprint,
		LoadedAt:    o.now().UTC(),
		DefaultRole: raw.DefaultRole,
		roles:       make(map[string]*Role, len(raw.Roles)),
		tables:      make(map[string]*TableSchema, len(raw.Tables)),
		sensitive:   make(map[string]ColumnSpec),
	}

	if len(raw.Roles) == 0 {
		return nil, &ConfigError{Field: "roles", Msg: "at least one role is required"}
	}
	for name := range raw.Roles {
		if !IsIdentifier(name) {
			return nil, &ConfigError{Role: name, Msg: "role name is not a valid identifier"}
		}
	}
	if raw.DefaultRole == "" {
		return nil, &ConfigError{Field: "default_role", Msg: "is required"}
	}
	if _, ok := raw.Roles[raw.DefaultRole]; !ok {
		return nil, &ConfigError{Field: "default_role", Msg: fmt.Sprintf("role %q is not declared", raw.DefaultRole)}
	}

	tableNames := sortedKeys(raw.Tables)
	if len(tableNames) == 0 {
		return nil, &ConfigError{Field: "tables", Msg: "at least one table is required"}
	}
	for _, name := range tableNames {
		schema, err := loadTable(name, raw.Tables[name], raw.Roles)
		if err != nil {
			return nil, err
		}
		s.tables[name] = schema
		s.tableList = append(s.tableList, name)
		for _, c := range schema.Columns {
			if _, seen := s.sensitive[c.Name]; c.Sensitive && !seen {
				s.sensitive[c.Name] = c
			}
		}
	}

	for _, name := range sortedKeys(raw.Roles) {
		role, err := loadRole(name, raw.Roles[name], s.tables, o.compiler)
		if err != nil {
			return nil, err
		}
		s.roles[name] = role
	}

	masking, err := loadMasking(raw.Masking, s)
	if err != nil {
		return nil, err
	}
	s.Masking = masking
	return s, nil
}

func loadTable(name string, rt RawTable, roles map[string]RawRole) (*TableSchema, error) {
	if !IsIdentifier(name) {
		return nil, &ConfigError{Table: name, Msg: "table name is not a valid identifier"}
	}
	if len(rt.Columns) == 0 {
		return nil, &ConfigError{Table: name, Field: "columns", Msg: "at least one column is required"}
	}

	schema := &TableSchema{
		Name:                name,
		PrimaryKey:          rt.PrimaryKey,
		PrimaryKeyGenerated: rt.PrimaryKeyGenerated,
		index:               make(map[string]int, len(rt.Columns)),
	}
	if schema.PrimaryKey == "" {
		schema.PrimaryKey = "id"
	}
	for i, rc := range rt.Columns {
		if !IsIdentifier(rc.Name) {
			return nil, &ConfigError{Table: name, Field: "columns", Msg: fmt.Sprintf("column %q is not a valid identifier", rc.Name)}
		}
		if _, dup := schema.index[rc.Name]; dup {
			return nil, &ConfigError{Table: name, Field: "columns", Msg: fmt.Sprintf("column %q declared twice", rc.Name)}
		}
		for _, r := range rc.VisibleTo {
			if _, ok := roles[r]; !ok && r != "*" {
				return nil, &ConfigError{Table: name, Field: "columns." + rc.Name + ".visible_to", Msg: fmt.Sprintf("role %q is not declared", r)}
			}
		}
		switch rc.Format {
		case "", "email", "phone", "ssn", "credit_card":
		default:
			return nil, &ConfigError{Table: name, Field: "columns." + rc.Name + ".format", Msg: fmt.Sprintf("unknown format %q", rc.Format)}
		}
		schema.index[rc.Name] = i
		schema.Columns = append(schema.Columns, ColumnSpec{
			Name:      rc.Name,
			Type:      rc.Type,
			Sensitive: rc.Sensitive,
			Format:    rc.Format,
			VisibleTo: slices.Clone(rc.VisibleTo),
		})
	}
	if !schema.HasColumn(schema.PrimaryKey) {
		return nil, &ConfigError{Table: name, Field: "primary_key", Msg: fmt.Sprintf("column %q is not declared", schema.PrimaryKey)}
	}

	if len(rt.RowFilter) > 0 {
		schema.RoleRowFilters = make(map[string]*Template, len(rt.RowFilter))
		for _, role := range sortedKeys(rt.RowFilter) {
			if _, ok := roles[role]; !ok {
				return nil, &ConfigError{Table: name, Field: "row_filter", Msg: fmt.Sprintf("role %q is not declared", role)}
			}
			tmpl, err := compileFor(rt.RowFilter[role], schema)
			if err != nil {
				return nil, &ConfigError{Role: role, Table: name, Field: "row_filter", Msg: err.Error()}
			}
			schema.RoleRowFilters[role] = tmpl
		}
	}
	return schema, nil
}

// compileFor compiles a template and, when schema is known, checks its
// column references.
func compileFor(src string, schema *TableSchema) (*Template, error) {
	tmpl, err := CompileTemplate(src)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		if err := tmpl.CheckColumns(schema); err != nil {
			return nil, err
		}
	}
	return tmpl, nil
}

func loadRole(name string, rr RawRole, tables map[string]*TableSchema, compiler ConditionCompiler) (*Role, error) {
	role := &Role{Name: name, Description: rr.Description, exact: make(map[string]*TablePermission)}

	ops, err := parseOperations(rr.Operations)
	if err != nil {
		return nil, &ConfigError{Role: name, Field: "operations", Msg: err.Error()}
	}

	listed := make(map[string]bool, len(rr.Tables))
	for _, t := range rr.Tables {
		listed[t] = true
	}
	for _, t := range sortedKeys(rr.Columns) {
		if !listed[t] {
			return nil, &ConfigError{Role: name, Table: t, Field: "columns", Msg: "table is not listed in the role's tables"}
		}
	}
	for _, t := range sortedKeys(rr.RowFilters) {
		if !listed[t] {
			return nil, &ConfigError{Role: name, Table: t, Field: "row_filters", Msg: "table is not listed in the role's tables"}
		}
	}
	unrestricted := make(map[string]bool, len(rr.UnrestrictedMutation))
	for _, t := range rr.UnrestrictedMutation {
		if !listed[t] {
			return nil, &ConfigError{Role: name, Table: t, Field: "unrestricted_mutation", Msg: "table is not listed in the role's tables"}
		}
		unrestricted[t] = true
	}

	for _, t := range rr.Tables {
		perm, err := buildPermission(name, t, ops, rr.Columns[t], rr.RowFilters[t], unrestricted[t], "", tables, compiler)
		if err != nil {
			return nil, err
		}
		role.set(perm)
	}

	for _, t := range sortedKeys(rr.Permissions) {
		rp := rr.Permissions[t]
		pops, err := parseOperations(rp.Operations)
		if err != nil {
			return nil, &ConfigError{Role: name, Table: t, Field: "operations", Msg: err.Error()}
		}
		if len(pops) == 0 {
			return nil, &ConfigError{Role: name, Table: t, Field: "operations", Msg: "at least one operation is required"}
		}
		perm, err := buildPermission(name, t, pops, rp.Columns, rp.RowFilter, rp.UnrestrictedMutation, rp.Condition, tables, compiler)
		if err != nil {
			return nil, err
		}
		role.set(perm)
	}
	return role, nil
}

func (r *Role) set(p *TablePermission) {
	if p.Table == WildcardTable {
		r.wildcard = p
		return
	}
	r.exact[p.Table] = p
}

func buildPermission(role, table string, ops []Operation, columns []string, rowFilter string,
	unrestricted bool, condition string, tables map[string]*TableSchema, compiler ConditionCompiler) (*TablePermission, error) {
	perm := &TablePermission{
		Table:                table,
		Operations:           NewOperationSet(ops...),
		UnrestrictedMutation: unrestricted,
		ConditionSource:      condition,
	}

	var schema *TableSchema
	if table != WildcardTable {
		var ok bool
		schema, ok = tables[table]
		if !ok {
			return nil, &ConfigError{Role: role, Table: table, Msg: "table is not declared"}
		}
	}

	if columns != nil {
		if schema == nil {
			return nil, &ConfigError{Role: role, Table: table, Field: "columns", Msg: "columns cannot be restricted on the wildcard entry"}
		}
		perm.Columns = make([]string, 0, len(columns))
		perm.columnSet = make(map[string]struct{}, len(columns))
		for _, c := range columns {
			if !schema.HasColumn(c) {
				return nil, &ConfigError{Role: role, Table: table, Field: "columns", Msg: fmt.Sprintf("column %q is not declared", c)}
			}
			if _, dup := perm.columnSet[c]; dup {
				continue
			}
			perm.columnSet[c] = struct{}{}
			perm.Columns = append(perm.Columns, c)
		}
	}

	if rowFilter != "" {
		tmpl, err := compileFor(rowFilter, schema)
		if err != nil {
			return nil, &ConfigError{Role: role, Table: table, Field: "row_filter", Msg: err.Error()}
		}
		perm.RowFilter = tmpl
	}

	if condition != "" {
		if compiler == nil {
			return nil, &ConfigError{Role: role, Table: table, Field: "condition", Msg: "conditions are not enabled"}
		}
		cond, err := compiler.CompileCondition(condition)
		if err != nil {
			return nil, &ConfigError{Role: role, Table: table, Field: "condition", Msg: err.Error()}
		}
		perm.Condition = cond
	}
	return perm, nil
}

func parseOperations(raw []string) ([]Operation, error) {
	ops := make([]Operation, 0, len(raw))
	for _, s := range raw {
		op, ok := ParseOperation(s)
		if !ok {
			return nil, fmt.Errorf("unknown operation %q", s)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func loadMasking(raw map[string]map[string]string, s *Snapshot) (MaskingRules, error) {
	if raw == nil {
		return DefaultMaskingRules(), nil
	}
	rules := make(MaskingRules, len(raw))
	for _, key := range sortedKeys(raw) {
		table, column := splitMaskKey(key)
		if !IsIdentifier(column) || table != "" && !IsIdentifier(table) {
			return nil, &ConfigError{Field: "masking." + key, Msg: "key must be column or table.column"}
		}
		if table != "" {
			if err := s.ValidateIdentifiers(table, column); err != nil {
				return nil, &ConfigError{Table: table, Field: "masking." + key, Msg: err.Error()}
			}
		}
		entry := make(map[string]MaskStrategy, len(raw[key]))
		for role, strat := range raw[key] {
			if _, ok := s.roles[role]; !ok && role != "*" {
				return nil, &ConfigError{Role: role, Field: "masking." + key, Msg: "role is not declared"}
			}
			m, ok := ParseMaskStrategy(strat)
			if !ok {
				return nil, &ConfigError{Role: role, Field: "masking." + key, Msg: fmt.Sprintf("unknown strategy %q", strat)}
			}
			entry[role] = m
		}
		rules[key] = entry
	}
	return rules, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
