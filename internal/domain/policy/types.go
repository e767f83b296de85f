// Package policy contains the immutable permission and schema model that
// every authorization decision is made against.
package policy

import (
	"slices"
	"sort"
	"time"
)

// Operation is a requested or permitted data operation.
type Operation string

const (
	// OpRead selects rows.
	OpRead Operation = "read"
	// OpWrite is insert or update. As a request it is normalized before
	// authorization; as a permission it grants both.
	OpWrite Operation = "write"
	// OpInsert creates rows.
	OpInsert Operation = "insert"
	// OpUpdate modifies rows.
	OpUpdate Operation = "update"
	// OpDelete removes rows.
	OpDelete Operation = "delete"
	// OpAdmin runs a validated raw SELECT without row or column rewriting.
	OpAdmin Operation = "admin"
	// OpAll in a permission means read, write and delete. It never implies admin.
	OpAll Operation = "*"
)

// ParseOperation converts a string to an Operation.
func ParseOperation(s string) (Operation, bool) {
	switch op := Operation(s); op {
	case OpRead, OpWrite, OpInsert, OpUpdate, OpDelete, OpAdmin, OpAll:
		return op, true
	}
	return "", false
}

// OperationSet is the set of operations a permission grants.
type OperationSet uint8

const (
	grantRead OperationSet = 1 << iota
	grantInsert
	grantUpdate
	grantDelete
	grantAdmin
)

// NewOperationSet expands permission operations into a set.
func NewOperationSet(ops ...Operation) OperationSet {
	var s OperationSet
	for _, op := range ops {
		switch op {
		case OpRead:
			s |= grantRead
		case OpWrite:
			s |= grantInsert | grantUpdate
		case OpInsert:
			s |= grantInsert
		case OpUpdate:
			s |= grantUpdate
		case OpDelete:
			s |= grantDelete
		case OpAdmin:
			s |= grantAdmin
		case OpAll:
			s |= grantRead | grantInsert | grantUpdate | grantDelete
		}
	}
	return s
}

// Has reports whether the set grants op. OpWrite requires both insert and update.
func (s OperationSet) Has(op Operation) bool {
	switch op {
	case OpRead:
		return s&grantRead != 0
	case OpWrite:
		return s&(grantInsert|grantUpdate) == grantInsert|grantUpdate
	case OpInsert:
		return s&grantInsert != 0
	case OpUpdate:
		return s&grantUpdate != 0
	case OpDelete:
		return s&grantDelete != 0
	case OpAdmin:
		return s&grantAdmin != 0
	}
	return false
}

// List returns the concrete operations in the set in a stable order.
func (s OperationSet) List() []Operation {
	var out []Operation
	for _, op := range []Operation{OpRead, OpInsert, OpUpdate, OpDelete, OpAdmin} {
		if s.Has(op) {
			out = append(out, op)
		}
	}
	return out
}

// WildcardTable is the table key of a permission that applies to every table
// without an exact entry.
const WildcardTable = "*"

// ColumnSpec describes one declared column.
type ColumnSpec struct {
	// Name is the column identifier.
	Name string
	// Type is the declared SQL type, informational.
	Type string
	// Sensitive marks the column for masking.
	Sensitive bool
	// Format selects the partial-masking shape (email, phone, ssn, credit_card).
	// Empty means infer from the column name.
	Format string
	// VisibleTo restricts the column to the listed roles. Nil means everyone.
	VisibleTo []string
}

// VisibleToRole reports whether role may see the column at all.
func (c ColumnSpec) VisibleToRole(role string) bool {
	if c.VisibleTo == nil {
		return true
	}
	return slices.Contains(c.VisibleTo, role) || slices.Contains(c.VisibleTo, "*")
}

// TableSchema is the declared shape of one table.
type TableSchema struct {
	// Name is the table identifier.
	Name string
	// Columns are the declared columns in declaration order.
	Columns []ColumnSpec
	// PrimaryKey names the primary key column.
	PrimaryKey string
	// PrimaryKeyGenerated rejects caller-supplied primary key values on insert.
	PrimaryKeyGenerated bool
	// RoleRowFilters apply to a role whose permission for this table has no
	// row filter of its own.
	RoleRowFilters map[string]*Template

	index map[string]int
}

// Column returns the column spec by exact name.
func (t *TableSchema) Column(name string) (ColumnSpec, bool) {
	i, ok := t.index[name]
	if !ok {
		return ColumnSpec{}, false
	}
	return t.Columns[i], true
}

// HasColumn reports whether name is a declared column.
func (t *TableSchema) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnPosition returns the declaration index of name, or -1.
func (t *TableSchema) ColumnPosition(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// ColumnNames returns the declared column names in declaration order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// TablePermission is what one role may do on one table (or on "*").
type TablePermission struct {
	// Table is the table name or WildcardTable.
	Table string
	// Operations is the granted operation set.
	Operations OperationSet
	// Columns restricts the granted columns. Nil means every declared column.
	Columns []string
	// RowFilter is ANDed into every non-admin statement.
	RowFilter *Template
	// UnrestrictedMutation allows update/delete without any predicate.
	UnrestrictedMutation bool
	// Condition is an optional guard evaluated per request.
	Condition Condition
	// ConditionSource is the original condition expression.
	ConditionSource string

	columnSet map[string]struct{}
}

// AllowsColumn reports whether the permission's column list admits name.
func (p *TablePermission) AllowsColumn(name string) bool {
	if p.Columns == nil {
		return true
	}
	_, ok := p.columnSet[name]
	return ok
}

// Role is a named set of table permissions.
type Role struct {
	// Name is the role identifier.
	Name string
	// Description is free text.
	Description string

	exact    map[string]*TablePermission
	wildcard *TablePermission
}

// Permission returns the permission governing table. An exact entry fully
// replaces the wildcard entry.
func (r *Role) Permission(table string) (*TablePermission, bool) {
	if p, ok := r.exact[table]; ok {
		return p, true
	}
	if r.wildcard != nil {
		return r.wildcard, true
	}
	return nil, false
}

// Wildcard returns the "*" permission, if declared.
func (r *Role) Wildcard() (*TablePermission, bool) {
	return r.wildcard, r.wildcard != nil
}

// ExactTables returns the tables with an exact entry, sorted.
func (r *Role) ExactTables() []string {
	out := make([]string, 0, len(r.exact))
	for t := range r.exact {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Snapshot is an immutable, versioned view of roles, schemas and masking
// rules. A request captures one snapshot and uses it throughout.
type Snapshot struct {
	// Version is the configuration's declared version string.
	Version string
	// Revision increases with every successful load by the policy holder.
	Revision uint64
	// Fingerprint is a hash of the configuration source, 0 when unknown.
	Fingerprint uint64
	// LoadedAt is when the snapshot was built.
	LoadedAt time.Time
	// DefaultRole is used for requests that name no role.
	DefaultRole string
	// Masking holds the masking strategies.
	Masking MaskingRules

	roles     map[string]*Role
	tables    map[string]*TableSchema
	tableList []string
	sensitive map[string]ColumnSpec
}

// Role returns a declared role.
func (s *Snapshot) Role(name string) (*Role, bool) {
	r, ok := s.roles[name]
	return r, ok
}

// RoleNames returns declared role names, sorted.
func (s *Snapshot) RoleNames() []string {
	out := make([]string, 0, len(s.roles))
	for n := range s.roles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Table returns a declared table schema.
func (s *Snapshot) Table(name string) (*TableSchema, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// TableNames returns declared table names, sorted.
func (s *Snapshot) TableNames() []string {
	return slices.Clone(s.tableList)
}

// SensitiveColumn returns the first declared sensitive column with the given
// name across all tables. Used to mask raw results whose source table is unknown.
func (s *Snapshot) SensitiveColumn(name string) (ColumnSpec, bool) {
	c, ok := s.sensitive[name]
	return c, ok
}
