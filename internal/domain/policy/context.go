package policy

import (
	"strconv"
	"time"
)

// Context variables a row-filter template may reference.
const (
	VarUserID   = "user_id"
	VarTenantID = "tenant_id"
	VarRole     = "role"
)

// IsContextVar reports whether name is a context variable.
func IsContextVar(name string) bool {
	switch name {
	case VarUserID, VarTenantID, VarRole:
		return true
	}
	return false
}

// Actor is the caller identity a request is evaluated for. It is supplied
// by a trusted upstream and never derived from request content.
type Actor struct {
	// Role is the declared role name. Empty means the snapshot default role.
	Role string
	// UserID is the caller's user id, if known.
	UserID *int64
	// TenantID is the caller's tenant id, if known.
	TenantID *int64
}

// Lookup returns the value of a context variable and whether it is present.
func (a Actor) Lookup(name string) (any, bool) {
	switch name {
	case VarUserID:
		if a.UserID == nil {
			return nil, false
		}
		return *a.UserID, true
	case VarTenantID:
		if a.TenantID == nil {
			return nil, false
		}
		return *a.TenantID, true
	case VarRole:
		if a.Role == "" {
			return nil, false
		}
		return a.Role, true
	}
	return nil, false
}

// String renders the actor for logs.
func (a Actor) String() string {
	s := "role=" + a.Role
	if a.UserID != nil {
		s += " user_id=" + strconv.FormatInt(*a.UserID, 10)
	}
	if a.TenantID != nil {
		s += " tenant_id=" + strconv.FormatInt(*a.TenantID, 10)
	}
	return s
}

// ConditionInput is what a permission condition is evaluated against.
type ConditionInput struct {
	Actor       Actor
	Table       string
	Operation   Operation
	Columns     []string
	Filters     map[string]any
	RequestTime time.Time
}

// Condition is a compiled per-permission guard.
type Condition interface {
	// Eval returns true when the request may proceed.
	Eval(in ConditionInput) (bool, error)
}

// ConditionCompiler compiles condition expressions at load time.
type ConditionCompiler interface {
	CompileCondition(expr string) (Condition, error)
}
