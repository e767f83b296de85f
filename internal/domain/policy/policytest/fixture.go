// Package policytest provides a shared permission configuration for tests.
package policytest

import (
	"testing"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Raw returns a fresh configuration with four roles and three tables:
//
//	admin    every table, read/write/delete/admin
//	reader   users (id, name, email) and products, read only
//	writer   orders and users, read/write, orders scoped to user_id
//	support  users and orders, read only, users scoped to tenant_id
func Raw() policy.RawConfig {
	return policy.RawConfig{
		Version:     "1.0",
		DefaultRole: "reader",
		Roles: map[string]policy.RawRole{
			"admin": {
				Description: "Full access",
				Tables:      []string{"*"},
				Operations:  []string{"read", "write", "delete", "admin"},
			},
			"reader": {
				Description: "Read-only access to public data",
				Tables:      []string{"users", "products"},
				Operations:  []string{"read"},
				Columns:     map[string][]string{"users": {"id", "name", "email"}},
			},
			"writer": {
				Description: "Manage own orders",
				Tables:      []string{"orders", "users"},
				Operations:  []string{"read", "write"},
				RowFilters:  map[string]string{"orders": "user_id = {user_id}"},
			},
			"support": {
				Description: "Customer support",
				Tables:      []string{"users", "orders"},
				Operations:  []string{"read"},
				RowFilters:  map[string]string{"users": "tenant_id = {tenant_id}"},
			},
		},
		Tables: map[string]policy.RawTable{
			"users": {
				PrimaryKey:          "id",
				PrimaryKeyGenerated: true,
				Columns: []policy.RawColumn{
					{Name: "id", Type: "integer"},
					{Name: "name", Type: "text"},
					{Name: "email", Type: "text", Sensitive: true, Format: "email"},
					{Name: "phone", Type: "text", Sensitive: true},
					{Name: "ssn", Type: "text", Sensitive: true, VisibleTo: []string{"admin"}},
					{Name: "tenant_id", Type: "integer"},
				},
			},
			"orders": {
				PrimaryKey: "id",
				Columns: []policy.RawColumn{
					{Name: "id", Type: "integer"},
					{Name: "user_id", Type: "integer"},
					{Name: "amount", Type: "numeric"},
					{Name: "status", Type: "text"},
				},
			},
			"products": {
				Columns: []policy.RawColumn{
					{Name: "id", Type: "integer"},
					{Name: "name", Type: "text"},
					{Name: "price", Type: "numeric"},
					{Name: "cost", Type: "numeric", VisibleTo: []string{"admin"}},
				},
			},
		},
	}
}

// Snapshot loads Raw, failing the test on error.
func Snapshot(t testing.TB, opts ...policy.Option) *policy.Snapshot {
	t.Helper()
	s, err := policy.Load(Raw(), opts...)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
