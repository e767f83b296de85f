// Package auth resolves API keys to caller identities.
package auth

import (
	"time"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Identity is an authenticated caller. Role, UserID and TenantID feed the
// authorization context and row filters.
type Identity struct {
	// ID is the unique identifier for this identity.
	ID string
	// Name is the display name.
	Name string
	// Role is the policy role the caller acts as.
	Role string
	// UserID is the caller's user id, if any.
	UserID *int64
	// TenantID is the caller's tenant id, if any.
	TenantID *int64
}

// Actor converts the identity into an authorization actor.
func (i *Identity) Actor() policy.Actor {
	return policy.Actor{Role: i.Role, UserID: i.UserID, TenantID: i.TenantID}
}

// APIKey is a stored API key credential.
type APIKey struct {
	// Key is the hashed key value (SHA-256 hex, "sha256:" prefixed, or Argon2id PHC).
	Key string
	// IdentityID maps this key to an Identity.
	IdentityID string
	// Name is a human-readable label for this key.
	Name string
	// ExpiresAt is when the key expires (nil = never).
	ExpiresAt *time.Time
	// Revoked disables the key.
	Revoked bool
}

// IsExpired reports whether the key has expired at now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
