package auth

import (
	"context"
	"errors"
)

// Sentinel errors for auth store lookups.
var (
	ErrKeyNotFound      = errors.New("api key not found")
	ErrIdentityNotFound = errors.New("identity not found")
)

// AuthStore provides credential lookup for authentication.
type AuthStore interface {
	// GetAPIKey retrieves an API key by its SHA-256 hash.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetIdentity retrieves an identity by ID.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// ListAPIKeys returns all keys for hash-by-hash verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
