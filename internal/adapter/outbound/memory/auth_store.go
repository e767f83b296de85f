package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/Sentinel-Gate/querygate/internal/domain/auth"
)

// AuthStore implements auth.AuthStore with in-memory maps, seeded from
// configuration. Thread-safe for concurrent access.
type AuthStore struct {
	keys       map[string]*auth.APIKey   // normalized hash -> APIKey
	identities map[string]*auth.Identity // ID -> Identity
	mu         sync.RWMutex
}

// NewAuthStore creates a new in-memory auth store.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		keys:       make(map[string]*auth.APIKey),
		identities: make(map[string]*auth.Identity),
	}
}

// normalizeHash indexes SHA-256 hashes by bare lowercase hex so lookups by
// auth.HashKey succeed whether or not the configured hash had a prefix.
func normalizeHash(stored string) string {
	if auth.DetectHashType(stored) == auth.HashSHA256 {
		return strings.ToLower(strings.TrimPrefix(stored, "sha256:"))
	}
	return stored
}

// GetAPIKey retrieves an API key by its SHA-256 hash.
// Returns auth.ErrKeyNotFound if key doesn't exist.
func (s *AuthStore) GetAPIKey(_ context.Context, keyHash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[normalizeHash(keyHash)]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	keyCopy := *key
	return &keyCopy, nil
}

// GetIdentity retrieves an identity by ID.
// Returns auth.ErrIdentityNotFound if identity doesn't exist.
func (s *AuthStore) GetIdentity(_ context.Context, id string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	identityCopy := *identity
	return &identityCopy, nil
}

// AddKey adds an API key.
func (s *AuthStore) AddKey(key *auth.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyCopy := *key
	s.keys[normalizeHash(key.Key)] = &keyCopy
}

// AddIdentity adds an identity.
func (s *AuthStore) AddIdentity(identity *auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identityCopy := *identity
	s.identities[identity.ID] = &identityCopy
}

// ListAPIKeys returns all stored API keys for iteration-based verification.
func (s *AuthStore) ListAPIKeys(context.Context) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*auth.APIKey, 0, len(s.keys))
	for _, key := range s.keys {
		keyCopy := *key
		result = append(result, &keyCopy)
	}
	return result, nil
}

// RemoveKey removes an API key by its stored hash.
func (s *AuthStore) RemoveKey(keyHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, normalizeHash(keyHash))
}

// Compile-time interface verification.
var _ auth.AuthStore = (*AuthStore)(nil)
