package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned for unknown, expired, or revoked keys.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash type names returned by DetectHashType.
const (
	HashArgon2id = "argon2id"
	HashSHA256   = "sha256"
	HashUnknown  = "unknown"
)

// APIKeyService validates API keys and returns identities.
type APIKeyService struct {
	store AuthStore
	now   func() time.Time
}

// NewAPIKeyService creates an APIKeyService over store.
func NewAPIKeyService(store AuthStore) *APIKeyService {
	return &APIKeyService{store: store, now: time.Now}
}

// Validate resolves a raw key to its identity. SHA-256 hashes are found by
// direct lookup; Argon2id hashes require checking each stored key.
func (s *APIKeyService) Validate(ctx context.Context, rawKey string) (*Identity, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	if key, err := s.store.GetAPIKey(ctx, HashKey(rawKey)); err == nil {
		return s.resolve(ctx, key)
	}

	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, key := range keys {
		if DetectHashType(key.Key) != HashArgon2id {
			continue
		}
		if ok, err := VerifyKey(rawKey, key.Key); err == nil && ok {
			return s.resolve(ctx, key)
		}
	}
	return nil, ErrInvalidKey
}

func (s *APIKeyService) resolve(ctx context.Context, key *APIKey) (*Identity, error) {
	if key.Revoked || key.IsExpired(s.now().UTC()) {
		return nil, ErrInvalidKey
	}
	id, err := s.store.GetIdentity(ctx, key.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("resolve identity %q: %w", key.IdentityID, err)
	}
	return id, nil
}

// HashKey returns the SHA-256 hex hash of the raw key.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// argon2idParams follow the OWASP minimum: 46 MiB, one pass, one lane.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns a salted Argon2id hash of the raw key in PHC format.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the algorithm of a stored hash.
func DetectHashType(stored string) string {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return HashArgon2id
	case strings.HasPrefix(stored, "sha256:"):
		return HashSHA256
	case len(stored) == 64 && isHex(stored):
		return HashSHA256
	}
	return HashUnknown
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey checks a raw key against a stored hash in constant time.
func VerifyKey(rawKey, stored string) (bool, error) {
	switch DetectHashType(stored) {
	case HashArgon2id:
		return safeArgon2idCompare(rawKey, stored)
	case HashSHA256:
		want := strings.ToLower(strings.TrimPrefix(stored, "sha256:"))
		return subtle.ConstantTimeCompare([]byte(HashKey(rawKey)), []byte(want)) == 1, nil
	}
	return false, ErrUnknownHashType
}

// safeArgon2idCompare converts panics from malformed PHC parameters
// (t=0, p=0) into errors.
func safeArgon2idCompare(rawKey, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, stored)
}
