package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/querygate/internal/domain/auth"
)

func TestAuthStore_GetAPIKey(t *testing.T) {
	t.Parallel()

	hash := auth.HashKey("qg_test_key")

	tests := []struct {
		name    string
		stored  string
		lookup  string
		wantErr error
	}{
		{"bare hex", hash, hash, nil},
		{"prefixed hash", "sha256:" + hash, hash, nil},
		{"uppercase hash", strings.ToUpper(hash), hash, nil},
		{"argon2id stored verbatim", "$argon2id$v=19$m=47104,t=1,p=1$c2FsdA$aGFzaA", "$argon2id$v=19$m=47104,t=1,p=1$c2FsdA$aGFzaA", nil},
		{"missing", hash, auth.HashKey("other"), auth.ErrKeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := NewAuthStore()
			store.AddKey(&auth.APIKey{Key: tt.stored, IdentityID: "id-1"})

			got, err := store.GetAPIKey(context.Background(), tt.lookup)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetAPIKey() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.IdentityID != "id-1" {
				t.Errorf("IdentityID = %q, want id-1", got.IdentityID)
			}
		})
	}
}

func TestAuthStore_GetIdentity(t *testing.T) {
	t.Parallel()

	store := NewAuthStore()
	uid := int64(7)
	store.AddIdentity(&auth.Identity{ID: "alice", Role: "writer", UserID: &uid})

	got, err := store.GetIdentity(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if got.Role != "writer" || got.UserID == nil || *got.UserID != 7 {
		t.Errorf("identity = %+v", got)
	}

	if _, err := store.GetIdentity(context.Background(), "bob"); !errors.Is(err, auth.ErrIdentityNotFound) {
		t.Errorf("GetIdentity(bob) error = %v, want ErrIdentityNotFound", err)
	}
}

func TestAuthStore_CopyOnReturn(t *testing.T) {
	t.Parallel()

	store := NewAuthStore()
	hash := auth.HashKey("k")
	store.AddKey(&auth.APIKey{Key: hash, IdentityID: "id-1"})
	store.AddIdentity(&auth.Identity{ID: "id-1", Role: "reader"})

	key, _ := store.GetAPIKey(context.Background(), hash)
	key.Revoked = true
	again, _ := store.GetAPIKey(context.Background(), hash)
	if again.Revoked {
		t.Error("mutating returned key changed stored key")
	}

	id, _ := store.GetIdentity(context.Background(), "id-1")
	id.Role = "admin"
	idAgain, _ := store.GetIdentity(context.Background(), "id-1")
	if idAgain.Role != "reader" {
		t.Error("mutating returned identity changed stored identity")
	}
}

func TestAuthStore_RemoveKey(t *testing.T) {
	t.Parallel()

	store := NewAuthStore()
	hash := auth.HashKey("k")
	store.AddKey(&auth.APIKey{Key: "sha256:" + hash, IdentityID: "id-1"})
	store.RemoveKey(hash)

	keys, _ := store.ListAPIKeys(context.Background())
	if len(keys) != 0 {
		t.Errorf("ListAPIKeys() = %d keys after remove, want 0", len(keys))
	}
}

func TestAuthStore_WithAPIKeyService(t *testing.T) {
	t.Parallel()

	store := NewAuthStore()
	tenant := int64(3)
	store.AddIdentity(&auth.Identity{ID: "support-1", Role: "support", TenantID: &tenant})
	store.AddKey(&auth.APIKey{Key: "sha256:" + strings.ToUpper(auth.HashKey("qg_support")), IdentityID: "support-1"})

	id, err := auth.NewAPIKeyService(store).Validate(context.Background(), "qg_support")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if id.Actor().Role != "support" || *id.Actor().TenantID != 3 {
		t.Errorf("actor = %+v", id.Actor())
	}
}

func TestAuthStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewAuthStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.AddKey(&auth.APIKey{Key: auth.HashKey(string(rune('a' + i))), IdentityID: "id"})
		}()
		go func() {
			defer wg.Done()
			_, _ = store.ListAPIKeys(context.Background())
		}()
	}
	wg.Wait()

	keys, _ := store.ListAPIKeys(context.Background())
	if len(keys) != 20 {
		t.Errorf("keys = %d, want 20", len(keys))
	}
}
