package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"

	"flowdeck/internal/repository"
	"flowdeck/pkg/models"
)

const apiKeyHeader = "X-Api-Key"

type keyKeyType string

const grantedScopesKey keyKeyType = "flowdeck.key_scopes"

// GrantedScopes returns the permission scopes of the API key that
// authenticated the request.
func GrantedScopes(ctx context.Context) []string {
	scopes, _ := ctx.Value(grantedScopesKey).([]string)
	return scopes
}

// HashKey returns the hex SHA-256 digest of a raw API key. Only the digest
// is ever stored or compared.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey mints a new API key for an organization and persists its
// hash. The raw secret is returned exactly once.
func GenerateKey(ctx context.Context, store repository.Store, scope models.Scope, name string, scopes []string) (string, *models.APIKey, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	raw := "fdk_" + base64.RawURLEncoding.EncodeToString(b)

	key := &models.APIKey{
		ID:             uuid.New().String(),
		TenantID:       scope.TenantID,
		OrganizationID: scope.OrganizationID,
		Name:           name,
		KeyHash:        HashKey(raw),
		Scopes:         scopes,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// RequireAPIKey is middleware for the external surface. It looks up the
// key by hash, stamps its last-use time, and injects the key's tenant/org
// scope and granted permission scopes into the request context.
func RequireAPIKey(store repository.Store, logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(apiKeyHeader)
			if raw == "" {
				http.Error(w, "missing api key", http.StatusUnauthorized)
				return
			}

			key, err := store.GetAPIKeyByHash(r.Context(), HashKey(raw))
			if err == repository.ErrNotFound {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			if err != nil {
				logger.Error("api key lookup failed", "error", err)
				http.Error(w, "authentication unavailable", http.StatusInternalServerError)
				return
			}

			if err := store.TouchAPIKey(r.Context(), key.ID, time.Now().UTC()); err != nil {
				logger.Debug("failed to stamp api key use", "key", key.ID, "error", err)
			}

			ctx := WithScope(r.Context(), models.Scope{
				TenantID:       key.TenantID,
				OrganizationID: key.OrganizationID,
			})
			ctx = context.WithValue(ctx, grantedScopesKey, key.Scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
