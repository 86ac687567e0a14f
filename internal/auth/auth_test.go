package auth

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/storage"
)

func openAuthStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "auth-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// storeKey persists a freshly generated key and returns its secret.
func storeKey(t *testing.T, store *storage.Store, name string, scopes []string, expiresAt sql.NullTime) string {
	t.Helper()
	generated, err := GenerateKey()
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.CreateAPIKey(context.Background(), &storage.APIKey{
		ID:           uuid.NewString(),
		Name:         name,
		HashedAPIKey: generated.Hash,
		Salt:         generated.Salt,
		Prefix:       generated.Prefix,
		Scopes:       scopes,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	return generated.Secret
}

func TestGenerateKeyShape(t *testing.T) {
	generated, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(generated.Secret, "mgk_"))
	assert.True(t, strings.HasPrefix(generated.Prefix, "mgk_"))
	assert.True(t, strings.HasPrefix(generated.Secret, generated.Prefix))
	assert.NotEmpty(t, generated.Salt)
	assert.NotEmpty(t, generated.Hash)
	assert.NotContains(t, generated.Hash, generated.Secret)

	// Two generations never share material.
	second, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, generated.Secret, second.Secret)
	assert.NotEqual(t, generated.Salt, second.Salt)
}

func TestVerifySecret(t *testing.T) {
	generated, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, VerifySecret(generated.Secret, generated.Salt, generated.Hash))
	assert.False(t, VerifySecret(generated.Secret+"x", generated.Salt, generated.Hash))
	assert.False(t, VerifySecret("", generated.Salt, generated.Hash))
	assert.False(t, VerifySecret(generated.Secret, "00", generated.Hash))
}

func TestAuthenticate(t *testing.T) {
	store := openAuthStore(t)
	secret := storeKey(t, store, "ci", []string{ScopeConnect, ScopeToolsList}, sql.NullTime{})
	authenticator := NewAuthenticator(store, false)
	ctx := context.Background()

	key, err := authenticator.Authenticate(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, "ci", key.Name)
	assert.Equal(t, []string{ScopeConnect, ScopeToolsList}, key.Scopes)

	_, err = authenticator.Authenticate(ctx, "mgk_wrong")
	var failed *FailedError
	require.ErrorAs(t, err, &failed)

	_, err = authenticator.Authenticate(ctx, "")
	var unauthenticated *UnauthenticatedError
	require.ErrorAs(t, err, &unauthenticated)
}

func TestAuthenticateRejectsExpiredAndRevoked(t *testing.T) {
	store := openAuthStore(t)
	ctx := context.Background()

	expired := storeKey(t, store, "expired", nil,
		sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true})

	revokedSecret := storeKey(t, store, "revoked", nil, sql.NullTime{})
	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	for _, key := range keys {
		if key.Name == "revoked" {
			require.NoError(t, store.RevokeAPIKey(ctx, key.ID))
		}
	}

	authenticator := NewAuthenticator(store, false)

	var failed *FailedError
	_, err = authenticator.Authenticate(ctx, expired)
	require.ErrorAs(t, err, &failed)
	_, err = authenticator.Authenticate(ctx, revokedSecret)
	require.ErrorAs(t, err, &failed)
}

func TestCheckScope(t *testing.T) {
	authenticator := NewAuthenticator(nil, false)

	restricted := &KeyRef{ID: "k", Name: "ro", Scopes: []string{ScopeConnect, ScopeToolsList}}
	require.NoError(t, authenticator.CheckScope(restricted, ScopeToolsList))

	var failed *FailedError
	require.ErrorAs(t, authenticator.CheckScope(restricted, ScopeToolsCall), &failed)

	// An empty scope list is unrestricted.
	unrestricted := &KeyRef{ID: "k2", Name: "admin"}
	require.NoError(t, authenticator.CheckScope(unrestricted, ScopeToolsCall))
}

func TestScopeForMethod(t *testing.T) {
	assert.Equal(t, ScopeConnect, ScopeForMethod("initialize"))
	assert.Equal(t, ScopeConnect, ScopeForMethod("ping"))
	assert.Equal(t, ScopeToolsList, ScopeForMethod("tools/list"))
	assert.Equal(t, ScopeToolsCall, ScopeForMethod("tools/call"))
	assert.Equal(t, ScopeToolsCall, ScopeForMethod("resources/read"))
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("POST", "/mcp/calc", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("X-Api-Key", "mgk_fromheader")
	assert.Equal(t, "mgk_fromheader", ExtractToken(r))

	// Authorization Bearer wins over X-Api-Key.
	r.Header.Set("Authorization", "Bearer mgk_bearer")
	assert.Equal(t, "mgk_bearer", ExtractToken(r))

	r.Header.Set("Authorization", "Basic dXNlcg==")
	assert.Equal(t, "mgk_fromheader", ExtractToken(r))
}

func TestBypassIgnoredInReleaseBuilds(t *testing.T) {
	// devBuild defaults to "false" in tests.
	authenticator := NewAuthenticator(nil, true)
	assert.False(t, authenticator.BypassActive())
}
