package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"mcpgate/internal/storage"
	"mcpgate/pkg/logging"
)

// Scopes a key may be restricted to. A key with an empty scope list is
// unrestricted.
const (
	ScopeConnect   = "mcp:connect"
	ScopeToolsList = "tools:list"
	ScopeToolsCall = "tools:call"
)

// devBuild is set to "true" via ldflags in development builds. Release builds
// refuse to honor the auth bypass regardless of configuration.
var devBuild = "false"

// BypassAllowed reports whether this build may honor the
// MCP_GATEWAY_AUTH_BYPASS flag.
func BypassAllowed() bool {
	return devBuild == "true"
}

// UnauthenticatedError means no usable token was presented.
type UnauthenticatedError struct{}

func (e *UnauthenticatedError) Error() string {
	return "authentication required: provide an API key via Authorization: Bearer or X-Api-Key"
}

// FailedError means a token was presented but did not authenticate, or the
// authenticated key lacks the scope for the attempted operation. The message
// never says which; that would tell an attacker a prefix was right.
type FailedError struct{}

func (e *FailedError) Error() string {
	return "authentication failed"
}

// KeyRef identifies the authenticated key to the rest of the gateway.
type KeyRef struct {
	ID     string
	Name   string
	Scopes []string
}

// Allows reports whether the key may perform the operation guarded by scope.
func (k *KeyRef) Allows(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator validates presented API keys against storage.
type Authenticator struct {
	store  *storage.Store
	bypass bool
}

// NewAuthenticator creates an authenticator backed by the store. The bypass
// flag is honored only in development builds; in release builds a set flag is
// logged and ignored.
func NewAuthenticator(store *storage.Store, bypass bool) *Authenticator {
	if bypass && !BypassAllowed() {
		logging.Warn("Auth", "MCP_GATEWAY_AUTH_BYPASS is set but this is not a development build, ignoring")
		bypass = false
	}
	if bypass {
		logging.Warn("Auth", "API key enforcement is DISABLED (development bypass)")
	}
	return &Authenticator{store: store, bypass: bypass}
}

// BypassActive reports whether enforcement is disabled.
func (a *Authenticator) BypassActive() bool {
	return a.bypass
}

// ExtractToken pulls the raw API key from the request headers: Authorization
// Bearer first, then X-Api-Key. The raw token is never logged.
func ExtractToken(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		if token, ok := strings.CutPrefix(authz, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

// Authenticate verifies the token against every active key. It returns
// UnauthenticatedError for an absent token and FailedError for one that does
// not match. On success the key's last_used_at is updated asynchronously.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*KeyRef, error) {
	if a.bypass {
		return &KeyRef{ID: "", Name: "bypass"}, nil
	}

	if token == "" {
		return nil, &UnauthenticatedError{}
	}

	keys, err := a.store.ActiveAPIKeys(ctx)
	if err != nil {
		logging.Error("Auth", err, "Failed to load api keys")
		return nil, &FailedError{}
	}

	now := time.Now()
	for _, key := range keys {
		if !key.IsActive(now) {
			continue
		}
		if VerifySecret(token, key.Salt, key.HashedAPIKey) {
			go a.touchLastUsed(key.ID)
			return &KeyRef{ID: key.ID, Name: key.Name, Scopes: key.Scopes}, nil
		}
	}
	return nil, &FailedError{}
}

// CheckScope enforces the scope for an operation on an authenticated key.
func (a *Authenticator) CheckScope(key *KeyRef, scope string) error {
	if a.bypass || key == nil {
		return nil
	}
	if !key.Allows(scope) {
		logging.Warn("Auth", "Key %s denied scope %s", key.Name, scope)
		return &FailedError{}
	}
	return nil
}

func (a *Authenticator) touchLastUsed(keyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.TouchAPIKeyLastUsed(ctx, keyID, time.Now()); err != nil {
		logging.Debug("Auth", "Failed to update last_used_at for key %s: %v", keyID, err)
	}
}

// ScopeForMethod maps an MCP method onto the scope guarding it. Methods
// without a dedicated scope fall under tools:call, the most specific grant.
func ScopeForMethod(method string) string {
	switch method {
	case "initialize", "ping":
		return ScopeConnect
	case "tools/list":
		return ScopeToolsList
	default:
		return ScopeToolsCall
	}
}
