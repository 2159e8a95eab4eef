package token

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// Sentinel errors returned by repository implementations. Find deliberately
// never returns these: anything not currently usable comes back as (nil, nil)
// so "never existed", "expired" and "revoked" stay indistinguishable to
// callers. The atomic transitions do distinguish, because reuse detection
// needs to.
var (
	// ErrCodeAlreadyUsed signals an attempted second exchange of a code.
	ErrCodeAlreadyUsed = errors.New("authorization code already used")

	// ErrNotFound signals an atomic transition on a token that does not exist.
	ErrNotFound = errors.New("token not found")
)

// AccessTokenRepository mints, persists and looks up access tokens. Tokens
// are created only through Create; Save persists subsequent state changes.
type AccessTokenRepository interface {
	// Create mints a new access token. The token is not persisted until Save.
	Create(ctx context.Context, clientID, ownerID string, expiresAt time.Time, params, metadata DataBag, resourceServerID string) (*AccessToken, error)

	// Save persists the token.
	Save(ctx context.Context, t *AccessToken) error

	// Find returns the token by raw value, or (nil, nil) when it never
	// existed, has expired, or was revoked.
	Find(ctx context.Context, id string) (*AccessToken, error)

	// Revoke atomically flips the revoked flag. Idempotent: revoking an
	// already-revoked token succeeds. Returns ErrNotFound for unknown ids.
	Revoke(ctx context.Context, id string) error
}

// RefreshTokenRepository mints, persists and looks up refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, clientID, ownerID string, expiresAt time.Time, params, metadata DataBag, resourceServerID string) (*RefreshToken, error)
	Save(ctx context.Context, t *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string) error
}

// CodeRequest carries the authorization-request context an authorization code
// has to remember for its later exchange.
type CodeRequest struct {
	RedirectURI       string
	QueryParams       url.Values
	IssueRefreshToken bool
}

// AuthorizationCodeRepository mints, persists and looks up authorization
// codes, and owns the one-time-use transition.
type AuthorizationCodeRepository interface {
	Create(ctx context.Context, clientID, ownerID string, expiresAt time.Time, params, metadata DataBag, resourceServerID string, req CodeRequest) (*AuthorizationCode, error)

	Save(ctx context.Context, c *AuthorizationCode) error

	// Find returns the code by raw value, or (nil, nil) when it never
	// existed, has expired, or was revoked. A used code is still returned so
	// reuse can be detected by the caller of Use.
	Find(ctx context.Context, id string) (*AuthorizationCode, error)

	// Use atomically marks the code used and returns it. Exactly one of two
	// concurrent calls succeeds; the loser gets ErrCodeAlreadyUsed. Expired
	// and revoked codes return (nil, nil) like Find.
	Use(ctx context.Context, id string) (*AuthorizationCode, error)

	Revoke(ctx context.Context, id string) error
}
