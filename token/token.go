package token

import (
	"time"
)

// Response parameter names shared by every token kind.
const (
	ParamScope     = "scope"
	ParamTokenType = "token_type"
	ParamExpiresIn = "expires_in"

	// TokenTypeBearer is the only token type this server issues.
	TokenTypeBearer = "Bearer"
)

// Token holds the state shared by every token kind. The ID doubles as the raw
// token value presented by clients; ids are immutable after creation.
type Token struct {
	ID               string
	ClientID         string
	OwnerID          string
	ResourceServerID string
	ExpiresAt        time.Time
	Params           DataBag
	Metadata         DataBag
	Revoked          bool
}

// HasExpired reports whether the token is expired at now. The boundary is
// strict: a token expires the instant now reaches ExpiresAt.
func (t Token) HasExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsRevoked reports whether the token has been revoked. Revocation is
// monotonic: once true it never reverts.
func (t Token) IsRevoked() bool {
	return t.Revoked
}

// ExpiresIn returns the remaining lifetime in whole seconds, floored at zero.
func (t Token) ExpiresIn(now time.Time) int64 {
	remaining := int64(t.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// responseData flattens the public grant payload: the token value under
// valueKey, expires_in, and every open parameter.
func (t Token) responseData(valueKey string, now time.Time) map[string]any {
	data := map[string]any{
		valueKey:       t.ID,
		ParamExpiresIn: t.ExpiresIn(now),
	}
	for _, k := range t.Params.Keys() {
		v, _ := t.Params.Get(k)
		data[k] = v
	}
	return data
}

// AccessToken is a bearer access token.
type AccessToken struct {
	Token
}

// MarkRevoked returns the same token with the revoked flag set. Persisting
// the transition is the caller's job.
func (t AccessToken) MarkRevoked() AccessToken {
	t.Revoked = true
	return t
}

// ResponseData serializes the public token-endpoint payload.
func (t AccessToken) ResponseData(now time.Time) map[string]any {
	data := t.responseData("access_token", now)
	data[ParamTokenType] = TokenTypeBearer
	return data
}

// RefreshToken is a long-lived token exchangeable for fresh access tokens.
type RefreshToken struct {
	Token
}

// MarkRevoked returns the same token with the revoked flag set.
func (t RefreshToken) MarkRevoked() RefreshToken {
	t.Revoked = true
	return t
}

// ResponseData serializes the public token-endpoint payload.
func (t RefreshToken) ResponseData(now time.Time) map[string]any {
	return t.responseData("refresh_token", now)
}
