package token

import (
	"net/url"
	"time"
)

// PKCE parameter names stored alongside an authorization code.
const (
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
)

// AuthorizationCode is a one-time-use code minted by the authorization
// endpoint and exchanged at the token endpoint. It remembers the redirect URI
// and query parameters of the request that produced it so the exchange can be
// checked against them.
type AuthorizationCode struct {
	Token

	// Used transitions false to true exactly once, at exchange time. The
	// transition itself must happen through the repository's atomic Use.
	Used bool

	// RedirectURI is the exact redirect URI of the originating request.
	RedirectURI string

	// QueryParams are the original authorization-request query parameters.
	QueryParams url.Values

	// IssueRefreshToken indicates the exchange should mint a refresh token
	// alongside the access token.
	IssueRefreshToken bool
}

// MarkUsed returns the same code with the used flag set. The atomic variant
// on the repository is what prevents a concurrent double exchange; this only
// records the decision on the entity.
func (c AuthorizationCode) MarkUsed() AuthorizationCode {
	c.Used = true
	return c
}

// MarkRevoked returns the same code with the revoked flag set.
func (c AuthorizationCode) MarkRevoked() AuthorizationCode {
	c.Revoked = true
	return c
}

// ResponseData serializes the public payload for response modes that deliver
// the code itself.
func (c AuthorizationCode) ResponseData(now time.Time) map[string]any {
	return c.responseData("code", now)
}
