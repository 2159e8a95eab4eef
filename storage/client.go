package storage

import (
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/token"
)

// Token endpoint authentication method names (RFC 7591).
const (
	// AuthMethodNone represents no authentication (public clients).
	AuthMethodNone = "none"

	// AuthMethodSecretBasic represents HTTP Basic authentication.
	AuthMethodSecretBasic = "client_secret_basic"

	// AuthMethodSecretPost represents POST form parameters.
	AuthMethodSecretPost = "client_secret_post"

	// AuthMethodAssertionJWT represents JWT client assertions. It covers
	// both client_secret_jwt and private_key_jwt; the two differ only in
	// the key material registered for the client.
	AuthMethodAssertionJWT = "client_assertion_jwt"
)

// Client is a registered OAuth client. Mutations go through ValidateClient
// before Save; a client that never passed validation must not be persisted.
type Client struct {
	// ID is the client identifier, immutable after creation.
	ID string

	// OwnerID is the resource owner that registered the client.
	OwnerID string

	// Deleted marks a soft-deleted client. Deleted clients fail every
	// authentication and assertion path.
	Deleted bool

	// SecretHash is the bcrypt hash of the current client secret. Empty for
	// public clients.
	SecretHash string

	// PreviousSecretHash is the bcrypt hash of the most recently superseded
	// secret. It stays valid for the configured secret lifetime after
	// SecretRotatedAt.
	PreviousSecretHash string

	// SecretRotatedAt is when the current secret replaced the previous one.
	SecretRotatedAt time.Time

	// TokenEndpointAuthMethod is the declared authentication method. It is
	// authoritative: no other method's logic is ever substituted.
	TokenEndpointAuthMethod string

	GrantTypes    []string
	ResponseTypes []string

	// RedirectURIs are matched exactly, never by prefix.
	RedirectURIs []string

	Scopes []string

	// JWKS holds the client's verification keys: public keys for
	// private_key_jwt, or an oct key carrying the shared secret for
	// client_secret_jwt.
	JWKS *gojose.JSONWebKeySet

	// AuthSigningAlgs are the JWS algorithms accepted on client assertions.
	AuthSigningAlgs []string

	// Params carries open extension parameters from registration.
	Params token.DataBag

	CreatedAt time.Time
}

// IsPublic reports whether the client authenticates with the "none" method.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// AllowsGrantType reports whether the client registered the grant type.
func (c *Client) AllowsGrantType(name string) bool {
	return contains(c.GrantTypes, name)
}

// AllowsResponseType reports whether the client registered the response type.
func (c *Client) AllowsResponseType(name string) bool {
	return contains(c.ResponseTypes, name)
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return contains(c.RedirectURIs, uri)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
