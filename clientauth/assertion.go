package clientauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/jose"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage"
)

// AssertionType is the client-assertion type this engine accepts.
const AssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// AssertionJWT authenticates with a signed JWT presented as
// client_assertion. It covers both client_secret_jwt and private_key_jwt;
// the two differ only in the key material registered for the client (an oct
// key versus an asymmetric public key).
type AssertionJWT struct {
	// TokenEndpoint is the absolute URL assertions must list in aud.
	TokenEndpoint string

	// DecryptionKeys, when set, lets clients wrap the assertion JWS inside
	// a JWE addressed to the server.
	DecryptionKeys *gojose.JSONWebKeySet

	// EncryptionRequired makes a bare (non-encrypted) assertion fail. When
	// false, input that does not decrypt is treated as a bare JWS.
	EncryptionRequired bool

	// Leeway absorbs clock skew in the time-based claim checks.
	Leeway time.Duration

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
}

func (AssertionJWT) Name() string { return storage.AuthMethodAssertionJWT }

func (m AssertionJWT) Authenticate(_ context.Context, req *protocol.Request, client *storage.Client) (*Credentials, error) {
	if req.BodyParam("client_assertion_type") != AssertionType {
		return nil, errNoCredentials
	}
	assertion := req.BodyParam("client_assertion")
	if assertion == "" {
		return nil, errNoCredentials
	}

	assertion, err := jose.UnwrapEncrypted(assertion, m.DecryptionKeys, m.EncryptionRequired)
	if err != nil {
		return nil, err
	}

	payload, _, err := jose.VerifySignature(assertion, client.JWKS, client.AuthSigningAlgs)
	if err != nil {
		return nil, fmt.Errorf("assertion signature: %w", err)
	}

	claims, err := jose.DecodeClaims(payload)
	if err != nil {
		return nil, err
	}
	checker := jose.ClaimChecker{Leeway: m.Leeway, Now: m.Now}
	required := []string{jose.ClaimIssuer, jose.ClaimSubject, jose.ClaimAudience, jose.ClaimExpiry}
	if err := checker.Check(claims, required); err != nil {
		return nil, err
	}

	if jose.StringClaim(claims, jose.ClaimIssuer) != client.ID {
		return nil, errors.New("assertion iss does not match client")
	}
	if jose.StringClaim(claims, jose.ClaimSubject) != client.ID {
		return nil, errors.New("assertion sub does not match client")
	}
	if !jose.AudienceContains(claims, m.TokenEndpoint) {
		return nil, errors.New("assertion aud does not cover the token endpoint")
	}

	return &Credentials{ClientID: client.ID, Method: storage.AuthMethodAssertionJWT}, nil
}
