package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauth2-framework/authserver/storage"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for
// testing. Returns (challenge, verifier) where challenge is the S256 hash of
// the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// BcryptSecretHash is a bcrypt hash of the literal "secret", shared by the
// canned confidential clients so tests can authenticate with a known value.
// Computed at MinCost to keep test startup cheap.
var BcryptSecretHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("hashing test secret: %v", err))
	}
	return string(hash)
}()

// NewSigningKey generates an RSA signing key pair. It returns the private
// JWK for signing and a key set holding only the public half, the shape a
// store would hold for a registered client or trusted issuer.
func NewSigningKey(t *testing.T, kid string) (*gojose.JSONWebKey, *gojose.JSONWebKeySet) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	private := &gojose.JSONWebKey{Key: priv, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	public := &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{
		{Key: priv.Public(), KeyID: kid, Algorithm: "RS256", Use: "sig"},
	}}
	return private, public
}

// NewSymmetricKey builds an oct JWK from a shared secret, the key material
// backing HS256 client assertions.
func NewSymmetricKey(secret, kid string) (*gojose.JSONWebKey, *gojose.JSONWebKeySet) {
	key := &gojose.JSONWebKey{Key: []byte(secret), KeyID: kid, Algorithm: "HS256", Use: "sig"}
	return key, &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{*key}}
}

// SignClaims signs a claims map as a compact JWS using the given private JWK.
func SignClaims(t *testing.T, key *gojose.JSONWebKey, alg gojose.SignatureAlgorithm, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshaling claims: %v", err)
	}

	opts := (&gojose.SignerOptions{}).WithType("JWT")
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: alg, Key: key}, opts)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("signing claims: %v", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("serializing JWS: %v", err)
	}
	return compact
}

// NewConfidentialClient creates a confidential client authenticating with
// client_secret_basic and the "secret" test secret.
func NewConfidentialClient(id string) *storage.Client {
	return &storage.Client{
		ID:                      id,
		SecretHash:              BcryptSecretHash,
		TokenEndpointAuthMethod: storage.AuthMethodSecretBasic,
		GrantTypes:              []string{"authorization_code", "refresh_token", "client_credentials"},
		ResponseTypes:           []string{"code"},
		RedirectURIs:            []string{"https://example.com/callback"},
		Scopes:                  []string{"openid", "email", "profile"},
		CreatedAt:               time.Now(),
	}
}

// NewPublicClient creates a public client with no credentials.
func NewPublicClient(id string) *storage.Client {
	return &storage.Client{
		ID:                      id,
		TokenEndpointAuthMethod: storage.AuthMethodNone,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		RedirectURIs:            []string{"https://example.com/callback"},
		Scopes:                  []string{"openid", "profile"},
		CreatedAt:               time.Now(),
	}
}

// NewAssertionClient creates a confidential client authenticating with
// signed JWT assertions against the given public key set.
func NewAssertionClient(id string, keys *gojose.JSONWebKeySet, algs ...string) *storage.Client {
	if len(algs) == 0 {
		algs = []string{"RS256"}
	}
	return &storage.Client{
		ID:                      id,
		TokenEndpointAuthMethod: storage.AuthMethodAssertionJWT,
		JWKS:                    keys,
		AuthSigningAlgs:         algs,
		GrantTypes:              []string{"client_credentials", "urn:ietf:params:oauth:grant-type:jwt-bearer"},
		ResponseTypes:           []string{},
		Scopes:                  []string{"api"},
		CreatedAt:               time.Now(),
	}
}

// NewUserAccount creates a user account with a bcrypt hash of "secret" as
// its password and an optional pairwise subject per client.
func NewUserAccount(id, username string, pairwise map[string]string) *storage.UserAccount {
	return &storage.UserAccount{
		ID:               id,
		Username:         username,
		PasswordHash:     BcryptSecretHash,
		PairwiseSubjects: pairwise,
	}
}
