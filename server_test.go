package authserver

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/url"
	"os"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/authorize"
	"github.com/oauth2-framework/authserver/instrumentation"
	"github.com/oauth2-framework/authserver/internal/testutil"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv, err := NewServer(store, &Config{Issuer: "https://as.example.com"}, logger)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, store
}

func basicAuth(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func tokenRequest(params map[string]string) *protocol.Request {
	req := protocol.NewRequest()
	for k, v := range params {
		req.Body.Set(k, v)
	}
	return req
}

func assertProtocolError(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", code)
	}
	if got := protocol.AsError(err).Code; got != code {
		t.Fatalf("error code = %q, want %q (err: %v)", got, code, err)
	}
}

func TestNewServerValidation(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	if _, err := NewServer(nil, &Config{Issuer: "https://as.example.com"}, nil); err == nil {
		t.Error("expected error for nil storage")
	}
	if _, err := NewServer(store, &Config{}, nil); err == nil {
		t.Error("expected error for missing issuer")
	}
}

func TestRegisterClient(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	if err := srv.RegisterClient(ctx, testutil.NewConfidentialClient("client-1")); err != nil {
		t.Fatalf("registering valid client: %v", err)
	}
	found, err := store.Clients().Find(ctx, "client-1")
	if err != nil || found == nil {
		t.Fatalf("registered client not findable: %v", err)
	}

	bad := testutil.NewConfidentialClient("client-2")
	bad.RedirectURIs = []string{"javascript:alert(1)"}
	err = srv.RegisterClient(ctx, bad)
	assertProtocolError(t, err, protocol.ErrorCodeInvalidRequest)
	if found, _ := store.Clients().Find(ctx, "client-2"); found != nil {
		t.Error("rejected client must not be saved")
	}
}

func TestClientCredentialsFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if err := srv.RegisterClient(ctx, testutil.NewConfidentialClient("client-1")); err != nil {
		t.Fatalf("registering client: %v", err)
	}

	req := tokenRequest(map[string]string{
		"grant_type": "client_credentials",
		"scope":      "openid email",
	})
	req.SetHeader("Authorization", basicAuth("client-1", "secret"))

	response, err := srv.Token(ctx, req)
	if err != nil {
		t.Fatalf("token exchange failed: %v", err)
	}
	if v, _ := response["access_token"].(string); v == "" {
		t.Fatal("no access token in response")
	}
	if response["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", response["token_type"])
	}
	if response["scope"] != "openid email" {
		t.Errorf("scope = %v, want openid email", response["scope"])
	}
	if expiresIn, _ := response["expires_in"].(int64); expiresIn <= 0 {
		t.Errorf("expires_in = %v, want > 0", response["expires_in"])
	}
	if _, present := response["refresh_token"]; present {
		t.Error("client_credentials must not mint a refresh token")
	}
}

func TestTokenRejectsUnknownClient(t *testing.T) {
	srv, _ := newTestServer(t)

	req := tokenRequest(map[string]string{"grant_type": "client_credentials"})
	req.SetHeader("Authorization", basicAuth("no-such-client", "secret"))
	_, err := srv.Token(context.Background(), req)
	assertProtocolError(t, err, protocol.ErrorCodeInvalidClient)

	// No identification at all.
	_, err = srv.Token(context.Background(), tokenRequest(map[string]string{"grant_type": "client_credentials"}))
	assertProtocolError(t, err, protocol.ErrorCodeInvalidClient)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if err := srv.RegisterClient(ctx, testutil.NewConfidentialClient("client-1")); err != nil {
		t.Fatalf("registering client: %v", err)
	}

	req := tokenRequest(map[string]string{"grant_type": "client_credentials"})
	req.SetHeader("Authorization", basicAuth("client-1", "wrong"))
	_, err := srv.Token(ctx, req)
	assertProtocolError(t, err, protocol.ErrorCodeInvalidClient)
}

func TestAuthorizationCodeFlowEndToEnd(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	client := testutil.NewPublicClient("app-1")
	if err := srv.RegisterClient(ctx, client); err != nil {
		t.Fatalf("registering client: %v", err)
	}
	account := testutil.NewUserAccount("user-1", "alice", nil)
	if err := store.UserAccounts().Save(ctx, account); err != nil {
		t.Fatalf("saving account: %v", err)
	}

	challenge, verifier := testutil.GeneratePKCEPair()
	authReq := protocol.NewRequest()
	authReq.Query.Set("client_id", "app-1")
	authReq.Query.Set("response_type", "code")
	authReq.Query.Set("redirect_uri", "https://example.com/callback")
	authReq.Query.Set("scope", "openid profile")
	authReq.Query.Set("state", "xyz")
	authReq.Query.Set("code_challenge", challenge)
	authReq.Query.Set("code_challenge_method", "S256")

	sess := &authorize.Session{Account: account, Fresh: true}
	resp, err := srv.Authorize(ctx, authReq, sess)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if resp.NeedsLogin {
		t.Fatal("unexpected login redirect")
	}

	target, err := url.Parse(resp.RedirectURI)
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	code := target.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect %q", resp.RedirectURI)
	}
	if target.Query().Get("state") != "xyz" {
		t.Errorf("state = %q, want xyz", target.Query().Get("state"))
	}
	if got := target.Scheme + "://" + target.Host + target.Path; got != "https://example.com/callback" {
		t.Errorf("redirect base = %q", got)
	}

	exchange := tokenRequest(map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "app-1",
		"code":          code,
		"redirect_uri":  "https://example.com/callback",
		"code_verifier": verifier,
	})
	response, err := srv.Token(ctx, exchange)
	if err != nil {
		t.Fatalf("code exchange failed: %v", err)
	}
	if v, _ := response["access_token"].(string); v == "" {
		t.Fatal("no access token in response")
	}
	if v, _ := response["refresh_token"].(string); v == "" {
		t.Fatal("expected a refresh token for a refresh_token-capable client")
	}
	if response["scope"] != "openid profile" {
		t.Errorf("scope = %v, want openid profile", response["scope"])
	}

	// The code is consumed: a second exchange must fail.
	_, err = srv.Token(ctx, exchange)
	assertProtocolError(t, err, protocol.ErrorCodeInvalidGrant)
}

func TestRefreshTokenFlow(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	if err := srv.RegisterClient(ctx, testutil.NewConfidentialClient("client-1")); err != nil {
		t.Fatalf("registering client: %v", err)
	}
	account := testutil.NewUserAccount("user-1", "alice", nil)
	if err := store.UserAccounts().Save(ctx, account); err != nil {
		t.Fatalf("saving account: %v", err)
	}

	// Run the code flow to obtain a refresh token.
	authReq := protocol.NewRequest()
	authReq.Query.Set("client_id", "client-1")
	authReq.Query.Set("response_type", "code")
	authReq.Query.Set("redirect_uri", "https://example.com/callback")
	authReq.Query.Set("scope", "openid email")
	authReq.Query.Set("state", "s")
	resp, err := srv.Authorize(ctx, authReq, &authorize.Session{Account: account})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	target, _ := url.Parse(resp.RedirectURI)

	exchange := tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         target.Query().Get("code"),
		"redirect_uri": "https://example.com/callback",
	})
	exchange.SetHeader("Authorization", basicAuth("client-1", "secret"))
	first, err := srv.Token(ctx, exchange)
	if err != nil {
		t.Fatalf("code exchange failed: %v", err)
	}
	refreshValue, _ := first["refresh_token"].(string)
	if refreshValue == "" {
		t.Fatal("no refresh token issued")
	}

	refresh := tokenRequest(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshValue,
		"scope":         "email",
	})
	refresh.SetHeader("Authorization", basicAuth("client-1", "secret"))
	second, err := srv.Token(ctx, refresh)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if second["access_token"] == first["access_token"] {
		t.Error("refresh must mint a fresh access token")
	}
	if second["scope"] != "email" {
		t.Errorf("narrowed scope = %v, want email", second["scope"])
	}
}

func TestIntrospectAndRevoke(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if err := srv.RegisterClient(ctx, testutil.NewConfidentialClient("client-1")); err != nil {
		t.Fatalf("registering client: %v", err)
	}

	grantReq := tokenRequest(map[string]string{"grant_type": "client_credentials"})
	grantReq.SetHeader("Authorization", basicAuth("client-1", "secret"))
	issued, err := srv.Token(ctx, grantReq)
	if err != nil {
		t.Fatalf("token exchange failed: %v", err)
	}
	accessValue := issued["access_token"].(string)

	introspect := tokenRequest(map[string]string{"token": accessValue})
	introspect.SetHeader("Authorization", basicAuth("client-1", "secret"))
	info, err := srv.Introspect(ctx, introspect)
	if err != nil {
		t.Fatalf("introspection failed: %v", err)
	}
	if active, _ := info["active"].(bool); !active {
		t.Fatal("freshly issued token must introspect active")
	}
	if info["client_id"] != "client-1" {
		t.Errorf("client_id = %v, want client-1", info["client_id"])
	}

	revoke := tokenRequest(map[string]string{"token": accessValue, "token_type_hint": "access_token"})
	revoke.SetHeader("Authorization", basicAuth("client-1", "secret"))
	if err := srv.Revoke(ctx, revoke); err != nil {
		t.Fatalf("revocation failed: %v", err)
	}

	info, err = srv.Introspect(ctx, introspect)
	if err != nil {
		t.Fatalf("introspection failed: %v", err)
	}
	if active, _ := info["active"].(bool); active {
		t.Fatal("revoked token must introspect inactive")
	}

	// Revoking again stays quiet.
	if err := srv.Revoke(ctx, revoke); err != nil {
		t.Fatalf("second revocation must succeed: %v", err)
	}
}

func TestNewServerConfiguresAssertionValidator(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	ctx := context.Background()

	_, decryptionKeys := testutil.NewSigningKey(t, "dec-1")
	srv, err := NewServer(store, &Config{
		Issuer:                     "https://as.example.com",
		TokenEndpoint:              "https://as.example.com/token",
		ClockSkewLeeway:            30 * time.Second,
		AssertionDecryptionKeys:    decryptionKeys,
		RequireEncryptedAssertions: true,
	}, nil)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	t.Cleanup(srv.Close)

	if got := srv.validator.Leeway; got != 30*time.Second {
		t.Errorf("validator leeway = %v, want 30s", got)
	}
	if !srv.validator.EncryptionRequired {
		t.Error("validator does not require encrypted assertions")
	}
	if srv.validator.DecryptionKeys != decryptionKeys {
		t.Error("validator is missing the configured decryption keys")
	}

	// A bare JWS must not pass once encryption is required, no matter how
	// well it is signed.
	signKey, publicKeys := testutil.NewSigningKey(t, "sig-1")
	client := testutil.NewAssertionClient("assert-client", publicKeys)
	if err := srv.RegisterClient(ctx, client); err != nil {
		t.Fatalf("registering client: %v", err)
	}
	assertion := testutil.SignClaims(t, signKey, gojose.RS256, map[string]any{
		"iss": client.ID,
		"sub": client.ID,
		"aud": "https://as.example.com/token",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	_, err = srv.validator.Validate(ctx, assertion, "")
	assertProtocolError(t, err, protocol.ErrorCodeInvalidGrant)
}

func TestSetInstrumentationWiresCollaborators(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "authserver-test"})
	if err != nil {
		t.Fatalf("creating instrumentation: %v", err)
	}
	srv.SetInstrumentation(inst)

	if srv.codeGrant.Metrics == nil {
		t.Error("authorization code grant did not receive metrics")
	}

	// The instrumented paths must stay side-effect free for the protocol:
	// a full flow behaves the same with recording enabled.
	if err := srv.RegisterClient(ctx, testutil.NewConfidentialClient("client-1")); err != nil {
		t.Fatalf("registering client: %v", err)
	}
	req := tokenRequest(map[string]string{"grant_type": "client_credentials", "scope": "openid"})
	req.SetHeader("Authorization", basicAuth("client-1", "secret"))
	response, err := srv.Token(ctx, req)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if v, _ := response["access_token"].(string); v == "" {
		t.Error("no access token issued")
	}
}

func TestIntrospectRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	if err := srv.RegisterClient(ctx, testutil.NewConfidentialClient("client-1")); err != nil {
		t.Fatalf("registering client: %v", err)
	}
	req := tokenRequest(nil)
	req.SetHeader("Authorization", basicAuth("client-1", "secret"))
	_, err := srv.Introspect(ctx, req)
	assertProtocolError(t, err, protocol.ErrorCodeInvalidRequest)
}
