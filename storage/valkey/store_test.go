package valkey

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if VALKEY_TEST_ADDR is not set and no local instance
// responds. Each test gets a unique prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("authservertest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the store's prefix.
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestAccessTokens_SaveFindRevoke(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AccessTokens()

	params := token.NewDataBag().With("scope", "openid email")
	at, err := repo.Create(ctx, "client-1", "user-1", time.Now().Add(time.Hour), params, token.NewDataBag(), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Save(ctx, at); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := repo.Find(ctx, at.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found == nil {
		t.Fatal("Expected to find saved token")
	}
	if found.ClientID != "client-1" || found.OwnerID != "user-1" {
		t.Errorf("Unexpected token identity: client=%s owner=%s", found.ClientID, found.OwnerID)
	}
	if got := found.Params.GetOr("scope", ""); got != "openid email" {
		t.Errorf("Expected scope to round-trip, got %q", got)
	}

	if err := repo.Revoke(ctx, at.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	found, err = repo.Find(ctx, at.ID)
	if err != nil {
		t.Fatalf("Find after revoke failed: %v", err)
	}
	if found != nil {
		t.Error("Expected revoked token to be gone")
	}

	// Revocation is idempotent.
	if err := repo.Revoke(ctx, at.ID); err != nil {
		t.Errorf("Second Revoke failed: %v", err)
	}
}

func TestAccessTokens_UnknownAndExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AccessTokens()

	found, err := repo.Find(ctx, "never-issued")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found != nil {
		t.Error("Expected nil for unknown token")
	}

	// An already-expired token is not stored and never comes back.
	at, err := repo.Create(ctx, "client-1", "user-1", time.Now().Add(-time.Minute), token.NewDataBag(), token.NewDataBag(), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Save(ctx, at); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	found, err = repo.Find(ctx, at.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found != nil {
		t.Error("Expected nil for expired token")
	}

	if err := repo.Revoke(ctx, "never-issued"); err != token.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRefreshTokens_SaveFindRevoke(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.RefreshTokens()

	rt, err := repo.Create(ctx, "client-1", "user-1", time.Now().Add(24*time.Hour), token.NewDataBag().With("scope", "openid"), token.NewDataBag(), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Save(ctx, rt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := repo.Find(ctx, rt.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found == nil {
		t.Fatal("Expected to find saved refresh token")
	}

	if err := repo.Revoke(ctx, rt.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	found, err = repo.Find(ctx, rt.ID)
	if err != nil {
		t.Fatalf("Find after revoke failed: %v", err)
	}
	if found != nil {
		t.Error("Expected revoked refresh token to be gone")
	}
}

func TestAuthorizationCodes_UseOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AuthorizationCodes()

	params := token.NewDataBag().
		With("scope", "openid").
		With("code_challenge", "challenge-value").
		With("code_challenge_method", "S256")
	code, err := repo.Create(ctx, "client-1", "user-1", time.Now().Add(10*time.Minute), params, token.NewDataBag(), "", token.CodeRequest{
		RedirectURI:       "https://example.com/callback",
		IssueRefreshToken: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Save(ctx, code); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	used, err := repo.Use(ctx, code.ID)
	if err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if used == nil {
		t.Fatal("Expected winning Use to return the code")
	}
	if !used.Used {
		t.Error("Expected returned code to be marked used")
	}
	if used.RedirectURI != "https://example.com/callback" {
		t.Errorf("Unexpected redirect URI: %s", used.RedirectURI)
	}
	if !used.IssueRefreshToken {
		t.Error("Expected IssueRefreshToken to survive the round trip")
	}
	if got := used.Params.GetOr("code_challenge", ""); got != "challenge-value" {
		t.Errorf("Expected code_challenge to round-trip, got %q", got)
	}

	// Second exchange loses and is still attributable.
	replayed, err := repo.Use(ctx, code.ID)
	if err != token.ErrCodeAlreadyUsed {
		t.Fatalf("Expected ErrCodeAlreadyUsed, got %v", err)
	}
	if replayed == nil || replayed.ClientID != "client-1" {
		t.Error("Expected replay to return the stored code for forensics")
	}

	// Find still returns the used code.
	found, err := repo.Find(ctx, code.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found == nil || !found.Used {
		t.Error("Expected Find to return the used code")
	}
}

func TestAuthorizationCodes_UseUnknownOrRevoked(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AuthorizationCodes()

	used, err := repo.Use(ctx, "never-issued")
	if err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if used != nil {
		t.Error("Expected nil for unknown code")
	}

	code, err := repo.Create(ctx, "client-1", "user-1", time.Now().Add(10*time.Minute), token.NewDataBag(), token.NewDataBag(), "", token.CodeRequest{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Save(ctx, code); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := repo.Revoke(ctx, code.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	used, err = repo.Use(ctx, code.ID)
	if err != nil {
		t.Fatalf("Use failed: %v", err)
	}
	if used != nil {
		t.Error("Expected nil for revoked code")
	}
}

func TestClients_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	clients := s.Clients()

	client := &storage.Client{
		ID:                      "app-1",
		SecretHash:              "$2a$10$hash",
		TokenEndpointAuthMethod: storage.AuthMethodSecretBasic,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		RedirectURIs:            []string{"https://example.com/callback"},
		Scopes:                  []string{"openid", "email"},
		CreatedAt:               time.Now(),
	}
	if err := clients.Save(ctx, client); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := clients.Find(ctx, "app-1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found == nil {
		t.Fatal("Expected to find saved client")
	}
	if found.TokenEndpointAuthMethod != storage.AuthMethodSecretBasic {
		t.Errorf("Unexpected auth method: %s", found.TokenEndpointAuthMethod)
	}
	if !found.HasRedirectURI("https://example.com/callback") {
		t.Error("Expected redirect URI to round-trip")
	}

	unknown, err := clients.Find(ctx, "unknown")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if unknown != nil {
		t.Error("Expected nil for unknown client")
	}

	// Soft deletion survives the round trip.
	client.Deleted = true
	if err := clients.Save(ctx, client); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	found, err = clients.Find(ctx, "app-1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found == nil || !found.Deleted {
		t.Error("Expected deleted client to come back with the flag set")
	}
}

func TestUserAccounts_Lookups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	accounts := s.UserAccounts()

	account := &storage.UserAccount{
		ID:           "user-1",
		Username:     "alice",
		PasswordHash: "$2a$10$hash",
		PairwiseSubjects: map[string]string{
			"app-1": "pairwise-abc",
		},
	}
	if err := accounts.Save(ctx, account); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	byID, err := accounts.Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if byID == nil || byID.Username != "alice" {
		t.Fatal("Expected to find account by id")
	}

	byUsername, err := accounts.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsername failed: %v", err)
	}
	if byUsername == nil || byUsername.ID != "user-1" {
		t.Error("Expected to find account by username")
	}

	byPairwise, err := accounts.FindByPairwiseSubject(ctx, "app-1", "pairwise-abc")
	if err != nil {
		t.Fatalf("FindByPairwiseSubject failed: %v", err)
	}
	if byPairwise == nil || byPairwise.ID != "user-1" {
		t.Error("Expected to reverse pairwise subject to the account")
	}

	missing, err := accounts.FindByPairwiseSubject(ctx, "app-2", "pairwise-abc")
	if err != nil {
		t.Fatalf("FindByPairwiseSubject failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for a subject issued to a different client")
	}
}

func TestTrustedIssuers_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	issuers := s.TrustedIssuers()

	issuer := &storage.TrustedIssuer{
		Issuer:            "https://issuer.example.com",
		AllowedAlgorithms: []string{"RS256", "ES256"},
	}
	if err := issuers.Save(ctx, issuer); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := issuers.Find(ctx, "https://issuer.example.com")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found == nil {
		t.Fatal("Expected to find saved issuer")
	}
	if len(found.AllowedAlgorithms) != 2 {
		t.Errorf("Expected algorithms to round-trip, got %v", found.AllowedAlgorithms)
	}

	unknown, err := issuers.Find(ctx, "https://other.example.com")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if unknown != nil {
		t.Error("Expected nil for unknown issuer")
	}
}
