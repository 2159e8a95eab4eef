package authorize

import (
	"context"
	"strconv"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/internal/testutil"
	"github.com/oauth2-framework/authserver/jose"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage/memory"
)

func newDiscoveryFixture(t *testing.T) (*Chain, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	return DefaultChain(nil, store.UserAccounts()), store
}

func discoveryRequest(t *testing.T, query map[string]string) *Request {
	t.Helper()

	raw := validAuthRequest()
	for k, v := range query {
		raw.Query.Set(k, v)
	}
	req, perr := newTestPipeline().Run(context.Background(), raw, oidcClient("client-1"))
	if perr != nil {
		t.Fatalf("pipeline: %v", perr)
	}
	return req
}

func idTokenHint(t *testing.T, sub string) string {
	t.Helper()
	priv, _ := testutil.NewSigningKey(t, "op")
	return testutil.SignClaims(t, priv, gojose.RS256, map[string]any{
		jose.ClaimIssuer:  "https://as.example.com",
		jose.ClaimSubject: sub,
	})
}

func TestDiscoverAuthenticatedSession(t *testing.T) {
	chain, _ := newDiscoveryFixture(t)
	account := testutil.NewUserAccount("user-1", "alice", nil)

	outcome, err := chain.Discover(context.Background(), discoveryRequest(t, nil), &Session{Account: account})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if outcome.Account == nil || outcome.Account.ID != "user-1" {
		t.Errorf("Account = %+v, want user-1", outcome.Account)
	}
}

func TestDiscoverNoSessionNeedsLogin(t *testing.T) {
	chain, _ := newDiscoveryFixture(t)

	outcome, err := chain.Discover(context.Background(), discoveryRequest(t, nil), nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if !outcome.NeedsLogin {
		t.Error("expected NeedsLogin for an empty session")
	}
}

func TestDiscoverPromptNoneWithoutSession(t *testing.T) {
	// prompt=none never redirects; it fails with login_required.
	chain, _ := newDiscoveryFixture(t)
	req := discoveryRequest(t, map[string]string{"prompt": "none"})

	_, err := chain.Discover(context.Background(), req, nil)
	pe := protocol.AsError(err)
	if pe == nil || pe.Code != protocol.ErrorCodeLoginRequired {
		t.Fatalf("err = %v, want login_required", err)
	}
}

func TestDiscoverPromptLoginForcesReauth(t *testing.T) {
	chain, _ := newDiscoveryFixture(t)
	account := testutil.NewUserAccount("user-1", "alice", nil)
	req := discoveryRequest(t, map[string]string{"prompt": "login"})

	outcome, err := chain.Discover(context.Background(), req, &Session{Account: account})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if !outcome.NeedsLogin {
		t.Error("prompt=login with a stale session should force login")
	}

	// A session freshly authenticated during this flow satisfies it.
	outcome, err = chain.Discover(context.Background(), req, &Session{Account: account, Fresh: true})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if outcome.Account == nil {
		t.Error("fresh session should resolve without another login")
	}
}

func TestDiscoverMaxAge(t *testing.T) {
	chain, _ := newDiscoveryFixture(t)
	account := testutil.NewUserAccount("user-1", "alice", nil)
	account.LastLoginAt = time.Now().Add(-time.Hour)

	tests := []struct {
		name       string
		maxAge     int
		wantLogin  bool
		withPrompt string
	}{
		{"within max_age", 7200, false, ""},
		{"past max_age", 60, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := map[string]string{"max_age": strconv.Itoa(tt.maxAge)}
			if tt.withPrompt != "" {
				query["prompt"] = tt.withPrompt
			}
			req := discoveryRequest(t, query)

			outcome, err := chain.Discover(context.Background(), req, &Session{Account: account})
			if err != nil {
				t.Fatalf("Discover: %v", err)
			}
			if outcome.NeedsLogin != tt.wantLogin {
				t.Errorf("NeedsLogin = %v, want %v", outcome.NeedsLogin, tt.wantLogin)
			}
		})
	}

	t.Run("past max_age under prompt none", func(t *testing.T) {
		req := discoveryRequest(t, map[string]string{"max_age": "60", "prompt": "none"})
		_, err := chain.Discover(context.Background(), req, &Session{Account: account})
		pe := protocol.AsError(err)
		if pe == nil || pe.Code != protocol.ErrorCodeLoginRequired {
			t.Fatalf("err = %v, want login_required", err)
		}
	})

	t.Run("malformed max_age", func(t *testing.T) {
		req := discoveryRequest(t, map[string]string{"max_age": "soon"})
		_, err := chain.Discover(context.Background(), req, &Session{Account: account})
		pe := protocol.AsError(err)
		if pe == nil || pe.Code != protocol.ErrorCodeInvalidRequest {
			t.Fatalf("err = %v, want invalid_request", err)
		}
	})
}

func TestDiscoverIdTokenHint(t *testing.T) {
	chain, store := newDiscoveryFixture(t)
	ctx := context.Background()

	account := testutil.NewUserAccount("user-1", "alice", map[string]string{"client-1": "pairwise-abc"})
	if err := store.UserAccounts().Save(ctx, account); err != nil {
		t.Fatalf("saving account: %v", err)
	}

	t.Run("pairwise subject reversal", func(t *testing.T) {
		req := discoveryRequest(t, map[string]string{"id_token_hint": idTokenHint(t, "pairwise-abc")})
		outcome, err := chain.Discover(ctx, req, nil)
		if err != nil {
			t.Fatalf("Discover: %v", err)
		}
		if outcome.Account == nil || outcome.Account.ID != "user-1" {
			t.Errorf("Account = %+v, want user-1", outcome.Account)
		}
	})

	t.Run("plain subject", func(t *testing.T) {
		req := discoveryRequest(t, map[string]string{"id_token_hint": idTokenHint(t, "user-1")})
		outcome, err := chain.Discover(ctx, req, nil)
		if err != nil {
			t.Fatalf("Discover: %v", err)
		}
		if outcome.Account == nil || outcome.Account.ID != "user-1" {
			t.Errorf("Account = %+v, want user-1", outcome.Account)
		}
	})

	t.Run("unresolvable subject forces login", func(t *testing.T) {
		req := discoveryRequest(t, map[string]string{"id_token_hint": idTokenHint(t, "ghost")})
		outcome, err := chain.Discover(ctx, req, nil)
		if err != nil {
			t.Fatalf("Discover: %v", err)
		}
		if !outcome.NeedsLogin {
			t.Error("unknown hint subject should force login")
		}
	})

	t.Run("malformed hint", func(t *testing.T) {
		req := discoveryRequest(t, map[string]string{"id_token_hint": "garbage"})
		_, err := chain.Discover(ctx, req, nil)
		pe := protocol.AsError(err)
		if pe == nil || pe.Code != protocol.ErrorCodeInvalidRequest {
			t.Fatalf("err = %v, want invalid_request", err)
		}
	})
}

func TestDiscoverConflictForcesLogin(t *testing.T) {
	// The session resolved account B while id_token_hint names account A:
	// never silently prefer either.
	chain, store := newDiscoveryFixture(t)
	ctx := context.Background()

	accountA := testutil.NewUserAccount("user-a", "alice", nil)
	if err := store.UserAccounts().Save(ctx, accountA); err != nil {
		t.Fatalf("saving account: %v", err)
	}
	accountB := testutil.NewUserAccount("user-b", "bob", nil)

	req := discoveryRequest(t, map[string]string{"id_token_hint": idTokenHint(t, "user-a")})
	outcome, err := chain.Discover(ctx, req, &Session{Account: accountB})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if !outcome.NeedsLogin {
		t.Error("conflicting resolutions should force login")
	}
	if outcome.Account != nil {
		t.Error("no account may win a conflicting resolution")
	}
}
