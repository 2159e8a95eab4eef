package token

import (
	"testing"
	"time"
)

func TestDataBag_Immutability(t *testing.T) {
	base := NewDataBag().With("scope", "openid").With("aud", "rs1")

	modified := base.With("scope", "email")
	if got, _ := base.Get("scope"); got != "openid" {
		t.Errorf("base mutated: scope = %q, want %q", got, "openid")
	}
	if got, _ := modified.Get("scope"); got != "email" {
		t.Errorf("modified scope = %q, want %q", got, "email")
	}

	removed := base.Without("scope")
	if base.Len() != 2 {
		t.Errorf("base.Len() = %d after Without on copy, want 2", base.Len())
	}
	if removed.Has("scope") {
		t.Error("removed bag still has scope")
	}
}

func TestDataBag_InsertionOrder(t *testing.T) {
	bag := NewDataBag().With("b", "2").With("a", "1").With("c", "3")

	// Replacing a value keeps the original position.
	bag = bag.With("a", "10")

	want := []string{"b", "a", "c"}
	got := bag.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if v, _ := bag.Get("a"); v != "10" {
		t.Errorf("Get(a) = %q, want %q", v, "10")
	}
}

func TestDataBag_WithoutMissingKey(t *testing.T) {
	bag := NewDataBag().With("a", "1")
	if got := bag.Without("missing"); got.Len() != 1 {
		t.Errorf("Without(missing).Len() = %d, want 1", got.Len())
	}
}

func TestToken_HasExpired(t *testing.T) {
	expiry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := Token{ID: "t1", ExpiresAt: expiry}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"well before expiry", expiry.Add(-time.Hour), false},
		{"one nanosecond before", expiry.Add(-time.Nanosecond), false},
		{"exactly at expiry", expiry, true},
		{"after expiry", expiry.Add(time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tok.HasExpired(tt.now); got != tt.want {
				t.Errorf("HasExpired(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestToken_ExpiresIn(t *testing.T) {
	expiry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := Token{ID: "t1", ExpiresAt: expiry}

	if got := tok.ExpiresIn(expiry.Add(-90 * time.Second)); got != 90 {
		t.Errorf("ExpiresIn() = %d, want 90", got)
	}
	// Never negative, even long after expiry.
	if got := tok.ExpiresIn(expiry.Add(time.Hour)); got != 0 {
		t.Errorf("ExpiresIn() after expiry = %d, want 0", got)
	}
}

func TestAccessToken_MarkRevoked(t *testing.T) {
	tok := AccessToken{Token: Token{ID: "t1"}}

	revoked := tok.MarkRevoked()
	if !revoked.IsRevoked() {
		t.Error("MarkRevoked() did not set revoked")
	}
	if revoked.ID != tok.ID {
		t.Errorf("MarkRevoked() changed identity: %q -> %q", tok.ID, revoked.ID)
	}

	// Idempotent: revoking again is a no-op that stays revoked.
	again := revoked.MarkRevoked()
	if !again.IsRevoked() {
		t.Error("second MarkRevoked() reverted the flag")
	}
}

func TestAccessToken_ResponseData(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tok := AccessToken{Token: Token{
		ID:        "at-value",
		ExpiresAt: now.Add(time.Hour),
		Params:    NewDataBag().With(ParamScope, "openid email"),
	}}

	data := tok.ResponseData(now)
	if data["access_token"] != "at-value" {
		t.Errorf("access_token = %v, want %q", data["access_token"], "at-value")
	}
	if data[ParamTokenType] != TokenTypeBearer {
		t.Errorf("token_type = %v, want %q", data[ParamTokenType], TokenTypeBearer)
	}
	if data[ParamExpiresIn] != int64(3600) {
		t.Errorf("expires_in = %v, want 3600", data[ParamExpiresIn])
	}
	if data[ParamScope] != "openid email" {
		t.Errorf("scope = %v, want %q", data[ParamScope], "openid email")
	}
}

func TestAuthorizationCode_MarkUsed(t *testing.T) {
	code := AuthorizationCode{Token: Token{ID: "c1"}}
	if code.Used {
		t.Fatal("new code already used")
	}

	used := code.MarkUsed()
	if !used.Used {
		t.Error("MarkUsed() did not set used")
	}
	if used.ID != code.ID {
		t.Errorf("MarkUsed() changed identity: %q -> %q", code.ID, used.ID)
	}
}
