package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditorDisabled(t *testing.T) {
	auditor, buf := newTestAuditor(false)

	auditor.LogTokenIssued("user-1", "client-1", "authorization_code", "openid")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %q", buf.String())
	}
}

func TestAuditorHashesOwnerID(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogTokenIssued("user-secret-id", "client-1", "password", "profile")

	output := buf.String()
	if strings.Contains(output, "user-secret-id") {
		t.Error("owner ID logged in plaintext")
	}
	if !strings.Contains(output, "owner_id_hash") {
		t.Error("expected hashed owner ID in output")
	}
	if !strings.Contains(output, "client-1") {
		t.Error("expected client ID in output")
	}
	if !strings.Contains(output, EventTokenIssued) {
		t.Errorf("expected event type %q in output", EventTokenIssued)
	}
}

func TestAuditorAssignsEventID(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogEvent(Event{Type: EventAuthFailure, ClientID: "client-2"})

	if !strings.Contains(buf.String(), "event_id") {
		t.Error("expected generated event ID in output")
	}
}

func TestAuditorEventHelpers(t *testing.T) {
	tests := []struct {
		name      string
		log       func(a *Auditor)
		eventType string
		contains  []string
	}{
		{
			name:      "token revoked",
			log:       func(a *Auditor) { a.LogTokenRevoked("user-1", "client-1", "refresh_token") },
			eventType: EventTokenRevoked,
			contains:  []string{"refresh_token"},
		},
		{
			name:      "auth failure",
			log:       func(a *Auditor) { a.LogAuthFailure("client-1", "client_secret_basic", "secret mismatch") },
			eventType: EventAuthFailure,
			contains:  []string{"client_secret_basic"},
		},
		{
			name:      "code reuse",
			log:       func(a *Auditor) { a.LogCodeReuse("user-1", "client-1") },
			eventType: EventCodeReuseDetected,
			contains:  []string{"critical"},
		},
		{
			name:      "assertion rejected",
			log:       func(a *Auditor) { a.LogAssertionRejected("https://issuer.example.com", "audience mismatch") },
			eventType: EventAssertionRejected,
			contains:  []string{"issuer.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(true)
			tt.log(auditor)

			output := buf.String()
			if !strings.Contains(output, tt.eventType) {
				t.Errorf("expected event type %q in output: %s", tt.eventType, output)
			}
			for _, want := range tt.contains {
				if !strings.Contains(output, want) {
					t.Errorf("expected %q in output: %s", want, output)
				}
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	h1 := hashForLogging("alice")
	h2 := hashForLogging("alice")
	if h1 != h2 {
		t.Error("hash not deterministic")
	}
	if h1 == "alice" {
		t.Error("hash returned input unchanged")
	}
	if len(h1) != 16 {
		t.Errorf("hash length = %d, want 16", len(h1))
	}
}
