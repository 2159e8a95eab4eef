package authorize

import (
	"context"
	"testing"

	"github.com/oauth2-framework/authserver/internal/testutil"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage"
)

func newTestPipeline() *Pipeline {
	return DefaultPipeline(nil, DefaultResponseTypes(), DefaultResponseModes())
}

func validAuthRequest() *protocol.Request {
	req := protocol.NewRequest()
	req.Method = "GET"
	req.Query.Set("response_type", "code")
	req.Query.Set("redirect_uri", "https://example.com/callback")
	req.Query.Set("scope", "openid profile")
	req.Query.Set("state", "xyz")
	return req
}

func oidcClient(id string) *storage.Client {
	c := testutil.NewPublicClient(id)
	c.ResponseTypes = []string{"code", "id_token"}
	return c
}

func TestPipelineValidRequest(t *testing.T) {
	req, perr := newTestPipeline().Run(context.Background(), validAuthRequest(), oidcClient("client-1"))
	if perr != nil {
		t.Fatalf("Run: %v", perr)
	}
	if req.RedirectURI != "https://example.com/callback" {
		t.Errorf("RedirectURI = %q", req.RedirectURI)
	}
	if req.ResponseMode != ResponseModeQuery {
		t.Errorf("ResponseMode = %q, want default query", req.ResponseMode)
	}
	if req.State != "xyz" {
		t.Errorf("State = %q", req.State)
	}
	if req.Scope != "openid profile" {
		t.Errorf("Scope = %q", req.Scope)
	}
}

func TestPipelinePromptNoneAlone(t *testing.T) {
	raw := validAuthRequest()
	raw.Query.Set("prompt", "none login")

	_, perr := newTestPipeline().Run(context.Background(), raw, oidcClient("client-1"))
	if perr == nil || perr.Code != protocol.ErrorCodeInvalidRequest {
		t.Fatalf("err = %v, want invalid_request", perr)
	}
	// Prompt fails before the redirect URI is validated, so the error is
	// not redirect-deliverable.
	if perr.RedirectDeliverable() {
		t.Error("prompt error should not be redirect-deliverable")
	}
}

func TestPipelineResponseTypeErrorsAreDistinct(t *testing.T) {
	t.Run("absent from server catalog", func(t *testing.T) {
		raw := validAuthRequest()
		raw.Query.Set("response_type", "mystery")
		_, perr := newTestPipeline().Run(context.Background(), raw, oidcClient("client-1"))
		if perr == nil || perr.Code != protocol.ErrorCodeUnsupportedResponseType {
			t.Fatalf("err = %v, want unsupported_response_type", perr)
		}
	})

	t.Run("not allowed for this client", func(t *testing.T) {
		client := oidcClient("client-1")
		client.ResponseTypes = []string{"id_token"}
		_, perr := newTestPipeline().Run(context.Background(), validAuthRequest(), client)
		if perr == nil || perr.Code != protocol.ErrorCodeUnauthorizedClient {
			t.Fatalf("err = %v, want unauthorized_client", perr)
		}
	})
}

func TestPipelineErrorsAfterRedirectResolutionAreDeliverable(t *testing.T) {
	raw := validAuthRequest()
	raw.Query.Set("response_type", "code id_token")
	// Missing nonce fails after redirect_uri and response mode resolved.

	_, perr := newTestPipeline().Run(context.Background(), raw, oidcClient("client-1"))
	if perr == nil || perr.Code != protocol.ErrorCodeInvalidRequest {
		t.Fatalf("err = %v, want invalid_request", perr)
	}
	if !perr.RedirectDeliverable() {
		t.Error("nonce error should be redirect-deliverable")
	}
	if perr.ResponseMode != ResponseModeFragment {
		t.Errorf("ResponseMode = %q, want fragment for id_token", perr.ResponseMode)
	}
	if perr.State != "xyz" {
		t.Errorf("State = %q, want echoed state", perr.State)
	}
}

func TestPipelineChecks(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *protocol.Request)
		wantCode string
	}{
		{"unknown display", func(r *protocol.Request) { r.Query.Set("display", "billboard") }, protocol.ErrorCodeInvalidRequest},
		{"valid display", func(r *protocol.Request) { r.Query.Set("display", "popup") }, ""},
		{"unknown prompt", func(r *protocol.Request) { r.Query.Set("prompt", "maybe") }, protocol.ErrorCodeInvalidRequest},
		{"prompt none alone ok", func(r *protocol.Request) { r.Query.Set("prompt", "none") }, ""},
		{"prompt login consent ok", func(r *protocol.Request) { r.Query.Set("prompt", "login consent") }, ""},
		{"missing redirect_uri", func(r *protocol.Request) { r.Query.Del("redirect_uri") }, protocol.ErrorCodeInvalidRequest},
		{"unregistered redirect_uri", func(r *protocol.Request) { r.Query.Set("redirect_uri", "https://evil.example.com/cb") }, protocol.ErrorCodeInvalidRequest},
		{"prefix of registered redirect_uri", func(r *protocol.Request) { r.Query.Set("redirect_uri", "https://example.com/callback/extra") }, protocol.ErrorCodeInvalidRequest},
		{"missing response_type", func(r *protocol.Request) { r.Query.Del("response_type") }, protocol.ErrorCodeInvalidRequest},
		{"unsupported response_mode", func(r *protocol.Request) { r.Query.Set("response_mode", "websocket") }, protocol.ErrorCodeInvalidRequest},
		{"explicit form_post mode", func(r *protocol.Request) { r.Query.Set("response_mode", "form_post") }, ""},
		{"malformed claims", func(r *protocol.Request) { r.Query.Set("claims", "{not json") }, protocol.ErrorCodeInvalidRequest},
		{"valid claims", func(r *protocol.Request) { r.Query.Set("claims", `{"userinfo":{"email":null}}`) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validAuthRequest()
			tt.mutate(raw)

			_, perr := newTestPipeline().Run(context.Background(), raw, oidcClient("client-1"))
			if tt.wantCode == "" {
				if perr != nil {
					t.Fatalf("Run: %v", perr)
				}
				return
			}
			if perr == nil || perr.Code != tt.wantCode {
				t.Fatalf("err = %v, want %s", perr, tt.wantCode)
			}
		})
	}
}

func TestPipelineExplicitModeOverridesDefault(t *testing.T) {
	raw := validAuthRequest()
	raw.Query.Set("response_mode", "fragment")

	req, perr := newTestPipeline().Run(context.Background(), raw, oidcClient("client-1"))
	if perr != nil {
		t.Fatalf("Run: %v", perr)
	}
	if req.ResponseMode != ResponseModeFragment {
		t.Errorf("ResponseMode = %q, want fragment", req.ResponseMode)
	}
}
