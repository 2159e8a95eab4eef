package authorize

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/oauth2-framework/authserver/protocol"
)

// Response modes this engine knows how to deliver.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// DefaultResponseTypes maps the standard response types to their default
// response modes per the OAuth 2.0 multiple-response-type encoding rules.
func DefaultResponseTypes() map[string]string {
	return map[string]string{
		"code":     ResponseModeQuery,
		"token":    ResponseModeFragment,
		"id_token": ResponseModeFragment,
	}
}

// DefaultResponseModes lists the modes the engine can deliver.
func DefaultResponseModes() []string {
	return []string{ResponseModeQuery, ResponseModeFragment, ResponseModeFormPost}
}

// DisplayChecker validates the optional display parameter.
type DisplayChecker struct{}

func (DisplayChecker) Name() string { return "display" }

func (DisplayChecker) Check(_ context.Context, req *Request) error {
	display := req.Raw.QueryParam("display")
	switch display {
	case "", "page", "popup", "touch", "wap":
		req.Display = display
		return nil
	}
	return protocol.ErrInvalidRequest("unknown display value " + display)
}

// PromptChecker validates the optional prompt parameter. The value "none"
// must appear alone.
type PromptChecker struct{}

func (PromptChecker) Name() string { return "prompt" }

func (PromptChecker) Check(_ context.Context, req *Request) error {
	raw := req.Raw.QueryParam("prompt")
	if raw == "" {
		return nil
	}
	prompts := strings.Fields(raw)
	for _, p := range prompts {
		switch p {
		case "none", "login", "consent", "select_account":
		default:
			return protocol.ErrInvalidRequest("unknown prompt value " + p)
		}
	}
	if len(prompts) > 1 {
		for _, p := range prompts {
			if p == "none" {
				return protocol.ErrInvalidRequest("prompt none must not be combined with other values")
			}
		}
	}
	req.Prompts = prompts
	return nil
}

// RedirectURIChecker requires a redirect_uri exactly matching one of the
// client's registered URIs. No prefix matching.
type RedirectURIChecker struct{}

func (RedirectURIChecker) Name() string { return "redirect_uri" }

func (RedirectURIChecker) Check(_ context.Context, req *Request) error {
	uri := req.Raw.QueryParam("redirect_uri")
	if uri == "" {
		return protocol.ErrInvalidRequest("redirect_uri parameter is required")
	}
	if !req.Client.HasRedirectURI(uri) {
		return protocol.ErrInvalidRequest("redirect_uri is not registered for this client")
	}
	req.RedirectURI = uri
	return nil
}

// ResponseTypeAndModeChecker validates response_type against the server
// catalog and the client's registration, then resolves the response mode.
// A type missing from the server catalog and a type the client is not
// registered for are distinct failures.
type ResponseTypeAndModeChecker struct {
	// SupportedTypes maps each server-supported response type to its
	// default response mode.
	SupportedTypes map[string]string

	// SupportedModes lists the modes the server can deliver.
	SupportedModes []string
}

func (ResponseTypeAndModeChecker) Name() string { return "response_type" }

func (c ResponseTypeAndModeChecker) Check(_ context.Context, req *Request) error {
	raw := req.Raw.QueryParam("response_type")
	if raw == "" {
		return protocol.ErrInvalidRequest("response_type parameter is required")
	}

	types := strings.Fields(raw)
	defaultMode := ResponseModeQuery
	for _, rt := range types {
		mode, supported := c.SupportedTypes[rt]
		if !supported {
			return protocol.ErrUnsupportedResponseType("response type " + rt + " is not supported")
		}
		if !req.Client.AllowsResponseType(rt) {
			return protocol.ErrUnauthorizedClient("client is not registered for response type " + rt)
		}
		// Any fragment-default type pulls the whole response into the
		// fragment.
		if mode == ResponseModeFragment {
			defaultMode = ResponseModeFragment
		}
	}
	req.ResponseTypes = types

	mode := req.Raw.QueryParam("response_mode")
	if mode == "" {
		req.ResponseMode = defaultMode
		return nil
	}
	for _, m := range c.SupportedModes {
		if m == mode {
			req.ResponseMode = mode
			return nil
		}
	}
	return protocol.ErrInvalidRequest("response mode " + mode + " is not supported")
}

// ScopeChecker records the requested scope.
type ScopeChecker struct{}

func (ScopeChecker) Name() string { return "scope" }

func (ScopeChecker) Check(_ context.Context, req *Request) error {
	req.Scope = req.Raw.QueryParam("scope")
	return nil
}

// StateChecker passes the state parameter through for later echo.
type StateChecker struct{}

func (StateChecker) Name() string { return "state" }

func (StateChecker) Check(_ context.Context, req *Request) error {
	req.State = req.Raw.QueryParam("state")
	return nil
}

// NonceChecker requires a nonce whenever an id_token is requested.
type NonceChecker struct{}

func (NonceChecker) Name() string { return "nonce" }

func (NonceChecker) Check(_ context.Context, req *Request) error {
	req.Nonce = req.Raw.QueryParam("nonce")
	if req.Nonce == "" && req.HasResponseType("id_token") {
		return protocol.ErrInvalidRequest("nonce is required when requesting an id_token")
	}
	return nil
}

// ClaimsChecker requires the optional claims parameter to be valid JSON.
type ClaimsChecker struct{}

func (ClaimsChecker) Name() string { return "claims" }

func (ClaimsChecker) Check(_ context.Context, req *Request) error {
	raw := req.Raw.QueryParam("claims")
	if raw == "" {
		return nil
	}
	var claims map[string]any
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		return protocol.ErrInvalidRequest("claims parameter is not valid JSON")
	}
	req.Claims = claims
	return nil
}
