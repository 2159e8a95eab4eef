package authserver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/oauth2-framework/authserver/authorize"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/token"
)

// AuthorizeResponse is the outcome of an authorization request. Exactly one
// of three shapes: NeedsLogin set, or a redirect delivery (RedirectURI plus
// Parameters composed per ResponseMode), or for form_post the bare client
// redirect URI with the parameters to render into the auto-submitting form.
//
// Protocol errors that are safe to deliver through the client's redirect URI
// come back as a redirect delivery carrying error parameters, with a nil
// error from Authorize; only errors that must not reach the redirect URI are
// returned as Go errors.
type AuthorizeResponse struct {
	// NeedsLogin asks the caller to send the user through login and retry.
	NeedsLogin bool

	// RedirectURI is the composed redirect target. For form_post it is the
	// client's bare redirect URI.
	RedirectURI string

	// ResponseMode is the delivery mode the parameters were composed for.
	ResponseMode string

	// Parameters are the response parameters delivered to the client.
	Parameters url.Values
}

// Authorize validates an authorization request, resolves the resource owner
// and, on success, mints the requested response (authorization code, access
// token) for delivery through the client's redirect URI. sess carries the
// caller's authentication state; nil means no authenticated user.
func (s *Server) Authorize(ctx context.Context, req *protocol.Request, sess *authorize.Session) (*AuthorizeResponse, error) {
	clientID := req.QueryParam("client_id")
	if clientID == "" {
		return nil, protocol.ErrInvalidRequest("client_id parameter is required")
	}
	client, err := s.store.Clients().Find(ctx, clientID)
	if err != nil {
		return nil, protocol.ErrServerError("looking up client")
	}
	if client == nil || client.Deleted {
		return nil, protocol.ErrInvalidRequest("unknown client")
	}

	validated, perr := s.pipeline.Run(ctx, req, client)
	if perr != nil {
		return s.deliverError(client.ID, perr)
	}

	// Public clients must bind the code to a PKCE challenge up front, not
	// only at exchange time.
	if s.config.EnforcePKCE && client.IsPublic() &&
		validated.HasResponseType("code") && req.QueryParam(token.ParamCodeChallenge) == "" {
		return s.deliverError(client.ID, s.annotatedError(validated,
			protocol.ErrInvalidRequest("code_challenge is required for public clients")))
	}

	outcome, err := s.discovery.Discover(ctx, validated, sess)
	if err != nil {
		return s.deliverError(client.ID, s.annotatedError(validated, err))
	}
	if outcome.NeedsLogin {
		return &AuthorizeResponse{NeedsLogin: true}, nil
	}

	params := url.Values{}
	if validated.State != "" {
		params.Set("state", validated.State)
	}
	if validated.HasResponseType("code") {
		if err := s.mintCode(ctx, req, validated, outcome, params); err != nil {
			return s.deliverError(client.ID, s.annotatedError(validated, err))
		}
	}
	if validated.HasResponseType("token") {
		if err := s.mintImplicitToken(ctx, validated, outcome, params); err != nil {
			return s.deliverError(client.ID, s.annotatedError(validated, err))
		}
	}

	return s.deliver(validated.RedirectURI, validated.ResponseMode, params)
}

// mintCode mints and persists an authorization code bound to the validated
// request, adding it to the response parameters.
func (s *Server) mintCode(ctx context.Context, req *protocol.Request, validated *authorize.Request, outcome *authorize.Outcome, params url.Values) error {
	now := time.Now()

	codeParams := token.NewDataBag()
	if validated.Scope != "" {
		codeParams = codeParams.With(token.ParamScope, validated.Scope)
	}
	if challenge := req.QueryParam(token.ParamCodeChallenge); challenge != "" {
		method := req.QueryParam(token.ParamCodeChallengeMethod)
		if method == "" {
			method = "S256"
		}
		codeParams = codeParams.
			With(token.ParamCodeChallenge, challenge).
			With(token.ParamCodeChallengeMethod, method)
	}

	code, err := s.store.AuthorizationCodes().Create(ctx,
		validated.Client.ID, outcome.Account.ID, now.Add(s.config.AuthorizationCodeTTL),
		codeParams, token.NewDataBag(), "",
		token.CodeRequest{
			RedirectURI:       validated.RedirectURI,
			QueryParams:       req.Query,
			IssueRefreshToken: validated.Client.AllowsGrantType("refresh_token"),
		})
	if err != nil {
		return protocol.ErrServerError("minting authorization code")
	}
	if err := s.store.AuthorizationCodes().Save(ctx, code); err != nil {
		return protocol.ErrServerError("saving authorization code")
	}

	s.auditor.LogEvent(security.Event{
		Type:     security.EventCodeIssued,
		ClientID: validated.Client.ID,
		OwnerID:  outcome.Account.ID,
	})
	params.Set("code", code.ID)
	return nil
}

// mintImplicitToken mints an access token for response_type=token and folds
// its response data into the redirect parameters.
func (s *Server) mintImplicitToken(ctx context.Context, validated *authorize.Request, outcome *authorize.Outcome, params url.Values) error {
	now := time.Now()

	tokenParams := token.NewDataBag()
	if validated.Scope != "" {
		tokenParams = tokenParams.With(token.ParamScope, validated.Scope)
	}
	access, err := s.store.AccessTokens().Create(ctx,
		validated.Client.ID, outcome.Account.ID, now.Add(s.config.AccessTokenTTL),
		tokenParams, token.NewDataBag(), "")
	if err != nil {
		return protocol.ErrServerError("minting access token")
	}
	if err := s.store.AccessTokens().Save(ctx, access); err != nil {
		return protocol.ErrServerError("saving access token")
	}

	for k, v := range access.ResponseData(now) {
		params.Set(k, toParamString(v))
	}
	s.auditor.LogTokenIssued(outcome.Account.ID, validated.Client.ID, "implicit", validated.Scope)
	return nil
}

// deliver composes the final response for the given mode.
func (s *Server) deliver(redirectURI, mode string, params url.Values) (*AuthorizeResponse, error) {
	target := redirectURI
	if mode != authorize.ResponseModeFormPost {
		composed, err := composeRedirect(redirectURI, mode, params)
		if err != nil {
			return nil, protocol.ErrServerError("composing redirect")
		}
		target = composed
	}
	return &AuthorizeResponse{
		RedirectURI:  target,
		ResponseMode: mode,
		Parameters:   params,
	}, nil
}

// deliverError routes a pipeline or discovery failure: through the redirect
// URI when it and the response mode validated, directly otherwise.
func (s *Server) deliverError(clientID string, perr *authorize.Error) (*AuthorizeResponse, error) {
	s.auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationRejected,
		ClientID: clientID,
		Details:  map[string]any{"error": perr.Code},
	})
	if !perr.RedirectDeliverable() {
		return nil, perr.Error
	}
	params := url.Values{}
	for k, v := range perr.ResponseData() {
		params.Set(k, toParamString(v))
	}
	if perr.State != "" {
		params.Set("state", perr.State)
	}
	return s.deliver(perr.RedirectURI, perr.ResponseMode, params)
}

// annotatedError attaches redirect context from an already validated request
// to an error raised after the pipeline ran.
func (s *Server) annotatedError(validated *authorize.Request, err error) *authorize.Error {
	return &authorize.Error{
		Error:        protocol.AsError(err),
		RedirectURI:  validated.RedirectURI,
		ResponseMode: validated.ResponseMode,
		State:        validated.State,
	}
}

// composeRedirect folds response parameters into the redirect URI, in the
// query or the fragment depending on the response mode.
func composeRedirect(redirectURI, mode string, params url.Values) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	switch mode {
	case authorize.ResponseModeFragment:
		u.Fragment = params.Encode()
	default:
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func toParamString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return fmt.Sprint(value)
	}
}
