package grant

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/oauth2-framework/authserver/instrumentation"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/token"
)

// PKCE challenge methods.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// AuthorizationCode exchanges a one-time authorization code for tokens.
type AuthorizationCode struct {
	// Codes owns the atomic one-time-use transition.
	Codes token.AuthorizationCodeRepository

	// EnforcePKCE rejects exchanges by public clients whose code carries no
	// PKCE challenge.
	EnforcePKCE bool

	// AllowPlain additionally accepts the plain challenge method. Off by
	// default; S256 is the only method modern clients need.
	AllowPlain bool

	Logger  *slog.Logger
	Auditor *security.Auditor

	// Metrics counts detected code reuse when set.
	Metrics *instrumentation.Metrics
}

func (AuthorizationCode) Name() string { return "authorization_code" }

func (AuthorizationCode) AssociatedResponseTypes() []string { return []string{"code"} }

func (AuthorizationCode) CheckRequest(req *protocol.Request) error {
	if req.BodyParam("code") == "" {
		return protocol.ErrInvalidRequest("code parameter is required")
	}
	return nil
}

func (g AuthorizationCode) Grant(ctx context.Context, req *protocol.Request, data *Data) error {
	// Use is the atomic consume: under two concurrent exchanges exactly one
	// call returns the code, the other ErrCodeAlreadyUsed.
	code, err := g.Codes.Use(ctx, req.BodyParam("code"))
	if errors.Is(err, token.ErrCodeAlreadyUsed) {
		// Reuse of a consumed code is a theft indicator.
		if g.Auditor != nil {
			ownerID := ""
			if code != nil {
				ownerID = code.OwnerID
			}
			g.Auditor.LogCodeReuse(ownerID, data.Client.ID)
		}
		if g.Metrics != nil {
			g.Metrics.RecordCodeReuse(ctx)
		}
		return protocol.ErrInvalidGrant("authorization code is not valid")
	}
	if err != nil {
		return err
	}
	if code == nil {
		return protocol.ErrInvalidGrant("authorization code is not valid")
	}
	if code.ClientID != data.Client.ID {
		return protocol.ErrInvalidGrant("authorization code was issued to another client")
	}
	if req.BodyParam("redirect_uri") != code.RedirectURI {
		return protocol.ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := g.verifyPKCE(code, req.BodyParam("code_verifier"), data); err != nil {
		return err
	}

	data.OwnerID = code.OwnerID
	data.ResourceServerID = code.ResourceServerID
	data.Params = code.Params.Without(token.ParamCodeChallenge).Without(token.ParamCodeChallengeMethod)
	data.Metadata = code.Metadata
	data.IssueRefreshToken = code.IssueRefreshToken
	return nil
}

func (g AuthorizationCode) verifyPKCE(code *token.AuthorizationCode, verifier string, data *Data) error {
	challenge, hasChallenge := code.Params.Get(token.ParamCodeChallenge)
	if !hasChallenge {
		if g.EnforcePKCE && data.Client.IsPublic() {
			return protocol.ErrInvalidGrant("public clients must use PKCE")
		}
		return nil
	}
	if verifier == "" {
		return protocol.ErrInvalidGrant("code_verifier is required")
	}

	// A challenge stored without a method is verified as S256, matching the
	// default applied when the code was minted.
	method := code.Params.GetOr(token.ParamCodeChallengeMethod, PKCEMethodS256)
	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
			return g.pkceFailure(data)
		}
	case PKCEMethodPlain:
		if !g.AllowPlain {
			return protocol.ErrInvalidGrant("plain code challenge method is not accepted")
		}
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return g.pkceFailure(data)
		}
	default:
		return protocol.ErrInvalidGrant("unknown code challenge method")
	}
	return nil
}

func (g AuthorizationCode) pkceFailure(data *Data) error {
	if g.Logger != nil {
		g.Logger.Warn("PKCE verification failed", "client_id", data.Client.ID)
	}
	if g.Auditor != nil {
		g.Auditor.LogEvent(security.Event{
			Type:     security.EventPKCEValidationFailed,
			ClientID: data.Client.ID,
		})
	}
	return protocol.ErrInvalidGrant("code verifier does not match the challenge")
}
