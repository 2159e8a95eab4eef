package grant

import (
	"context"

	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/token"
)

// RefreshToken exchanges a refresh token for a fresh access token,
// optionally narrowing the scope to a subset of the original grant.
type RefreshToken struct {
	Tokens token.RefreshTokenRepository
}

func (RefreshToken) Name() string { return "refresh_token" }

func (RefreshToken) AssociatedResponseTypes() []string { return nil }

func (RefreshToken) CheckRequest(req *protocol.Request) error {
	if req.BodyParam("refresh_token") == "" {
		return protocol.ErrInvalidRequest("refresh_token parameter is required")
	}
	return nil
}

func (g RefreshToken) Grant(ctx context.Context, req *protocol.Request, data *Data) error {
	rt, err := g.Tokens.Find(ctx, req.BodyParam("refresh_token"))
	if err != nil {
		return err
	}
	if rt == nil {
		// Expired, revoked and never-issued all land here.
		return protocol.ErrInvalidGrant("refresh token is not valid")
	}
	if rt.ClientID != data.Client.ID {
		return protocol.ErrInvalidGrant("refresh token was issued to another client")
	}

	scope, err := narrowScope(req.BodyParam("scope"), rt.Params.GetOr(token.ParamScope, ""))
	if err != nil {
		return err
	}

	data.OwnerID = rt.OwnerID
	data.ResourceServerID = rt.ResourceServerID
	data.Params = rt.Params
	if scope != "" {
		data.Params = data.Params.With(token.ParamScope, scope)
	}
	data.Metadata = rt.Metadata
	return nil
}
