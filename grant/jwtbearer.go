package grant

import (
	"context"
	"encoding/json"

	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/token"
	"github.com/oauth2-framework/authserver/trust"
)

// GrantTypeJWTBearer is the registered name of the jwt-bearer grant.
const GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// MetadataAssertionClaims is the metadata key carrying the validated
// assertion claims on tokens minted from a jwt-bearer exchange.
const MetadataAssertionClaims = "assertion_claims"

// JWTBearer exchanges a validated third-party assertion for tokens.
type JWTBearer struct {
	Validator *trust.Validator
}

func (JWTBearer) Name() string { return GrantTypeJWTBearer }

func (JWTBearer) AssociatedResponseTypes() []string { return nil }

func (JWTBearer) CheckRequest(req *protocol.Request) error {
	if req.BodyParam("assertion") == "" {
		return protocol.ErrInvalidRequest("assertion parameter is required")
	}
	return nil
}

func (g JWTBearer) Grant(ctx context.Context, req *protocol.Request, data *Data) error {
	result, err := g.Validator.Validate(ctx, req.BodyParam("assertion"), data.Client.ID)
	if err != nil {
		return err
	}

	data.OwnerID = result.OwnerID
	if scope := req.BodyParam("scope"); scope != "" {
		data.Params = data.Params.With(token.ParamScope, scope)
	}

	raw, err := json.Marshal(result.Claims)
	if err != nil {
		return protocol.ErrServerError("serializing assertion claims")
	}
	data.Metadata = data.Metadata.With(MetadataAssertionClaims, string(raw))
	return nil
}
