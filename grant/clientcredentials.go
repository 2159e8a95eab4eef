package grant

import (
	"context"
	"strings"

	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/token"
)

// ClientCredentials issues tokens representing the client itself. Public
// clients cannot use it, and no refresh token is minted.
type ClientCredentials struct{}

func (ClientCredentials) Name() string { return "client_credentials" }

func (ClientCredentials) AssociatedResponseTypes() []string { return nil }

func (ClientCredentials) CheckRequest(*protocol.Request) error { return nil }

func (g ClientCredentials) Grant(_ context.Context, req *protocol.Request, data *Data) error {
	if data.Client.IsPublic() {
		return protocol.ErrUnauthorizedClient("public clients cannot use client_credentials")
	}

	scope := req.BodyParam("scope")
	if scope != "" {
		registered := make(map[string]bool, len(data.Client.Scopes))
		for _, s := range data.Client.Scopes {
			registered[s] = true
		}
		for _, s := range strings.Fields(scope) {
			if !registered[s] {
				return protocol.ErrInvalidScope("scope " + s + " is not registered for this client")
			}
		}
	}

	data.OwnerID = data.Client.ID
	if scope != "" {
		data.Params = data.Params.With(token.ParamScope, scope)
	}
	return nil
}
