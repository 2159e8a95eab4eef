package grant

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// Password implements the resource-owner password credentials grant.
type Password struct {
	Accounts storage.UserAccountStore
}

func (Password) Name() string { return "password" }

func (Password) AssociatedResponseTypes() []string { return nil }

func (Password) CheckRequest(req *protocol.Request) error {
	if req.BodyParam("username") == "" {
		return protocol.ErrInvalidRequest("username parameter is required")
	}
	if req.BodyParam("password") == "" {
		return protocol.ErrInvalidRequest("password parameter is required")
	}
	return nil
}

func (g Password) Grant(ctx context.Context, req *protocol.Request, data *Data) error {
	account, err := g.Accounts.FindByUsername(ctx, req.BodyParam("username"))
	if err != nil {
		return fmt.Errorf("looking up account: %w", err)
	}
	if account == nil {
		return protocol.ErrInvalidGrant("resource owner credentials are not valid")
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.BodyParam("password"))) != nil {
		return protocol.ErrInvalidGrant("resource owner credentials are not valid")
	}

	data.OwnerID = account.ID
	if scope := req.BodyParam("scope"); scope != "" {
		data.Params = data.Params.With(token.ParamScope, scope)
	}
	data.IssueRefreshToken = true
	return nil
}
