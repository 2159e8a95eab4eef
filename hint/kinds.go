package hint

import (
	"context"
	"errors"

	"github.com/oauth2-framework/authserver/token"
)

// Hint names follow the token_type_hint values of RFC 7009 section 2.1.
const (
	KindAccessToken       = "access_token"
	KindRefreshToken      = "refresh_token"
	KindAuthorizationCode = "authorization_code"
)

// AccessToken adapts an access token repository.
type AccessToken struct {
	Tokens token.AccessTokenRepository
}

func (h *AccessToken) Name() string { return KindAccessToken }

func (h *AccessToken) Find(ctx context.Context, value string) (*Info, error) {
	t, err := h.Tokens.Find(ctx, value)
	if err != nil || t == nil {
		return nil, err
	}
	return &Info{
		Kind:      KindAccessToken,
		ClientID:  t.ClientID,
		OwnerID:   t.OwnerID,
		ExpiresAt: t.ExpiresAt,
		Params:    t.Params,
	}, nil
}

func (h *AccessToken) Revoke(ctx context.Context, value string) error {
	return h.Tokens.Revoke(ctx, value)
}

// RefreshToken adapts a refresh token repository.
type RefreshToken struct {
	Tokens token.RefreshTokenRepository
}

func (h *RefreshToken) Name() string { return KindRefreshToken }

func (h *RefreshToken) Find(ctx context.Context, value string) (*Info, error) {
	t, err := h.Tokens.Find(ctx, value)
	if err != nil || t == nil {
		return nil, err
	}
	return &Info{
		Kind:      KindRefreshToken,
		ClientID:  t.ClientID,
		OwnerID:   t.OwnerID,
		ExpiresAt: t.ExpiresAt,
		Params:    t.Params,
	}, nil
}

func (h *RefreshToken) Revoke(ctx context.Context, value string) error {
	return h.Tokens.Revoke(ctx, value)
}

// AuthorizationCode adapts an authorization code repository. A used code is
// reported as gone: its one exchange already happened, so nothing remains to
// introspect or revoke.
type AuthorizationCode struct {
	Codes token.AuthorizationCodeRepository
}

func (h *AuthorizationCode) Name() string { return KindAuthorizationCode }

func (h *AuthorizationCode) Find(ctx context.Context, value string) (*Info, error) {
	c, err := h.Codes.Find(ctx, value)
	if err != nil || c == nil || c.Used {
		return nil, err
	}
	return &Info{
		Kind:      KindAuthorizationCode,
		ClientID:  c.ClientID,
		OwnerID:   c.OwnerID,
		ExpiresAt: c.ExpiresAt,
		Params:    c.Params,
	}, nil
}

func (h *AuthorizationCode) Revoke(ctx context.Context, value string) error {
	err := h.Codes.Revoke(ctx, value)
	if errors.Is(err, token.ErrNotFound) {
		return nil
	}
	return err
}
