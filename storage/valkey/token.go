package valkey

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/oauth2-framework/authserver/internal/util"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// generateTokenValue produces a high-entropy opaque token value.
func generateTokenValue() string {
	return oauth2.GenerateVerifier()
}

// tokenJSON is the stored representation of the state shared by every token
// kind. Parameter bags are flattened to insertion-ordered pairs; empty bags
// are omitted so the document survives a round trip through the Lua scripts'
// cjson, which cannot tell an empty array from an empty object.
type tokenJSON struct {
	ID               string   `json:"id"`
	ClientID         string   `json:"client_id"`
	OwnerID          string   `json:"owner_id,omitempty"`
	ResourceServerID string   `json:"resource_server_id,omitempty"`
	ExpiresAt        int64    `json:"expires_at"`
	Params           []string `json:"params,omitempty"`
	Metadata         []string `json:"metadata,omitempty"`
	Revoked          bool     `json:"revoked,omitempty"`
}

func toTokenJSON(t token.Token) tokenJSON {
	return tokenJSON{
		ID:               t.ID,
		ClientID:         t.ClientID,
		OwnerID:          t.OwnerID,
		ResourceServerID: t.ResourceServerID,
		ExpiresAt:        t.ExpiresAt.Unix(),
		Params:           bagToPairs(t.Params),
		Metadata:         bagToPairs(t.Metadata),
		Revoked:          t.Revoked,
	}
}

func (j tokenJSON) toToken() token.Token {
	return token.Token{
		ID:               j.ID,
		ClientID:         j.ClientID,
		OwnerID:          j.OwnerID,
		ResourceServerID: j.ResourceServerID,
		ExpiresAt:        time.Unix(j.ExpiresAt, 0),
		Params:           bagFromPairs(j.Params),
		Metadata:         bagFromPairs(j.Metadata),
		Revoked:          j.Revoked,
	}
}

// AccessTokens returns the access-token repository view of the store.
func (s *Store) AccessTokens() token.AccessTokenRepository {
	return accessTokenRepo{s}
}

// RefreshTokens returns the refresh-token repository view of the store.
func (s *Store) RefreshTokens() token.RefreshTokenRepository {
	return refreshTokenRepo{s}
}

type accessTokenRepo struct {
	s *Store
}

// Create mints a new access token. The token is not persisted until Save.
func (r accessTokenRepo) Create(_ context.Context, clientID, ownerID string, expiresAt time.Time, params, metadata token.DataBag, resourceServerID string) (*token.AccessToken, error) {
	return &token.AccessToken{Token: token.Token{
		ID:               generateTokenValue(),
		ClientID:         clientID,
		OwnerID:          ownerID,
		ResourceServerID: resourceServerID,
		ExpiresAt:        expiresAt,
		Params:           params,
		Metadata:         metadata,
	}}, nil
}

func (r accessTokenRepo) Save(ctx context.Context, t *token.AccessToken) (err error) {
	ctx, span := r.s.startSpan(ctx, "access_token.save")
	defer r.s.observe(ctx, span, "access_token.save", time.Now(), &err)

	if t == nil || t.ID == "" {
		return fmt.Errorf("invalid access token")
	}
	if err := validateID(t.ID); err != nil {
		return err
	}
	params, err := storage.EncryptParams(r.s.getEncryptor(), t.Params)
	if err != nil {
		return err
	}

	stored := t.Token
	stored.Params = params
	if err := r.s.setJSON(ctx, r.s.accessTokenKey(t.ID), toTokenJSON(stored), t.ExpiresAt); err != nil {
		return err
	}
	r.s.logger.Debug("Saved access token",
		"token_prefix", util.SafeTruncate(t.ID, tokenIDLogLength))
	return nil
}

// Find returns the token by value, or (nil, nil) when it never existed, has
// expired, or was revoked. The key TTL already drops expired documents; the
// explicit check keeps the boundary strict within the last second.
func (r accessTokenRepo) Find(ctx context.Context, id string) (_ *token.AccessToken, err error) {
	ctx, span := r.s.startSpan(ctx, "access_token.find")
	defer r.s.observe(ctx, span, "access_token.find", time.Now(), &err)

	j, err := getJSON[tokenJSON](ctx, r.s, r.s.accessTokenKey(id))
	if err != nil || j == nil {
		return nil, err
	}

	t := j.toToken()
	if t.HasExpired(time.Now()) || t.IsRevoked() {
		return nil, nil
	}
	params, err := storage.DecryptParams(r.s.getEncryptor(), t.Params)
	if err != nil {
		return nil, err
	}
	t.Params = params
	return &token.AccessToken{Token: t}, nil
}

// Revoke atomically flips the revoked flag. Idempotent.
func (r accessTokenRepo) Revoke(ctx context.Context, id string) (err error) {
	ctx, span := r.s.startSpan(ctx, "access_token.revoke")
	defer r.s.observe(ctx, span, "access_token.revoke", time.Now(), &err)

	if err := r.s.revokeByKey(ctx, r.s.accessTokenKey(id)); err != nil {
		return err
	}
	r.s.logger.Debug("Revoked access token",
		"token_prefix", util.SafeTruncate(id, tokenIDLogLength))
	return nil
}

type refreshTokenRepo struct {
	s *Store
}

func (r refreshTokenRepo) Create(_ context.Context, clientID, ownerID string, expiresAt time.Time, params, metadata token.DataBag, resourceServerID string) (*token.RefreshToken, error) {
	return &token.RefreshToken{Token: token.Token{
		ID:               generateTokenValue(),
		ClientID:         clientID,
		OwnerID:          ownerID,
		ResourceServerID: resourceServerID,
		ExpiresAt:        expiresAt,
		Params:           params,
		Metadata:         metadata,
	}}, nil
}

func (r refreshTokenRepo) Save(ctx context.Context, t *token.RefreshToken) (err error) {
	ctx, span := r.s.startSpan(ctx, "refresh_token.save")
	defer r.s.observe(ctx, span, "refresh_token.save", time.Now(), &err)

	if t == nil || t.ID == "" {
		return fmt.Errorf("invalid refresh token")
	}
	if err := validateID(t.ID); err != nil {
		return err
	}
	params, err := storage.EncryptParams(r.s.getEncryptor(), t.Params)
	if err != nil {
		return err
	}

	stored := t.Token
	stored.Params = params
	if err := r.s.setJSON(ctx, r.s.refreshTokenKey(t.ID), toTokenJSON(stored), t.ExpiresAt); err != nil {
		return err
	}
	r.s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(t.ID, tokenIDLogLength))
	return nil
}

func (r refreshTokenRepo) Find(ctx context.Context, id string) (_ *token.RefreshToken, err error) {
	ctx, span := r.s.startSpan(ctx, "refresh_token.find")
	defer r.s.observe(ctx, span, "refresh_token.find", time.Now(), &err)

	j, err := getJSON[tokenJSON](ctx, r.s, r.s.refreshTokenKey(id))
	if err != nil || j == nil {
		return nil, err
	}

	t := j.toToken()
	if t.HasExpired(time.Now()) || t.IsRevoked() {
		return nil, nil
	}
	params, err := storage.DecryptParams(r.s.getEncryptor(), t.Params)
	if err != nil {
		return nil, err
	}
	t.Params = params
	return &token.RefreshToken{Token: t}, nil
}

func (r refreshTokenRepo) Revoke(ctx context.Context, id string) (err error) {
	ctx, span := r.s.startSpan(ctx, "refresh_token.revoke")
	defer r.s.observe(ctx, span, "refresh_token.revoke", time.Now(), &err)

	if err := r.s.revokeByKey(ctx, r.s.refreshTokenKey(id)); err != nil {
		return err
	}
	r.s.logger.Debug("Revoked refresh token",
		"token_prefix", util.SafeTruncate(id, tokenIDLogLength))
	return nil
}
