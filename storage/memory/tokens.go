package memory

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/oauth2-framework/authserver/internal/util"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// tokenIDLogLength is the number of characters to include when logging token
// values. Enough uniqueness for debugging while keeping logs safe.
const tokenIDLogLength = 8

// generateTokenValue produces a high-entropy opaque token value.
func generateTokenValue() string {
	return oauth2.GenerateVerifier()
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
	params, err := storage.EncryptParams(r.s.encryptor, t.Params)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *t
	stored.Params = params
	r.s.accessTokens[t.ID] = &stored
	return nil
}

// Find returns the token by value, or (nil, nil) when it never existed, has
// expired, or was revoked.
func (r accessTokenRepo) Find(ctx context.Context, id string) (_ *token.AccessToken, err error) {
	ctx, span := r.s.startSpan(ctx, "access_token.find")
	defer r.s.observe(ctx, span, "access_token.find", time.Now(), &err)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.accessTokens[id]
	if !ok || t.HasExpired(time.Now()) || t.IsRevoked() {
		return nil, nil
	}
	params, err := storage.DecryptParams(r.s.encryptor, t.Params)
	if err != nil {
		return nil, err
	}
	out := *t
	out.Params = params
	return &out, nil
}

// Revoke atomically flips the revoked flag. Idempotent.
func (r accessTokenRepo) Revoke(ctx context.Context, id string) (err error) {
	ctx, span := r.s.startSpan(ctx, "access_token.revoke")
	defer r.s.observe(ctx, span, "access_token.revoke", time.Now(), &err)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.accessTokens[id]
	if !ok {
		return token.ErrNotFound
	}
	if !t.Revoked {
		t.Revoked = true
		r.s.logger.Debug("Revoked access token", "token_prefix", util.SafeTruncate(id, tokenIDLogLength))
	}
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
	params, err := storage.EncryptParams(r.s.encryptor, t.Params)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *t
	stored.Params = params
	r.s.refreshTokens[t.ID] = &stored
	return nil
}

func (r refreshTokenRepo) Find(ctx context.Context, id string) (_ *token.RefreshToken, err error) {
	ctx, span := r.s.startSpan(ctx, "refresh_token.find")
	defer r.s.observe(ctx, span, "refresh_token.find", time.Now(), &err)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.refreshTokens[id]
	if !ok || t.HasExpired(time.Now()) || t.IsRevoked() {
		return nil, nil
	}
	params, err := storage.DecryptParams(r.s.encryptor, t.Params)
	if err != nil {
		return nil, err
	}
	out := *t
	out.Params = params
	return &out, nil
}

func (r refreshTokenRepo) Revoke(ctx context.Context, id string) (err error) {
	ctx, span := r.s.startSpan(ctx, "refresh_token.revoke")
	defer r.s.observe(ctx, span, "refresh_token.revoke", time.Now(), &err)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.refreshTokens[id]
	if !ok {
		return token.ErrNotFound
	}
	if !t.Revoked {
		t.Revoked = true
		r.s.logger.Debug("Revoked refresh token", "token_prefix", util.SafeTruncate(id, tokenIDLogLength))
	}
	return nil
}
