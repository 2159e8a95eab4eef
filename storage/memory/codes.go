package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/oauth2-framework/authserver/internal/util"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// AuthorizationCodes returns the authorization-code repository view.
func (s *Store) AuthorizationCodes() token.AuthorizationCodeRepository {
	return authorizationCodeRepo{s}
}

type authorizationCodeRepo struct {
	s *Store
}

func (r authorizationCodeRepo) Create(_ context.Context, clientID, ownerID string, expiresAt time.Time, params, metadata token.DataBag, resourceServerID string, req token.CodeRequest) (*token.AuthorizationCode, error) {
	return &token.AuthorizationCode{
		Token: token.Token{
			ID:               generateTokenValue(),
			ClientID:         clientID,
			OwnerID:          ownerID,
			ResourceServerID: resourceServerID,
			ExpiresAt:        expiresAt,
			Params:           params,
			Metadata:         metadata,
		},
		RedirectURI:       req.RedirectURI,
		QueryParams:       req.QueryParams,
		IssueRefreshToken: req.IssueRefreshToken,
	}, nil
}

func (r authorizationCodeRepo) Save(ctx context.Context, c *token.AuthorizationCode) (err error) {
	ctx, span := r.s.startSpan(ctx, "authorization_code.save")
	defer r.s.observe(ctx, span, "authorization_code.save", time.Now(), &err)

	if c == nil || c.ID == "" {
		return fmt.Errorf("invalid authorization code")
	}
	params, err := storage.EncryptParams(r.s.encryptor, c.Params)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *c
	stored.Params = params
	r.s.authCodes[c.ID] = &stored
	return nil
}

// Find returns the code by value, or (nil, nil) when it never existed, has
// expired, or was revoked. A used code is still returned so callers of Use
// can detect reuse.
func (r authorizationCodeRepo) Find(ctx context.Context, id string) (_ *token.AuthorizationCode, err error) {
	ctx, span := r.s.startSpan(ctx, "authorization_code.find")
	defer r.s.observe(ctx, span, "authorization_code.find", time.Now(), &err)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(id)
}

// find must be called with the mutex held.
func (r authorizationCodeRepo) find(id string) (*token.AuthorizationCode, error) {
	c, ok := r.s.authCodes[id]
	if !ok || c.HasExpired(time.Now()) || c.IsRevoked() {
		return nil, nil
	}
	params, err := storage.DecryptParams(r.s.encryptor, c.Params)
	if err != nil {
		return nil, err
	}
	out := *c
	out.Params = params
	return &out, nil
}

// Use atomically marks the code used and returns it. The mutex is the
// synchronization point: of two concurrent calls, exactly one observes
// Used=false and wins; the other gets ErrCodeAlreadyUsed.
//
// The used code is kept in the store until expiry so the reuse attempt stays
// detectable, mirroring the treatment of stolen-code replay.
func (r authorizationCodeRepo) Use(ctx context.Context, id string) (_ *token.AuthorizationCode, err error) {
	ctx, span := r.s.startSpan(ctx, "authorization_code.use")
	defer r.s.observe(ctx, span, "authorization_code.use", time.Now(), &err)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.authCodes[id]
	if !ok || stored.HasExpired(time.Now()) || stored.IsRevoked() {
		return nil, nil
	}
	if stored.Used {
		out, err := r.find(id)
		if err != nil {
			return nil, err
		}
		return out, token.ErrCodeAlreadyUsed
	}
	stored.Used = true

	out, err := r.find(id)
	if err != nil {
		return nil, err
	}
	r.s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(id, tokenIDLogLength))
	return out, nil
}

func (r authorizationCodeRepo) Revoke(ctx context.Context, id string) (err error) {
	ctx, span := r.s.startSpan(ctx, "authorization_code.revoke")
	defer r.s.observe(ctx, span, "authorization_code.revoke", time.Now(), &err)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.authCodes[id]
	if !ok {
		return token.ErrNotFound
	}
	if !c.Revoked {
		c.Revoked = true
		r.s.logger.Debug("Revoked authorization code",
			"code_prefix", util.SafeTruncate(id, tokenIDLogLength))
	}
	return nil
}
