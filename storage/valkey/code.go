package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oauth2-framework/authserver/internal/util"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// codeJSON is the stored representation of an authorization code.
type codeJSON struct {
	tokenJSON

	Used              bool                `json:"used,omitempty"`
	RedirectURI       string              `json:"redirect_uri,omitempty"`
	QueryParams       map[string][]string `json:"query_params,omitempty"`
	IssueRefreshToken bool                `json:"issue_refresh_token,omitempty"`
}

func toCodeJSON(c *token.AuthorizationCode) codeJSON {
	return codeJSON{
		tokenJSON:         toTokenJSON(c.Token),
		Used:              c.Used,
		RedirectURI:       c.RedirectURI,
		QueryParams:       c.QueryParams,
		IssueRefreshToken: c.IssueRefreshToken,
	}
}

func (j codeJSON) toCode() *token.AuthorizationCode {
	return &token.AuthorizationCode{
		Token:             j.toToken(),
		Used:              j.Used,
		RedirectURI:       j.RedirectURI,
		QueryParams:       url.Values(j.QueryParams),
		IssueRefreshToken: j.IssueRefreshToken,
	}
}

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
	if err := validateID(c.ID); err != nil {
		return err
	}
	params, err := storage.EncryptParams(r.s.getEncryptor(), c.Params)
	if err != nil {
		return err
	}

	stored := *c
	stored.Params = params
	if err := r.s.setJSON(ctx, r.s.codeKey(c.ID), toCodeJSON(&stored), c.ExpiresAt); err != nil {
		return err
	}
	r.s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(c.ID, tokenIDLogLength))
	return nil
}

// Find returns the code by value, or (nil, nil) when it never existed, has
// expired, or was revoked. A used code is still returned so callers of Use
// can detect reuse.
func (r authorizationCodeRepo) Find(ctx context.Context, id string) (_ *token.AuthorizationCode, err error) {
	ctx, span := r.s.startSpan(ctx, "authorization_code.find")
	defer r.s.observe(ctx, span, "authorization_code.find", time.Now(), &err)

	j, err := getJSON[codeJSON](ctx, r.s, r.s.codeKey(id))
	if err != nil || j == nil {
		return nil, err
	}
	return r.decode(j)
}

func (r authorizationCodeRepo) decode(j *codeJSON) (*token.AuthorizationCode, error) {
	c := j.toCode()
	if c.HasExpired(time.Now()) || c.IsRevoked() {
		return nil, nil
	}
	params, err := storage.DecryptParams(r.s.getEncryptor(), c.Params)
	if err != nil {
		return nil, err
	}
	c.Params = params
	return c, nil
}

// Use atomically marks the code used and returns it. The Lua script is the
// synchronization point: of two concurrent calls, exactly one observes
// used=false and wins; the other gets ErrCodeAlreadyUsed.
//
// The used document keeps its TTL, so the reuse attempt stays detectable
// until the code would have expired anyway.
func (r authorizationCodeRepo) Use(ctx context.Context, id string) (_ *token.AuthorizationCode, err error) {
	ctx, span := r.s.startSpan(ctx, "authorization_code.use")
	defer r.s.observe(ctx, span, "authorization_code.use", time.Now(), &err)

	result, err := r.s.client.Do(ctx,
		r.s.client.B().Eval().Script(luaMarkCodeUsed).
			Numkeys(1).
			Key(r.s.codeKey(id)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code exchange: %w", err)
	}

	if result == "NOT_FOUND" {
		return nil, nil
	}

	data, alreadyUsed := strings.CutPrefix(result, "ALREADY_USED:")

	var j codeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	j.Used = true

	c, err := r.decode(&j)
	if err != nil {
		return nil, err
	}
	if alreadyUsed {
		return c, token.ErrCodeAlreadyUsed
	}
	r.s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(id, tokenIDLogLength))
	return c, nil
}

func (r authorizationCodeRepo) Revoke(ctx context.Context, id string) (err error) {
	ctx, span := r.s.startSpan(ctx, "authorization_code.revoke")
	defer r.s.observe(ctx, span, "authorization_code.revoke", time.Now(), &err)

	if err := r.s.revokeByKey(ctx, r.s.codeKey(id)); err != nil {
		return err
	}
	r.s.logger.Debug("Revoked authorization code",
		"code_prefix", util.SafeTruncate(id, tokenIDLogLength))
	return nil
}
