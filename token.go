package authserver

import (
	"context"
	"time"

	"github.com/oauth2-framework/authserver/grant"
	"github.com/oauth2-framework/authserver/hint"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/token"
)

// Token runs a token-endpoint exchange: client authentication, grant
// dispatch, then minting. Nothing is persisted before the whole exchange
// succeeded; the one-time consumption of an authorization code inside the
// grant is the deliberate exception.
func (s *Server) Token(ctx context.Context, req *protocol.Request) (map[string]any, error) {
	grantType := req.BodyParam("grant_type")

	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		s.recordGrant(ctx, grantType, "unauthenticated")
		return nil, protocol.AsError(err)
	}

	data, err := s.grants.Dispatch(ctx, req, client)
	if err != nil {
		if s.auditLimiter.Allow(client.ID) {
			s.logger.Warn("Token exchange rejected",
				"grant_type", grantType,
				"client_id", client.ID,
				"error", err)
		}
		s.recordGrant(ctx, grantType, "rejected")
		return nil, protocol.AsError(err)
	}

	response, err := s.mintTokens(ctx, data)
	if err != nil {
		s.recordGrant(ctx, grantType, "error")
		return nil, protocol.AsError(err)
	}

	scope, _ := data.Params.Get(token.ParamScope)
	s.auditor.LogTokenIssued(data.OwnerID, data.Client.ID, grantType, scope)
	s.recordGrant(ctx, grantType, "granted")
	return response, nil
}

// mintTokens creates and persists the tokens a completed grant asked for.
// The access token is minted first and both are saved only after every mint
// succeeded.
func (s *Server) mintTokens(ctx context.Context, data *grant.Data) (map[string]any, error) {
	now := time.Now()

	ttl := s.config.AccessTokenTTL
	if data.ExpiresIn > 0 {
		ttl = data.ExpiresIn
	}
	access, err := s.store.AccessTokens().Create(ctx,
		data.Client.ID, data.OwnerID, now.Add(ttl),
		data.Params, data.Metadata, data.ResourceServerID)
	if err != nil {
		return nil, protocol.ErrServerError("minting access token")
	}

	var refresh *token.RefreshToken
	if data.IssueRefreshToken {
		refresh, err = s.store.RefreshTokens().Create(ctx,
			data.Client.ID, data.OwnerID, now.Add(s.config.RefreshTokenTTL),
			data.Params, data.Metadata, data.ResourceServerID)
		if err != nil {
			return nil, protocol.ErrServerError("minting refresh token")
		}
	}

	if err := s.store.AccessTokens().Save(ctx, access); err != nil {
		return nil, protocol.ErrServerError("saving access token")
	}
	if refresh != nil {
		if err := s.store.RefreshTokens().Save(ctx, refresh); err != nil {
			return nil, protocol.ErrServerError("saving refresh token")
		}
	}

	s.recordTokenIssued(ctx, hint.KindAccessToken)
	response := access.ResponseData(now)
	if refresh != nil {
		s.recordTokenIssued(ctx, hint.KindRefreshToken)
		response["refresh_token"] = refresh.ID
	}
	return response, nil
}

// Introspect answers an RFC 7662 introspection request. The caller must
// authenticate like at the token endpoint; tokens it does not own come back
// inactive.
func (s *Server) Introspect(ctx context.Context, req *protocol.Request) (map[string]any, error) {
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, protocol.AsError(err)
	}
	value := req.BodyParam("token")
	if value == "" {
		return nil, protocol.ErrInvalidRequest("token parameter is required")
	}
	response, err := s.hints.Introspect(ctx, value, req.BodyParam("token_type_hint"), client.ID)
	if err != nil {
		return nil, protocol.ErrServerError("introspecting token")
	}
	return response, nil
}

// Revoke answers an RFC 7009 revocation request. Revocation is idempotent
// and deliberately quiet about tokens the caller does not own.
func (s *Server) Revoke(ctx context.Context, req *protocol.Request) error {
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return protocol.AsError(err)
	}
	value := req.BodyParam("token")
	if value == "" {
		return protocol.ErrInvalidRequest("token parameter is required")
	}
	if err := s.hints.Revoke(ctx, value, req.BodyParam("token_type_hint"), client.ID); err != nil {
		return protocol.ErrServerError("revoking token")
	}
	s.auditor.LogTokenRevoked("", client.ID, req.BodyParam("token_type_hint"))
	s.recordTokenRevoked(ctx)
	return nil
}

func (s *Server) recordGrant(ctx context.Context, grantType, outcome string) {
	if s.instr != nil {
		s.instr.Metrics().RecordGrant(ctx, grantType, outcome)
	}
}

func (s *Server) recordTokenIssued(ctx context.Context, kind string) {
	if s.instr != nil {
		s.instr.Metrics().RecordTokenIssued(ctx, kind)
	}
}

func (s *Server) recordTokenRevoked(ctx context.Context) {
	if s.instr != nil {
		s.instr.Metrics().RecordTokenRevoked(ctx)
	}
}
