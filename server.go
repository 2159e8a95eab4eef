// Package authserver wires the strategy packages into an OAuth 2.0 / OIDC
// authorization server core. It exposes the four protocol operations
// (Token, Authorize, Introspect, Revoke) over the protocol.Request
// abstraction; HTTP transport, rendering and session management stay with
// the caller.
package authserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oauth2-framework/authserver/authorize"
	"github.com/oauth2-framework/authserver/clientauth"
	"github.com/oauth2-framework/authserver/grant"
	"github.com/oauth2-framework/authserver/hint"
	"github.com/oauth2-framework/authserver/instrumentation"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
	"github.com/oauth2-framework/authserver/trust"
)

// Storage aggregates every repository the server needs. The memory and
// valkey stores both satisfy it.
type Storage interface {
	AccessTokens() token.AccessTokenRepository
	RefreshTokens() token.RefreshTokenRepository
	AuthorizationCodes() token.AuthorizationCodeRepository
	Clients() storage.ClientStore
	UserAccounts() storage.UserAccountStore
	TrustedIssuers() storage.TrustedIssuerStore
}

// Server coordinates client authentication, grants, authorization requests
// and token lifecycle over a Storage backend.
type Server struct {
	store  Storage
	config *Config
	logger *slog.Logger

	clientAuth  *clientauth.Registry
	grants      *grant.Registry
	pipeline    *authorize.Pipeline
	discovery   *authorize.Chain
	hints       *hint.Registry
	validator   *trust.Validator
	codeGrant   *grant.AuthorizationCode
	clientRules *storage.RulePipeline

	auditor      *security.Auditor
	auditLimiter *security.RateLimiter
	instr        *instrumentation.Instrumentation
}

// NewServer builds a fully wired server over store.
func NewServer(store Storage, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = applySecureDefaults(config, logger)
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	s := &Server{
		store:        store,
		config:       config,
		logger:       logger,
		auditor:      security.NewAuditor(logger, config.EnableAuditLogging),
		auditLimiter: security.NewRateLimiter(config.AuditRate, config.AuditBurst, logger),
	}

	s.validator = trust.NewValidator(
		store.TrustedIssuers(), store.Clients(), store.UserAccounts(),
		config.TokenEndpoint, logger)
	s.validator.DecryptionKeys = config.AssertionDecryptionKeys
	s.validator.EncryptionRequired = config.RequireEncryptedAssertions
	s.validator.Leeway = config.ClockSkewLeeway
	s.validator.SetAuditor(s.auditor)

	s.clientAuth = clientauth.NewRegistry(logger)
	s.clientAuth.SetAuditor(s.auditor)
	s.clientAuth.Register(clientauth.None{})
	s.clientAuth.Register(clientauth.SecretBasic{SecretLifetime: config.SecretLifetime})
	s.clientAuth.Register(clientauth.SecretPost{SecretLifetime: config.SecretLifetime})
	s.clientAuth.Register(clientauth.AssertionJWT{
		TokenEndpoint:      config.TokenEndpoint,
		DecryptionKeys:     config.AssertionDecryptionKeys,
		EncryptionRequired: config.RequireEncryptedAssertions,
		Leeway:             config.ClockSkewLeeway,
	})

	s.grants = grant.NewRegistry(logger)
	s.codeGrant = &grant.AuthorizationCode{
		Codes:       store.AuthorizationCodes(),
		EnforcePKCE: config.EnforcePKCE,
		AllowPlain:  config.AllowPKCEPlain,
		Logger:      logger,
		Auditor:     s.auditor,
	}
	s.grants.Register(s.codeGrant)
	s.grants.Register(grant.RefreshToken{Tokens: store.RefreshTokens()})
	s.grants.Register(grant.ClientCredentials{})
	s.grants.Register(grant.Password{Accounts: store.UserAccounts()})
	s.grants.Register(grant.JWTBearer{Validator: s.validator})

	s.pipeline = authorize.DefaultPipeline(logger,
		config.SupportedResponseTypes, config.SupportedResponseModes)
	s.discovery = authorize.DefaultChain(logger, store.UserAccounts())
	s.discovery.SetAuditor(s.auditor)

	s.hints = hint.NewRegistry(logger)
	s.hints.Register(&hint.AccessToken{Tokens: store.AccessTokens()})
	s.hints.Register(&hint.RefreshToken{Tokens: store.RefreshTokens()})
	s.hints.Register(&hint.AuthorizationCode{Codes: store.AuthorizationCodes()})

	// The implicit pseudo grant type keeps response_type=token registrable
	// even though no token-endpoint grant is associated with it.
	associations := s.grants.ResponseTypeAssociations()
	associations["implicit"] = []string{"token"}
	s.clientRules = storage.DefaultRulePipeline(associations)

	return s, nil
}

// SetInstrumentation attaches OpenTelemetry instrumentation. Without it the
// server records nothing. The security counters are pushed down to the
// collaborators that detect the events, and a storage backend exposing
// SetInstrumentation gets it forwarded for operation metrics and spans.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instr = inst
	if inst == nil {
		return
	}
	s.codeGrant.Metrics = inst.Metrics()
	s.validator.SetMetrics(inst.Metrics())
	if si, ok := s.store.(interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}); ok {
		si.SetInstrumentation(inst)
	}
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	s.auditLimiter.Stop()
}

// RegisterClient validates a client registration against the parameter rule
// pipeline and persists it. Used for static setup and dynamic registration
// alike.
func (s *Server) RegisterClient(ctx context.Context, client *storage.Client) error {
	if err := s.clientRules.Validate(client); err != nil {
		s.logger.Warn("Client registration rejected",
			"client_id", client.ID,
			"error", err)
		if s.auditor != nil {
			s.auditor.LogEvent(security.Event{
				Type:     security.EventClientRegistrationRejected,
				ClientID: client.ID,
				Details:  map[string]any{"reason": err.Error()},
			})
		}
		return protocol.ErrInvalidRequest(err.Error())
	}
	if err := s.store.Clients().Save(ctx, client); err != nil {
		return protocol.ErrServerError("saving client")
	}
	s.logger.Info("Client registered",
		"client_id", client.ID,
		"auth_method", client.TokenEndpointAuthMethod)
	return nil
}

// authenticateClient locates the client a request claims to be and runs the
// declared authentication method.
func (s *Server) authenticateClient(ctx context.Context, req *protocol.Request) (*storage.Client, error) {
	clientID := clientauth.ResolveClientID(req)
	if clientID == "" {
		return nil, protocol.ErrInvalidClient("no client identification presented")
	}
	client, err := s.store.Clients().Find(ctx, clientID)
	if err != nil {
		return nil, protocol.ErrServerError("looking up client")
	}
	if _, err := s.clientAuth.Authenticate(ctx, req, client); err != nil {
		if s.instr != nil {
			method := "unknown"
			if client != nil {
				method = client.TokenEndpointAuthMethod
			}
			s.instr.Metrics().RecordAuthFailure(ctx, method)
		}
		return nil, err
	}
	return client, nil
}
