package authserver

import (
	"log/slog"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/authorize"
)

// Config holds the authorization server configuration.
type Config struct {
	// Issuer is the server's issuer identifier (base URL).
	Issuer string

	// TokenEndpoint is the absolute token endpoint URL. Client assertions
	// and jwt-bearer assertions must carry it in their audience.
	// Default: Issuer + "/token".
	TokenEndpoint string

	// AuthorizationCodeTTL is how long authorization codes are valid.
	// Default: 10 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens are valid.
	// Default: 90 days.
	RefreshTokenTTL time.Duration

	// SecretLifetime bounds how long a superseded client secret keeps
	// working after rotation. Zero keeps it working indefinitely.
	SecretLifetime time.Duration

	// ClockSkewLeeway is the grace applied to assertion time claims.
	// Default: 5 seconds.
	ClockSkewLeeway time.Duration

	// EnforcePKCE requires a PKCE challenge on authorization-code exchanges
	// by public clients.
	// Default: true (secure by default).
	EnforcePKCE bool

	// AllowPKCEPlain additionally accepts the 'plain' code_challenge_method.
	// WARNING: plain offers no protection against challenge interception.
	// When false, only S256 is accepted.
	// Default: false.
	AllowPKCEPlain bool

	// SupportedResponseTypes maps each supported authorization response type
	// to its default response mode. Default: code via query, token via
	// fragment. id_token issuance is not built in; add it here only when the
	// caller mints and delivers id_tokens itself.
	SupportedResponseTypes map[string]string

	// SupportedResponseModes lists the response modes the server delivers.
	// Default: query, fragment, form_post.
	SupportedResponseModes []string

	// AssertionDecryptionKeys holds the private keys used to decrypt
	// encrypted (JWE) client and jwt-bearer assertions. Nil disables
	// decryption.
	AssertionDecryptionKeys *gojose.JSONWebKeySet

	// RequireEncryptedAssertions rejects bare JWS assertions. Only
	// meaningful with AssertionDecryptionKeys set.
	RequireEncryptedAssertions bool

	// EnableAuditLogging enables security audit logging. Sensitive
	// identifiers are hashed before they reach the log.
	EnableAuditLogging bool

	// AuditRate and AuditBurst throttle security-event logging per client
	// so a misbehaving client cannot flood the audit log.
	// Defaults: 5 events per second, burst 10.
	AuditRate  int
	AuditBurst int

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// applySecureDefaults fills zero values with secure defaults and warns when
// the caller opted into a weaker setting.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.TokenEndpoint == "" {
		config.TokenEndpoint = config.Issuer + "/token"
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 10 * time.Minute
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 90 * 24 * time.Hour
	}
	if config.ClockSkewLeeway == 0 {
		config.ClockSkewLeeway = 5 * time.Second
	}
	if config.AuditRate == 0 {
		config.AuditRate = 5
	}
	if config.AuditBurst == 0 {
		config.AuditBurst = 10
	}
	if config.SupportedResponseTypes == nil {
		config.SupportedResponseTypes = map[string]string{
			"code":  authorize.ResponseModeQuery,
			"token": authorize.ResponseModeFragment,
		}
	}
	if config.SupportedResponseModes == nil {
		config.SupportedResponseModes = authorize.DefaultResponseModes()
	}

	// A fresh zero-value config cannot be told apart from one that turned
	// PKCE off on purpose, so only an explicitly weakened config warns.
	if !config.EnforcePKCE && !config.AllowPKCEPlain {
		config.EnforcePKCE = true
	} else {
		if !config.EnforcePKCE {
			logger.Warn("PKCE enforcement is disabled",
				"risk", "authorization code interception by public clients",
				"recommendation", "set EnforcePKCE=true")
		}
		if config.AllowPKCEPlain {
			logger.Warn("Plain PKCE method is allowed",
				"risk", "code challenge offers no interception protection",
				"recommendation", "set AllowPKCEPlain=false to require S256")
		}
	}

	return config
}
