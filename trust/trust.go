// Package trust validates JWT bearer assertions presented under
// urn:ietf:params:oauth:grant-type:jwt-bearer. An assertion is either
// self-issued by a registered client (iss == sub) or relayed by a registered
// trusted issuer vouching for one of this server's principals. Anything else
// is rejected.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/instrumentation"
	"github.com/oauth2-framework/authserver/jose"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/storage"
)

// Result is a successfully validated assertion: the resolved resource owner
// and the raw claims, carried into the grant as metadata.
type Result struct {
	// OwnerID is the resolved resource owner: a user account id, or a
	// client id when the subject is a client.
	OwnerID string

	// ClientID is set when the assertion's subject resolved to a client
	// (always for self-issued assertions).
	ClientID string

	// Issuer is the validated iss claim.
	Issuer string

	// Claims are the raw assertion claims.
	Claims map[string]any
}

// Validator verifies jwt-bearer assertions end to end: optional decryption,
// claim checks, issuer resolution, fail-closed algorithm binding, signature
// verification and subject resolution.
type Validator struct {
	issuers  storage.TrustedIssuerStore
	clients  storage.ClientStore
	accounts storage.UserAccountStore

	// TokenEndpoint is the absolute URL assertions must list in aud.
	TokenEndpoint string

	// DecryptionKeys, when set, allow assertions wrapped in a JWE.
	DecryptionKeys *gojose.JSONWebKeySet

	// EncryptionRequired makes bare (non-encrypted) assertions fail.
	EncryptionRequired bool

	// Leeway absorbs clock skew in the time-based claim checks.
	Leeway time.Duration

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time

	logger  *slog.Logger
	auditor *security.Auditor
	metrics *instrumentation.Metrics
}

// NewValidator wires a validator over the three stores it resolves against.
func NewValidator(issuers storage.TrustedIssuerStore, clients storage.ClientStore, accounts storage.UserAccountStore, tokenEndpoint string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		issuers:       issuers,
		clients:       clients,
		accounts:      accounts,
		TokenEndpoint: tokenEndpoint,
		logger:        logger,
	}
}

// SetAuditor attaches a security auditor; rejected assertions are logged
// through it.
func (v *Validator) SetAuditor(a *security.Auditor) {
	v.auditor = a
}

// SetMetrics attaches metric instruments; rejected assertions are counted.
func (v *Validator) SetMetrics(m *instrumentation.Metrics) {
	v.metrics = m
}

// Validate runs the full assertion check. authenticatedClientID is the
// client already authenticated on the surrounding request, or "" for an
// unauthenticated request; a mismatch between it and the client resolved
// from the assertion is a client-authentication failure, never a silent
// override.
func (v *Validator) Validate(ctx context.Context, assertion, authenticatedClientID string) (*Result, error) {
	unwrapped, err := jose.UnwrapEncrypted(assertion, v.DecryptionKeys, v.EncryptionRequired)
	if err != nil {
		return nil, v.reject(ctx, "", "assertion decryption failed", err)
	}

	// Claims are read before verification only to pick the key material;
	// nothing is trusted until the signature check below passes.
	claims, _, err := jose.PeekClaims(unwrapped)
	if err != nil {
		return nil, v.reject(ctx, "", "assertion does not parse", err)
	}

	checker := jose.ClaimChecker{Leeway: v.Leeway, Now: v.Now}
	if err := checker.Check(claims, []string{jose.ClaimIssuer, jose.ClaimSubject, jose.ClaimExpiry}); err != nil {
		return nil, v.reject(ctx, jose.StringClaim(claims, jose.ClaimIssuer), "claim check failed", err)
	}
	if !jose.AudienceContains(claims, v.TokenEndpoint) {
		return nil, v.reject(ctx, jose.StringClaim(claims, jose.ClaimIssuer), "audience mismatch", nil)
	}

	iss := jose.StringClaim(claims, jose.ClaimIssuer)
	sub := jose.StringClaim(claims, jose.ClaimSubject)

	keys, algs, result, err := v.resolveIssuer(ctx, iss, sub)
	if err != nil {
		return nil, err
	}

	// VerifySignature enforces the bound algorithm set at parse time, so an
	// absent or unlisted alg header fails closed.
	if _, _, err := jose.VerifySignature(unwrapped, keys, algs); err != nil {
		return nil, v.reject(ctx, iss, "signature verification failed", err)
	}

	if authenticatedClientID != "" && result.ClientID != "" && authenticatedClientID != result.ClientID {
		v.logRejection(ctx, iss, "assertion client differs from authenticated client")
		return nil, protocol.ErrInvalidClient("assertion does not belong to the authenticated client")
	}

	result.Issuer = iss
	result.Claims = claims
	return result, nil
}

// resolveIssuer binds key material to the assertion's issuer and resolves
// the subject to a principal.
func (v *Validator) resolveIssuer(ctx context.Context, iss, sub string) (*gojose.JSONWebKeySet, []string, *Result, error) {
	if iss == sub {
		// Self-issued: the issuer must be a registered, non-deleted client.
		client, err := v.clients.Find(ctx, iss)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("looking up client %q: %w", iss, err)
		}
		if client == nil || client.Deleted {
			return nil, nil, nil, v.reject(ctx, iss, "self-issued assertion from unknown client", nil)
		}
		return client.JWKS, client.AuthSigningAlgs, &Result{OwnerID: client.ID, ClientID: client.ID}, nil
	}

	issuer, err := v.issuers.Find(ctx, iss)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("looking up issuer %q: %w", iss, err)
	}
	if issuer == nil {
		return nil, nil, nil, v.reject(ctx, iss, "issuer is not trusted", nil)
	}

	// Subject resolution order: user accounts first, then clients.
	account, err := v.accounts.Find(ctx, sub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("looking up account %q: %w", sub, err)
	}
	if account != nil {
		return issuer.Keys, issuer.AllowedAlgorithms, &Result{OwnerID: account.ID}, nil
	}

	client, err := v.clients.Find(ctx, sub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("looking up client %q: %w", sub, err)
	}
	if client != nil && !client.Deleted {
		return issuer.Keys, issuer.AllowedAlgorithms, &Result{OwnerID: client.ID, ClientID: client.ID}, nil
	}

	return nil, nil, nil, v.reject(ctx, iss, "assertion subject is unknown", nil)
}

// reject logs the rejection and collapses the cause into invalid_grant so
// cryptographic detail never reaches the client.
func (v *Validator) reject(ctx context.Context, issuer, reason string, cause error) error {
	if cause != nil {
		v.logger.Debug("Assertion rejected", "issuer", issuer, "reason", reason, "error", cause)
	} else {
		v.logger.Debug("Assertion rejected", "issuer", issuer, "reason", reason)
	}
	v.logRejection(ctx, issuer, reason)
	return protocol.ErrInvalidGrant("assertion is not valid")
}

func (v *Validator) logRejection(ctx context.Context, issuer, reason string) {
	if v.auditor != nil {
		v.auditor.LogAssertionRejected(issuer, reason)
	}
	if v.metrics != nil {
		v.metrics.RecordAssertionRejected(ctx)
	}
}
