// Package clientauth implements token-endpoint client authentication. A
// Registry maps method names to Method implementations; a client's declared
// token_endpoint_auth_method picks exactly one of them, and a failure there
// never falls through to another method.
package clientauth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/storage"
)

// Credentials is the result of successful client authentication.
type Credentials struct {
	// ClientID is the authenticated client's identifier.
	ClientID string

	// Method is the registry name of the method that authenticated the client.
	Method string
}

// Method authenticates a client from one canonical credential location.
// Implementations must not read another method's location: Basic
// authentication never looks at the body, post authentication never looks at
// the Authorization header.
type Method interface {
	Name() string
	Authenticate(ctx context.Context, req *protocol.Request, client *storage.Client) (*Credentials, error)
}

// Registry holds the available authentication methods keyed by name.
// Populate it with explicit Register calls at startup.
type Registry struct {
	methods map[string]Method
	logger  *slog.Logger
	auditor *security.Auditor
}

// NewRegistry creates an empty method registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		methods: make(map[string]Method),
		logger:  logger,
	}
}

// SetAuditor attaches a security auditor; authentication failures are logged
// through it.
func (r *Registry) SetAuditor(a *security.Auditor) {
	r.auditor = a
}

// Register adds a method under its own name. Registering the same name twice
// replaces the earlier entry.
func (r *Registry) Register(m Method) {
	r.methods[m.Name()] = m
}

// Authenticate verifies the request's credentials against the client's
// declared authentication method. The declared method is authoritative:
// an unknown method or any verification failure yields invalid_client and
// never a retry with a different method.
func (r *Registry) Authenticate(ctx context.Context, req *protocol.Request, client *storage.Client) (*Credentials, error) {
	if client == nil || client.Deleted {
		return nil, protocol.ErrInvalidClient("unknown client")
	}

	method, ok := r.methods[client.TokenEndpointAuthMethod]
	if !ok {
		r.fail(client.ID, client.TokenEndpointAuthMethod, "method not registered")
		return nil, protocol.ErrInvalidClient("unsupported authentication method")
	}

	creds, err := method.Authenticate(ctx, req, client)
	if err != nil {
		r.fail(client.ID, method.Name(), err.Error())
		return nil, protocol.ErrInvalidClient("client authentication failed")
	}

	r.logger.Debug("Client authenticated",
		"client_id", creds.ClientID,
		"method", creds.Method)
	return creds, nil
}

func (r *Registry) fail(clientID, method, reason string) {
	r.logger.Warn("Client authentication failed",
		"client_id", clientID,
		"method", method,
		"reason", reason)
	if r.auditor != nil {
		r.auditor.LogAuthFailure(clientID, method, reason)
	}
}

// verifySecret compares a presented secret against the client's current
// bcrypt hash, then against a recently superseded one if the rotation is
// still within the grace window. lifetime 0 means the previous secret never
// expires.
func verifySecret(client *storage.Client, secret string, lifetime time.Duration, now time.Time) bool {
	if secret == "" || client.SecretHash == "" {
		return false
	}
	if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) == nil {
		return true
	}
	if client.PreviousSecretHash == "" {
		return false
	}
	if lifetime > 0 && now.Sub(client.SecretRotatedAt) > lifetime {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(client.PreviousSecretHash), []byte(secret)) == nil
}
