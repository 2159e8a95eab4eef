// Package valkey provides a Valkey-backed implementation of the repository
// interfaces. Single-use and revocation transitions run as Lua scripts so they
// stay atomic under concurrent exchanges; expiry is enforced both by key TTL
// and by a strict boundary check on read.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/oauth2-framework/authserver/instrumentation"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "authserver:"

	// tokenIDLogLength is the number of characters to include when logging
	// token values.
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification.
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers (token values,
	// client ids, account ids).
	MaxIDLength = 512

	// MaxDocumentSize is the maximum size of a serialized document (64KB).
	MaxDocumentSize = 64 * 1024
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authserver:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of every repository interface. It
// exposes the same accessor views as the in-memory store so the two backends
// are interchangeable behind the server's Storage interface.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional at-rest encryption of sensitive token
	// parameters. Access must be synchronized via encryptorMu.
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex

	// Telemetry, set once before traffic via SetInstrumentation.
	instr  *instrumentation.Instrumentation
	tracer trace.Tracer
}

// Compile-time interface checks for the repository views.
var (
	_ token.AccessTokenRepository       = accessTokenRepo{}
	_ token.RefreshTokenRepository      = refreshTokenRepo{}
	_ token.AuthorizationCodeRepository = authorizationCodeRepo{}
	_ storage.ClientStore               = clientStore{}
	_ storage.UserAccountStore          = userAccountStore{}
	_ storage.TrustedIssuerStore        = trustedIssuerStore{}
)

// New creates a new Valkey-backed store.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables at-rest encryption of sensitive token parameters.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Token parameter encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// SetInstrumentation attaches OpenTelemetry instrumentation. Repository
// operations are traced and timed from this point on. Live-size gauges are
// not registered for this backend: counting keys would require a SCAN per
// observation.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instr = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// startSpan begins a span for one storage operation. Without instrumentation
// the returned span records nothing.
func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(attribute.String("operation", operation)))
}

// observe finishes the span and records the operation counter and duration.
// errp points at the operation's named error return so the deferred call sees
// the final value.
func (s *Store) observe(ctx context.Context, span trace.Span, operation string, start time.Time, errp *error) {
	err := *errp
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "")
	}
	span.End()

	if s.instr == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.instr.Metrics().RecordStorageOperation(ctx, operation, result, time.Since(start).Seconds()*1000)
}

// ============================================================
// Key Helpers
// ============================================================

// accessTokenKey returns the key for an access token: {prefix}access:{id}
func (s *Store) accessTokenKey(id string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, id)
}

// refreshTokenKey returns the key for a refresh token: {prefix}refresh:{id}
func (s *Store) refreshTokenKey(id string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, id)
}

// codeKey returns the key for an authorization code: {prefix}code:{id}
func (s *Store) codeKey(id string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, id)
}

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// accountKey returns the key for a user account: {prefix}account:{accountID}
func (s *Store) accountKey(accountID string) string {
	return fmt.Sprintf("%saccount:%s", s.prefix, accountID)
}

// usernameKey returns the secondary index key mapping a login name to an
// account id: {prefix}account:username:{username}
func (s *Store) usernameKey(username string) string {
	return fmt.Sprintf("%saccount:username:%s", s.prefix, username)
}

// pairwiseKey returns the secondary index key mapping a per-client obfuscated
// subject back to an account id: {prefix}account:pairwise:{clientID}:{subject}
func (s *Store) pairwiseKey(clientID, subject string) string {
	return fmt.Sprintf("%saccount:pairwise:%s:%s", s.prefix, clientID, subject)
}

// issuerKey returns the key for a trusted issuer: {prefix}issuer:{issuer}
func (s *Store) issuerKey(issuer string) string {
	return fmt.Sprintf("%sissuer:%s", s.prefix, issuer)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// These scripts are the synchronization points for the security-critical
// transitions. Running them server-side in Valkey guarantees that exactly one
// of two concurrent code exchanges wins, and that revocation never races a
// concurrent read-modify-write.

// luaMarkCodeUsed atomically checks that an authorization code is usable and
// marks it used. Exactly ONE concurrent caller observes used=false; every
// other caller gets the ALREADY_USED reply carrying the stored document so
// reuse stays attributable.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - the stored JSON document if the code was unused and is now marked used
//   - "NOT_FOUND" if the key is absent, the code expired, or it was revoked
//     (the three cases are indistinguishable on purpose)
//   - "ALREADY_USED:<json>" if the code was already exchanged
//
// The expiry boundary is strict: a code is unusable the instant now reaches
// expires_at.
const luaMarkCodeUsed = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now >= expiresAt then
    return 'NOT_FOUND'
end

if code.revoked then
    return 'NOT_FOUND'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// luaRevokeToken atomically flips a token's revoked flag. Idempotent: a second
// revocation of the same value succeeds without rewriting the document.
//
// KEYS[1] = token key
//
// Returns "OK" on success (including already-revoked) and "NOT_FOUND" when the
// key is absent.
const luaRevokeToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local t = cjson.decode(data)
if t.revoked then
    return 'OK'
end

t.revoked = true
redis.call('SET', KEYS[1], cjson.encode(t), 'KEEPTTL')

return 'OK'
`

// revokeByKey runs luaRevokeToken against key and maps the reply to the
// repository contract.
func (s *Store) revokeByKey(ctx context.Context, key string) error {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeToken).
			Numkeys(1).
			Key(key).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to execute revoke: %w", err)
	}
	if result == "NOT_FOUND" {
		return token.ErrNotFound
	}
	return nil
}

// ============================================================
// Helpers
// ============================================================

// setJSON marshals doc and stores it under key with the remaining lifetime as
// TTL. Documents that are already past expiresAt are not stored; a later Find
// would report them gone either way.
func (s *Store) setJSON(ctx context.Context, key string, doc any, expiresAt time.Time) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return errInputTooLarge
	}

	if expiresAt.IsZero() {
		if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}
		return nil
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// getJSON fetches key and unmarshals it into a fresh J. Returns (nil, nil)
// when the key is absent.
func getJSON[J any](ctx context.Context, s *Store, key string) (*J, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &j, nil
}

// validateID rejects oversized identifiers before they become keys.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > MaxIDLength {
		return errInputTooLarge
	}
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// bagToPairs flattens a DataBag into its insertion-ordered key/value pairs.
func bagToPairs(b token.DataBag) []string {
	keys := b.Keys()
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		v, _ := b.Get(k)
		pairs = append(pairs, k, v)
	}
	return pairs
}

// bagFromPairs rebuilds a DataBag from flattened pairs, preserving order.
func bagFromPairs(pairs []string) token.DataBag {
	return token.NewDataBag().WithAll(pairs...)
}
