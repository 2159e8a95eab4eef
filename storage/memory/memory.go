package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/oauth2-framework/authserver/instrumentation"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// Store is an in-memory implementation of all repository interfaces. The
// single mutex makes the used/revoked transitions atomic: a second concurrent
// exchange of the same authorization code fails visibly.
type Store struct {
	mu sync.Mutex

	accessTokens  map[string]*token.AccessToken
	refreshTokens map[string]*token.RefreshToken
	authCodes     map[string]*token.AuthorizationCode

	clients  map[string]*storage.Client
	accounts map[string]*storage.UserAccount
	issuers  map[string]*storage.TrustedIssuer

	// At-rest encryption of sensitive token parameters (optional).
	encryptor *security.Encryptor

	// Telemetry, set once before traffic via SetInstrumentation.
	instr  *instrumentation.Instrumentation
	tracer trace.Tracer

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
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

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &Store{
		accessTokens:    make(map[string]*token.AccessToken),
		refreshTokens:   make(map[string]*token.RefreshToken),
		authCodes:       make(map[string]*token.AuthorizationCode),
		clients:         make(map[string]*storage.Client),
		accounts:        make(map[string]*storage.UserAccount),
		issuers:         make(map[string]*storage.TrustedIssuer),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	go s.cleanupLoop()
	return s
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables at-rest encryption of sensitive token parameters.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
}

// SetInstrumentation attaches OpenTelemetry instrumentation. Every repository
// operation is traced and timed from this point on, and the live token,
// code and client counts are exported as observable gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instr = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { s.mu.Lock(); defer s.mu.Unlock(); return int64(len(s.accessTokens)) },
		func() int64 { s.mu.Lock(); defer s.mu.Unlock(); return int64(len(s.refreshTokens)) },
		func() int64 { s.mu.Lock(); defer s.mu.Unlock(); return int64(len(s.authCodes)) },
		func() int64 { s.mu.Lock(); defer s.mu.Unlock(); return int64(len(s.clients)) },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
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

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired drops expired entries. Used authorization codes are kept
// until expiry so reuse attempts remain detectable.
func (s *Store) cleanupExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.accessTokens {
		if t.HasExpired(now) {
			delete(s.accessTokens, id)
			removed++
		}
	}
	for id, t := range s.refreshTokens {
		if t.HasExpired(now) {
			delete(s.refreshTokens, id)
			removed++
		}
	}
	for id, c := range s.authCodes {
		if c.HasExpired(now) {
			delete(s.authCodes, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up expired tokens", "removed", removed)
	}
}
