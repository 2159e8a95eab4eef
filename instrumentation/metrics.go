package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the authorization server.
type Metrics struct {
	// Grant outcomes
	GrantsTotal metric.Int64Counter

	// Token lifecycle
	TokensIssued  metric.Int64Counter
	TokensRevoked metric.Int64Counter

	// Security
	AuthFailures       metric.Int64Counter
	CodeReuseDetected  metric.Int64Counter
	AssertionsRejected metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageAccessTokens      metric.Int64ObservableGauge
	StorageRefreshTokens     metric.Int64ObservableGauge
	StorageCodes             metric.Int64ObservableGauge
	StorageClients           metric.Int64ObservableGauge
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.GrantsTotal, err = serverMeter.Int64Counter(
		"auth.grants.total",
		metric.WithDescription("Token-endpoint grants by type and outcome"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating grants.total counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"auth.tokens.issued",
		metric.WithDescription("Tokens issued by kind"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tokens.issued counter: %w", err)
	}

	m.TokensRevoked, err = serverMeter.Int64Counter(
		"auth.tokens.revoked",
		metric.WithDescription("Tokens revoked through the revocation endpoint"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tokens.revoked counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"auth.client_auth.failures",
		metric.WithDescription("Client authentication failures by method"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating client_auth.failures counter: %w", err)
	}

	m.CodeReuseDetected, err = securityMeter.Int64Counter(
		"auth.code.reuse_detected",
		metric.WithDescription("Authorization code reuse attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating code.reuse_detected counter: %w", err)
	}

	m.AssertionsRejected, err = securityMeter.Int64Counter(
		"auth.assertions.rejected",
		metric.WithDescription("JWT bearer assertions rejected"),
		metric.WithUnit("{assertion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating assertions.rejected counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Storage operations by name and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating storage.operation.duration histogram: %w", err)
	}

	m.StorageAccessTokens, err = storageMeter.Int64ObservableGauge(
		"storage.access_tokens.count",
		metric.WithDescription("Live access tokens in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating storage.access_tokens.count gauge: %w", err)
	}
	m.StorageRefreshTokens, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Live refresh tokens in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating storage.refresh_tokens.count gauge: %w", err)
	}
	m.StorageCodes, err = storageMeter.Int64ObservableGauge(
		"storage.authorization_codes.count",
		metric.WithDescription("Live authorization codes in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating storage.authorization_codes.count gauge: %w", err)
	}
	m.StorageClients, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Registered clients in storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating storage.clients.count gauge: %w", err)
	}

	return m, nil
}

// RecordGrant records one token-endpoint exchange.
func (m *Metrics) RecordGrant(ctx context.Context, grantType, outcome string) {
	m.GrantsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("outcome", outcome),
	))
}

// RecordTokenIssued records a minted token by kind.
func (m *Metrics) RecordTokenIssued(ctx context.Context, kind string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordTokenRevoked records a revocation-endpoint revocation.
func (m *Metrics) RecordTokenRevoked(ctx context.Context) {
	m.TokensRevoked.Add(ctx, 1)
}

// RecordAuthFailure records a client authentication failure.
func (m *Metrics) RecordAuthFailure(ctx context.Context, method string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuse records a detected authorization code reuse attempt.
func (m *Metrics) RecordCodeReuse(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordAssertionRejected records a rejected jwt-bearer assertion.
func (m *Metrics) RecordAssertionRejected(ctx context.Context) {
	m.AssertionsRejected.Add(ctx, 1)
}

// RecordStorageOperation records one storage call.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
