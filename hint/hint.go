// Package hint gives introspection and revocation a uniform view over the
// three token kinds. Each Hint adapts one repository; the Registry tries the
// caller's token_type_hint first as an ordering optimization, then every
// kind, first match wins.
package hint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oauth2-framework/authserver/token"
)

// Info is the kind-neutral view of a live token.
type Info struct {
	// Kind is the hint name of the token's kind.
	Kind string

	ClientID  string
	OwnerID   string
	ExpiresAt time.Time
	Params    token.DataBag
}

// Hint adapts one token kind to the registry's find/revoke surface.
type Hint interface {
	// Name is the token_type_hint value this kind answers to.
	Name() string

	// Find returns the live token behind value, or (nil, nil) when it never
	// existed, has expired, or was revoked.
	Find(ctx context.Context, value string) (*Info, error)

	// Revoke flips the token's revoked flag. Idempotent; unknown values
	// return token.ErrNotFound.
	Revoke(ctx context.Context, value string) error
}

// Registry is the name-to-hint map shared by the introspection and
// revocation endpoints. Populate it with explicit Register calls at startup.
type Registry struct {
	hints  map[string]Hint
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty hint registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		hints:  make(map[string]Hint),
		logger: logger,
	}
}

// Register adds a hint under its own name. Registration order is the
// fallback lookup order.
func (r *Registry) Register(h Hint) {
	if _, exists := r.hints[h.Name()]; !exists {
		r.order = append(r.order, h.Name())
	}
	r.hints[h.Name()] = h
}

// find locates a token by raw value. The hinted kind is only an ordering
// optimization: a wrong hint still finds the token through the full scan.
func (r *Registry) find(ctx context.Context, value, hintName string) (*Info, error) {
	if h, ok := r.hints[hintName]; ok {
		info, err := h.Find(ctx, value)
		if err != nil {
			return nil, err
		}
		if info != nil {
			return info, nil
		}
	}
	for _, name := range r.order {
		if name == hintName {
			continue
		}
		info, err := r.hints[name].Find(ctx, value)
		if err != nil {
			return nil, err
		}
		if info != nil {
			return info, nil
		}
	}
	return nil, nil
}

// Introspect renders the RFC 7662 response for value. Never-issued, expired
// and revoked tokens all come back {active:false}, indistinguishable by
// design so the endpoint is not an existence oracle. A token owned by a
// different client than requestingClient is reported inactive the same way.
func (r *Registry) Introspect(ctx context.Context, value, hintName, requestingClient string) (map[string]any, error) {
	info, err := r.find(ctx, value, hintName)
	if err != nil {
		return nil, fmt.Errorf("introspecting token: %w", err)
	}
	if info == nil || (requestingClient != "" && info.ClientID != requestingClient) {
		return map[string]any{"active": false}, nil
	}

	response := map[string]any{
		"active":    true,
		"client_id": info.ClientID,
		"sub":       info.OwnerID,
		"exp":       info.ExpiresAt.Unix(),
	}
	for _, k := range info.Params.Keys() {
		v, _ := info.Params.Get(k)
		response[k] = v
	}
	return response, nil
}

// Revoke revokes the token behind value if requestingClient owns it.
// Idempotent and deliberately quiet: unknown values and ownership
// mismatches both succeed without revoking, so the response never reveals
// whether the token existed.
func (r *Registry) Revoke(ctx context.Context, value, hintName, requestingClient string) error {
	info, err := r.find(ctx, value, hintName)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	if info == nil {
		return nil
	}
	if requestingClient != "" && info.ClientID != requestingClient {
		r.logger.Warn("Revocation ownership mismatch",
			"token_kind", info.Kind,
			"requesting_client", requestingClient)
		return nil
	}
	return r.hints[info.Kind].Revoke(ctx, value)
}
