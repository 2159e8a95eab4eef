// Package grant implements the token-endpoint grant types and the registry
// dispatching between them. Grant types validate and resolve a request into
// a Data value; the endpoint layer mints and persists tokens from it, so no
// grant type writes state before the whole exchange has succeeded (the
// one-time consumption of an authorization code being the deliberate
// exception).
package grant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage"
	"github.com/oauth2-framework/authserver/token"
)

// Data accumulates the outcome of a grant: who the token is for and what it
// carries. The endpoint mints tokens from a fully populated Data.
type Data struct {
	// Client is the authenticated client performing the exchange.
	Client *storage.Client

	// OwnerID is the resolved resource owner.
	OwnerID string

	// ResourceServerID optionally narrows the token to one resource server.
	ResourceServerID string

	// Params are the public token parameters (scope and friends).
	Params token.DataBag

	// Metadata is internal bookkeeping carried on the minted tokens.
	Metadata token.DataBag

	// ExpiresIn overrides the configured access-token lifetime when set.
	ExpiresIn time.Duration

	// IssueRefreshToken asks the endpoint to mint a refresh token alongside
	// the access token.
	IssueRefreshToken bool
}

// GrantType is one named token-acquisition strategy.
type GrantType interface {
	// Name is the grant_type value this strategy answers to.
	Name() string

	// CheckRequest performs structural validation only: required
	// parameters present and well formed. It runs before any side effect.
	CheckRequest(req *protocol.Request) error

	// Grant performs the exchange, populating data.
	Grant(ctx context.Context, req *protocol.Request, data *Data) error

	// AssociatedResponseTypes lists the authorization response types this
	// grant type participates in, used to validate client registrations.
	AssociatedResponseTypes() []string
}

// Registry maps grant_type values to implementations. Populate it with
// explicit Register calls at startup.
type Registry struct {
	types  map[string]GrantType
	logger *slog.Logger
}

// NewRegistry creates an empty grant-type registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		types:  make(map[string]GrantType),
		logger: logger,
	}
}

// Register adds a grant type under its own name.
func (r *Registry) Register(gt GrantType) {
	r.types[gt.Name()] = gt
}

// Get returns the grant type registered under name, or nil.
func (r *Registry) Get(name string) GrantType {
	return r.types[name]
}

// ResponseTypeAssociations maps every registered grant type to its
// associated response types, the shape the client rule pipeline consumes.
func (r *Registry) ResponseTypeAssociations() map[string][]string {
	out := make(map[string][]string, len(r.types))
	for name, gt := range r.types {
		out[name] = gt.AssociatedResponseTypes()
	}
	return out
}

// Dispatch routes a token request to its grant type and runs the exchange.
// client is the already-authenticated client.
func (r *Registry) Dispatch(ctx context.Context, req *protocol.Request, client *storage.Client) (*Data, error) {
	name := req.BodyParam("grant_type")
	if name == "" {
		return nil, protocol.ErrInvalidRequest("grant_type parameter is required")
	}

	gt, ok := r.types[name]
	if !ok {
		return nil, protocol.ErrUnsupportedGrantType("unknown grant type " + name)
	}
	if !client.AllowsGrantType(name) {
		return nil, protocol.ErrUnauthorizedClient("client is not registered for grant type " + name)
	}

	if err := gt.CheckRequest(req); err != nil {
		return nil, err
	}

	data := &Data{Client: client}
	if err := gt.Grant(ctx, req, data); err != nil {
		return nil, err
	}

	r.logger.Debug("Grant completed",
		"grant_type", name,
		"client_id", client.ID,
		"owner_id_set", data.OwnerID != "")
	return data, nil
}

// narrowScope validates a requested scope against the originally granted
// one. An empty request keeps the original; any requested value outside the
// original set is rejected.
func narrowScope(requested, original string) (string, error) {
	if requested == "" {
		return original, nil
	}
	granted := make(map[string]bool)
	for _, s := range strings.Fields(original) {
		granted[s] = true
	}
	for _, s := range strings.Fields(requested) {
		if !granted[s] {
			return "", protocol.ErrInvalidScope("scope " + s + " exceeds the original grant")
		}
	}
	return requested, nil
}
