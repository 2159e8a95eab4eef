// Package authorize validates authorization-endpoint requests. A Pipeline of
// ordered checkers normalizes and validates the request parameters; a
// discovery Chain then resolves the resource owner against the prompt,
// max_age and id_token_hint constraints. Order inside the pipeline is
// load-bearing: the redirect URI and response mode resolve before anything
// that might need to deliver an error through them.
package authorize

import (
	"context"
	"log/slog"

	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage"
)

// Request is the accumulating context threaded through the pipeline: raw
// parameters in, validated and normalized fields out.
type Request struct {
	Raw    *protocol.Request
	Client *storage.Client

	Display       string
	Prompts       []string
	RedirectURI   string
	ResponseTypes []string
	ResponseMode  string
	Scope         string
	State         string
	Nonce         string
	Claims        map[string]any
}

// HasPrompt reports whether the validated prompt list contains value.
func (r *Request) HasPrompt(value string) bool {
	for _, p := range r.Prompts {
		if p == value {
			return true
		}
	}
	return false
}

// HasResponseType reports whether the validated response types contain value.
func (r *Request) HasResponseType(value string) bool {
	for _, rt := range r.ResponseTypes {
		if rt == value {
			return true
		}
	}
	return false
}

// Error is a pipeline failure annotated with enough context to pick the
// delivery channel: through the client's redirect URI when it and the
// response mode are already trustworthy, directly otherwise.
type Error struct {
	*protocol.Error

	// RedirectURI and ResponseMode are set once validated; both non-empty
	// means the error is safe to deliver by redirect.
	RedirectURI  string
	ResponseMode string

	// State echoes the request's state parameter on redirect delivery.
	State string
}

// RedirectDeliverable reports whether the error can be sent through the
// client's redirect URI.
func (e *Error) RedirectDeliverable() bool {
	return e.RedirectURI != "" && e.ResponseMode != ""
}

func (e *Error) Unwrap() error { return e.Error }

// Checker validates one aspect of the authorization request, writing its
// normalized result onto req.
type Checker interface {
	Name() string
	Check(ctx context.Context, req *Request) error
}

// Pipeline is the fixed-order checker chain, run once per authorization
// request with early exit on the first failure.
type Pipeline struct {
	checkers []Checker
	logger   *slog.Logger
}

// NewPipeline builds a pipeline running the given checkers in order.
func NewPipeline(logger *slog.Logger, checkers ...Checker) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{checkers: checkers, logger: logger}
}

// DefaultPipeline returns the standard checker order. responseTypes maps
// each server-supported response type to its default response mode;
// responseModes lists the modes the server can deliver.
func DefaultPipeline(logger *slog.Logger, responseTypes map[string]string, responseModes []string) *Pipeline {
	return NewPipeline(logger,
		DisplayChecker{},
		PromptChecker{},
		RedirectURIChecker{},
		ResponseTypeAndModeChecker{SupportedTypes: responseTypes, SupportedModes: responseModes},
		ScopeChecker{},
		StateChecker{},
		NonceChecker{},
		ClaimsChecker{},
	)
}

// Run validates raw against client, returning the normalized request or an
// *Error annotated for delivery.
func (p *Pipeline) Run(ctx context.Context, raw *protocol.Request, client *storage.Client) (*Request, *Error) {
	req := &Request{Raw: raw, Client: client}
	for _, checker := range p.checkers {
		if err := checker.Check(ctx, req); err != nil {
			p.logger.Debug("Authorization request rejected",
				"checker", checker.Name(),
				"client_id", client.ID,
				"error", err)
			return nil, p.annotate(req, err)
		}
	}
	return req, nil
}

// annotate attaches the delivery context accumulated so far to a checker
// failure.
func (p *Pipeline) annotate(req *Request, err error) *Error {
	return &Error{
		Error:        protocol.AsError(err),
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.ResponseMode,
		State:        req.Raw.QueryParam("state"),
	}
}
