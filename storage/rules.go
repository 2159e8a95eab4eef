package storage

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/oauth2-framework/authserver/internal/util"
)

// DangerousSchemes lists URI schemes that must never appear in a redirect URI.
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// ClientRule validates one aspect of a client registration. Rules run in
// order with early exit on the first failure; a client is only saved after
// every rule passed.
type ClientRule interface {
	Name() string
	Check(c *Client) error
}

// RulePipeline is the ordered rule chain applied on client create and update.
type RulePipeline struct {
	rules []ClientRule
}

// NewRulePipeline builds a pipeline from rules, applied in the given order.
func NewRulePipeline(rules ...ClientRule) *RulePipeline {
	return &RulePipeline{rules: rules}
}

// Validate runs every rule against the client, stopping at the first failure.
func (p *RulePipeline) Validate(c *Client) error {
	for _, rule := range p.rules {
		if err := rule.Check(c); err != nil {
			return fmt.Errorf("%s: %w", rule.Name(), err)
		}
	}
	return nil
}

// DefaultRulePipeline returns the standard rule chain. grantResponseTypes
// maps each supported grant type to the response types it is associated
// with, used to reject incoherent grant/response-type registrations.
func DefaultRulePipeline(grantResponseTypes map[string][]string) *RulePipeline {
	return NewRulePipeline(
		RedirectURIRule{},
		AuthMethodRule{},
		SecretRule{},
		GrantResponseCoherenceRule{Associations: grantResponseTypes},
	)
}

// RedirectURIRule requires every redirect URI to parse as an absolute URI
// without a fragment and without a dangerous scheme.
type RedirectURIRule struct{}

func (RedirectURIRule) Name() string { return "redirect_uris" }

func (RedirectURIRule) Check(c *Client) error {
	for _, raw := range c.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("redirect URI %q does not parse: %w", raw, err)
		}
		if u.Scheme == "" {
			return fmt.Errorf("redirect URI %q is not absolute", raw)
		}
		if u.Fragment != "" {
			return fmt.Errorf("redirect URI %q must not carry a fragment", raw)
		}
		scheme := strings.ToLower(u.Scheme)
		for _, dangerous := range DangerousSchemes {
			if scheme == dangerous {
				return fmt.Errorf("redirect URI scheme %q is not allowed", scheme)
			}
		}
		if ip := net.ParseIP(u.Hostname()); ip != nil {
			// Loopback IPs are fine for native apps (RFC 8252); link-local
			// and unspecified hosts point at infrastructure, not apps.
			switch util.ClassifyIP(ip) {
			case util.IPClassificationLinkLocal, util.IPClassificationUnspecified:
				return fmt.Errorf("redirect URI host %q is not allowed", u.Hostname())
			}
		}
		if scheme == "http" && !util.IsLoopbackHostname(u.Hostname()) {
			return fmt.Errorf("redirect URI %q must use https outside loopback", raw)
		}
	}
	return nil
}

// AuthMethodRule requires a known token endpoint authentication method.
type AuthMethodRule struct{}

func (AuthMethodRule) Name() string { return "token_endpoint_auth_method" }

func (AuthMethodRule) Check(c *Client) error {
	switch c.TokenEndpointAuthMethod {
	case AuthMethodNone, AuthMethodSecretBasic, AuthMethodSecretPost, AuthMethodAssertionJWT:
		return nil
	case "":
		return fmt.Errorf("token endpoint authentication method is required")
	}
	return fmt.Errorf("unknown token endpoint authentication method %q", c.TokenEndpointAuthMethod)
}

// SecretRule requires a secret exactly when the declared method needs one.
type SecretRule struct{}

func (SecretRule) Name() string { return "client_secret" }

func (SecretRule) Check(c *Client) error {
	switch c.TokenEndpointAuthMethod {
	case AuthMethodSecretBasic, AuthMethodSecretPost:
		if c.SecretHash == "" {
			return fmt.Errorf("method %q requires a client secret", c.TokenEndpointAuthMethod)
		}
	case AuthMethodNone:
		if c.SecretHash != "" {
			return fmt.Errorf("public clients must not carry a secret")
		}
	case AuthMethodAssertionJWT:
		if c.JWKS == nil || len(c.JWKS.Keys) == 0 {
			return fmt.Errorf("method %q requires registered key material", c.TokenEndpointAuthMethod)
		}
	}
	return nil
}

// GrantResponseCoherenceRule rejects registrations whose response types are
// not associated with any registered grant type.
type GrantResponseCoherenceRule struct {
	// Associations maps a grant type name to its associated response types.
	Associations map[string][]string
}

func (GrantResponseCoherenceRule) Name() string { return "grant_response_coherence" }

func (r GrantResponseCoherenceRule) Check(c *Client) error {
	if len(r.Associations) == 0 {
		return nil
	}
	allowed := map[string]bool{}
	for _, grantType := range c.GrantTypes {
		associated, known := r.Associations[grantType]
		if !known {
			return fmt.Errorf("unsupported grant type %q", grantType)
		}
		for _, rt := range associated {
			allowed[rt] = true
		}
	}
	for _, rt := range c.ResponseTypes {
		if !allowed[rt] {
			return fmt.Errorf("response type %q is not associated with any registered grant type", rt)
		}
	}
	return nil
}
