package authorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oauth2-framework/authserver/jose"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/storage"
)

// errReauthenticate is the internal signal that the user must go through
// login again. The chain turns it into a NeedsLogin outcome, or into
// login_required when prompt=none forbids interaction.
var errReauthenticate = errors.New("re-authentication required")

// Session is the caller-supplied authentication state for the request.
type Session struct {
	// Account is the currently authenticated resource owner, or nil.
	Account *storage.UserAccount

	// Fresh is true when the account authenticated during this flow, which
	// satisfies prompt=login without another round trip.
	Fresh bool
}

// Outcome is the result of account discovery.
type Outcome struct {
	// Account is the resolved resource owner; nil when login is needed.
	Account *storage.UserAccount

	// NeedsLogin asks the caller to redirect to login.
	NeedsLogin bool
}

// Extension is one independent account-discovery rule. Resolve returns the
// account it resolved (nil when it has no opinion), errReauthenticate to
// force login, or a protocol error to fail the request.
type Extension interface {
	Name() string
	Resolve(ctx context.Context, req *Request, sess *Session) (*storage.UserAccount, error)
}

// Chain composes discovery extensions. Resolution is first-non-nil-wins;
// two extensions resolving different accounts for one request forces login
// rather than silently preferring either.
type Chain struct {
	extensions []Extension
	logger     *slog.Logger
	auditor    *security.Auditor
}

// NewChain builds a discovery chain running the given extensions in order.
func NewChain(logger *slog.Logger, extensions ...Extension) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{extensions: extensions, logger: logger}
}

// DefaultChain returns the standard extension order over the given account
// store.
func DefaultChain(logger *slog.Logger, accounts storage.UserAccountStore) *Chain {
	return NewChain(logger,
		LoginExtension{},
		PromptNoneExtension{},
		MaxAgeExtension{},
		IdTokenHintExtension{Accounts: accounts},
	)
}

// SetAuditor attaches a security auditor for conflict and login events.
func (c *Chain) SetAuditor(a *security.Auditor) {
	c.auditor = a
}

// Discover resolves the resource owner for a validated request.
func (c *Chain) Discover(ctx context.Context, req *Request, sess *Session) (*Outcome, error) {
	if sess == nil {
		sess = &Session{}
	}

	var resolved *storage.UserAccount
	for _, ext := range c.extensions {
		account, err := ext.Resolve(ctx, req, sess)
		if errors.Is(err, errReauthenticate) {
			return c.needsLogin(req, ext.Name())
		}
		if err != nil {
			return nil, err
		}
		if account == nil {
			continue
		}
		if resolved != nil && resolved.ID != account.ID {
			c.logger.Warn("Account discovery conflict",
				"extension", ext.Name(),
				"client_id", req.Client.ID)
			if c.auditor != nil {
				c.auditor.LogEvent(security.Event{
					Type:     security.EventAccountConflict,
					ClientID: req.Client.ID,
					Details:  map[string]any{"extension": ext.Name()},
				})
			}
			return c.needsLogin(req, ext.Name())
		}
		if resolved == nil {
			resolved = account
		}
	}

	if resolved == nil {
		if req.HasPrompt("none") {
			return nil, protocol.ErrLoginRequired("no authenticated session and prompt forbids interaction")
		}
		return &Outcome{NeedsLogin: true}, nil
	}
	return &Outcome{Account: resolved}, nil
}

// needsLogin converts a forced re-authentication into the right channel:
// login_required when prompt=none forbids interaction, a login redirect
// otherwise.
func (c *Chain) needsLogin(req *Request, extension string) (*Outcome, error) {
	if req.HasPrompt("none") {
		return nil, protocol.ErrLoginRequired("re-authentication required but prompt forbids interaction")
	}
	if c.auditor != nil {
		c.auditor.LogEvent(security.Event{
			Type:     security.EventLoginRequired,
			ClientID: req.Client.ID,
			Details:  map[string]any{"extension": extension},
		})
	}
	return &Outcome{NeedsLogin: true}, nil
}

// LoginExtension forces re-authentication on prompt=login unless the
// session authenticated during this flow.
type LoginExtension struct{}

func (LoginExtension) Name() string { return "login" }

func (LoginExtension) Resolve(_ context.Context, req *Request, sess *Session) (*storage.UserAccount, error) {
	if req.HasPrompt("login") && !sess.Fresh {
		return nil, errReauthenticate
	}
	return sess.Account, nil
}

// PromptNoneExtension rejects prompt=none requests with no authenticated
// session. It never redirects: the whole point of none is no interaction.
type PromptNoneExtension struct{}

func (PromptNoneExtension) Name() string { return "prompt_none" }

func (PromptNoneExtension) Resolve(_ context.Context, req *Request, sess *Session) (*storage.UserAccount, error) {
	if req.HasPrompt("none") && sess.Account == nil {
		return nil, protocol.ErrLoginRequired("no authenticated session and prompt forbids interaction")
	}
	return sess.Account, nil
}

// MaxAgeExtension forces re-authentication when the session's last login is
// older than the requested max_age, regardless of prompt.
type MaxAgeExtension struct {
	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
}

func (MaxAgeExtension) Name() string { return "max_age" }

func (e MaxAgeExtension) Resolve(_ context.Context, req *Request, sess *Session) (*storage.UserAccount, error) {
	raw := req.Raw.QueryParam("max_age")
	if raw == "" {
		return nil, nil
	}
	maxAge, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || maxAge < 0 {
		return nil, protocol.ErrInvalidRequest("max_age must be a non-negative integer")
	}
	if sess.Account == nil {
		return nil, nil
	}

	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	if now.Sub(sess.Account.LastLoginAt) > time.Duration(maxAge)*time.Second {
		return nil, errReauthenticate
	}
	return sess.Account, nil
}

// IdTokenHintExtension resolves the account referenced by an id_token_hint,
// reversing pairwise subject obfuscation when the client uses it.
type IdTokenHintExtension struct {
	Accounts storage.UserAccountStore
}

func (IdTokenHintExtension) Name() string { return "id_token_hint" }

func (e IdTokenHintExtension) Resolve(ctx context.Context, req *Request, _ *Session) (*storage.UserAccount, error) {
	hint := req.Raw.QueryParam("id_token_hint")
	if hint == "" {
		return nil, nil
	}

	claims, _, err := jose.PeekClaims(hint)
	if err != nil {
		return nil, protocol.ErrInvalidRequest("id_token_hint does not parse")
	}
	sub := jose.StringClaim(claims, jose.ClaimSubject)
	if sub == "" {
		return nil, protocol.ErrInvalidRequest("id_token_hint carries no subject")
	}

	// Pairwise subjects are per client; try the reversal first, then the
	// plain account id.
	account, err := e.Accounts.FindByPairwiseSubject(ctx, req.Client.ID, sub)
	if err != nil {
		return nil, fmt.Errorf("reversing pairwise subject: %w", err)
	}
	if account == nil {
		if account, err = e.Accounts.Find(ctx, sub); err != nil {
			return nil, fmt.Errorf("looking up account %q: %w", sub, err)
		}
	}
	if account == nil {
		return nil, errReauthenticate
	}
	return account, nil
}
