// Package storage defines the entities surrounding the token ledger (clients,
// user accounts, trusted issuers) and the interfaces for persisting them.
// Concrete backends live in subpackages.
package storage

import (
	"context"
)

// ClientStore persists registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// Save persists a client. Callers run the rule pipeline first.
	Save(ctx context.Context, client *Client) error

	// Find returns the client by id, or (nil, nil) when unknown. Deleted
	// clients are returned with the Deleted flag set; callers decide.
	Find(ctx context.Context, clientID string) (*Client, error)
}

// UserAccountStore resolves resource owners.
type UserAccountStore interface {
	Save(ctx context.Context, account *UserAccount) error

	// Find returns the account by id, or (nil, nil) when unknown.
	Find(ctx context.Context, accountID string) (*UserAccount, error)

	// FindByUsername returns the account by login name, or (nil, nil).
	FindByUsername(ctx context.Context, username string) (*UserAccount, error)

	// FindByPairwiseSubject reverses a per-client obfuscated subject issued
	// to clientID back to the account, or (nil, nil).
	FindByPairwiseSubject(ctx context.Context, clientID, subject string) (*UserAccount, error)
}

// TrustedIssuerStore persists the third parties whose assertions this server
// accepts.
type TrustedIssuerStore interface {
	Save(ctx context.Context, issuer *TrustedIssuer) error

	// Find returns the issuer by its identifier URL, or (nil, nil).
	Find(ctx context.Context, issuer string) (*TrustedIssuer, error)
}
