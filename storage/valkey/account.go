package valkey

import (
	"context"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/storage"
)

// accountJSON is the stored representation of a user account.
type accountJSON struct {
	ID               string            `json:"id"`
	Username         string            `json:"username,omitempty"`
	PasswordHash     string            `json:"password_hash,omitempty"`
	LastLoginAt      int64             `json:"last_login_at,omitempty"`
	PairwiseSubjects map[string]string `json:"pairwise_subjects,omitempty"`
}

func toAccountJSON(a *storage.UserAccount) *accountJSON {
	j := &accountJSON{
		ID:               a.ID,
		Username:         a.Username,
		PasswordHash:     a.PasswordHash,
		PairwiseSubjects: a.PairwiseSubjects,
	}
	if !a.LastLoginAt.IsZero() {
		j.LastLoginAt = a.LastLoginAt.Unix()
	}
	return j
}

func (j *accountJSON) toAccount() *storage.UserAccount {
	a := &storage.UserAccount{
		ID:               j.ID,
		Username:         j.Username,
		PasswordHash:     j.PasswordHash,
		PairwiseSubjects: j.PairwiseSubjects,
	}
	if j.LastLoginAt > 0 {
		a.LastLoginAt = time.Unix(j.LastLoginAt, 0)
	}
	return a
}

// UserAccounts returns the user account store view.
func (s *Store) UserAccounts() storage.UserAccountStore {
	return userAccountStore{s}
}

type userAccountStore struct {
	s *Store
}

// Save persists the account document and refreshes the username and pairwise
// subject index keys used by the reverse lookups.
func (u userAccountStore) Save(ctx context.Context, account *storage.UserAccount) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("invalid user account")
	}
	if err := validateID(account.ID); err != nil {
		return err
	}
	if err := u.s.setJSON(ctx, u.s.accountKey(account.ID), toAccountJSON(account), time.Time{}); err != nil {
		return err
	}

	if account.Username != "" {
		key := u.s.usernameKey(account.Username)
		if err := u.s.client.Do(ctx, u.s.client.B().Set().Key(key).Value(account.ID).Build()).Error(); err != nil {
			return fmt.Errorf("failed to save username index: %w", err)
		}
	}
	for clientID, subject := range account.PairwiseSubjects {
		key := u.s.pairwiseKey(clientID, subject)
		if err := u.s.client.Do(ctx, u.s.client.B().Set().Key(key).Value(account.ID).Build()).Error(); err != nil {
			return fmt.Errorf("failed to save pairwise subject index: %w", err)
		}
	}

	u.s.logger.Debug("Saved user account", "account_id", account.ID)
	return nil
}

// Find returns the account by id, or (nil, nil) when unknown.
func (u userAccountStore) Find(ctx context.Context, accountID string) (*storage.UserAccount, error) {
	j, err := getJSON[accountJSON](ctx, u.s, u.s.accountKey(accountID))
	if err != nil || j == nil {
		return nil, err
	}
	return j.toAccount(), nil
}

// FindByUsername returns the account by login name, or (nil, nil).
func (u userAccountStore) FindByUsername(ctx context.Context, username string) (*storage.UserAccount, error) {
	accountID, err := u.s.client.Do(ctx, u.s.client.B().Get().Key(u.s.usernameKey(username)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}
	return u.Find(ctx, accountID)
}

// FindByPairwiseSubject reverses a per-client obfuscated subject back to the
// account, or (nil, nil).
func (u userAccountStore) FindByPairwiseSubject(ctx context.Context, clientID, subject string) (*storage.UserAccount, error) {
	accountID, err := u.s.client.Do(ctx, u.s.client.B().Get().Key(u.s.pairwiseKey(clientID, subject)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve pairwise subject: %w", err)
	}
	return u.Find(ctx, accountID)
}

// issuerJSON is the stored representation of a trusted issuer.
type issuerJSON struct {
	Issuer            string                `json:"issuer"`
	AllowedAlgorithms []string              `json:"allowed_algorithms,omitempty"`
	Keys              *gojose.JSONWebKeySet `json:"keys,omitempty"`
}

// TrustedIssuers returns the trusted issuer store view.
func (s *Store) TrustedIssuers() storage.TrustedIssuerStore {
	return trustedIssuerStore{s}
}

type trustedIssuerStore struct {
	s *Store
}

func (t trustedIssuerStore) Save(ctx context.Context, issuer *storage.TrustedIssuer) error {
	if issuer == nil || issuer.Issuer == "" {
		return fmt.Errorf("invalid trusted issuer")
	}
	j := &issuerJSON{
		Issuer:            issuer.Issuer,
		AllowedAlgorithms: issuer.AllowedAlgorithms,
		Keys:              issuer.Keys,
	}
	if err := t.s.setJSON(ctx, t.s.issuerKey(issuer.Issuer), j, time.Time{}); err != nil {
		return err
	}
	t.s.logger.Debug("Saved trusted issuer", "issuer", issuer.Issuer)
	return nil
}

// Find returns the issuer by its identifier URL, or (nil, nil).
func (t trustedIssuerStore) Find(ctx context.Context, issuer string) (*storage.TrustedIssuer, error) {
	j, err := getJSON[issuerJSON](ctx, t.s, t.s.issuerKey(issuer))
	if err != nil || j == nil {
		return nil, err
	}
	return &storage.TrustedIssuer{
		Issuer:            j.Issuer,
		AllowedAlgorithms: j.AllowedAlgorithms,
		Keys:              j.Keys,
	}, nil
}
