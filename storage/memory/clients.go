package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/oauth2-framework/authserver/storage"
)

// Clients returns the client store view.
func (s *Store) Clients() storage.ClientStore {
	return clientStore{s}
}

// UserAccounts returns the user account store view.
func (s *Store) UserAccounts() storage.UserAccountStore {
	return userAccountStore{s}
}

// TrustedIssuers returns the trusted issuer store view.
func (s *Store) TrustedIssuers() storage.TrustedIssuerStore {
	return trustedIssuerStore{s}
}

type clientStore struct {
	s *Store
}

func (c clientStore) Save(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := c.s.startSpan(ctx, "client.save")
	defer c.s.observe(ctx, span, "client.save", time.Now(), &err)

	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	stored := *client
	c.s.clients[client.ID] = &stored
	return nil
}

func (c clientStore) Find(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, span := c.s.startSpan(ctx, "client.find")
	defer c.s.observe(ctx, span, "client.find", time.Now(), &err)

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	client, ok := c.s.clients[clientID]
	if !ok {
		return nil, nil
	}
	out := *client
	return &out, nil
}

type userAccountStore struct {
	s *Store
}

func (u userAccountStore) Save(_ context.Context, account *storage.UserAccount) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("invalid user account")
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	stored := *account
	u.s.accounts[account.ID] = &stored
	return nil
}

func (u userAccountStore) Find(_ context.Context, accountID string) (*storage.UserAccount, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	account, ok := u.s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	out := *account
	return &out, nil
}

func (u userAccountStore) FindByUsername(_ context.Context, username string) (*storage.UserAccount, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, account := range u.s.accounts {
		if account.Username == username {
			out := *account
			return &out, nil
		}
	}
	return nil, nil
}

func (u userAccountStore) FindByPairwiseSubject(_ context.Context, clientID, subject string) (*storage.UserAccount, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, account := range u.s.accounts {
		if account.PairwiseSubjects[clientID] == subject && subject != "" {
			out := *account
			return &out, nil
		}
	}
	return nil, nil
}

type trustedIssuerStore struct {
	s *Store
}

func (t trustedIssuerStore) Save(_ context.Context, issuer *storage.TrustedIssuer) error {
	if issuer == nil || issuer.Issuer == "" {
		return fmt.Errorf("invalid trusted issuer")
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored := *issuer
	t.s.issuers[issuer.Issuer] = &stored
	return nil
}

func (t trustedIssuerStore) Find(_ context.Context, issuer string) (*storage.TrustedIssuer, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	ti, ok := t.s.issuers[issuer]
	if !ok {
		return nil, nil
	}
	out := *ti
	return &out, nil
}
