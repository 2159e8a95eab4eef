package valkey

import (
	"context"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/oauth2-framework/authserver/storage"
)

// clientJSON is the stored representation of a registered OAuth client.
type clientJSON struct {
	ID                      string                 `json:"id"`
	OwnerID                 string                 `json:"owner_id,omitempty"`
	Deleted                 bool                   `json:"deleted,omitempty"`
	SecretHash              string                 `json:"secret_hash,omitempty"`
	PreviousSecretHash      string                 `json:"previous_secret_hash,omitempty"`
	SecretRotatedAt         int64                  `json:"secret_rotated_at,omitempty"`
	TokenEndpointAuthMethod string                 `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string               `json:"grant_types,omitempty"`
	ResponseTypes           []string               `json:"response_types,omitempty"`
	RedirectURIs            []string               `json:"redirect_uris,omitempty"`
	Scopes                  []string               `json:"scopes,omitempty"`
	JWKS                    *gojose.JSONWebKeySet  `json:"jwks,omitempty"`
	AuthSigningAlgs         []string               `json:"auth_signing_algs,omitempty"`
	Params                  []string               `json:"params,omitempty"`
	CreatedAt               int64                  `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	j := &clientJSON{
		ID:                      c.ID,
		OwnerID:                 c.OwnerID,
		Deleted:                 c.Deleted,
		SecretHash:              c.SecretHash,
		PreviousSecretHash:      c.PreviousSecretHash,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		RedirectURIs:            c.RedirectURIs,
		Scopes:                  c.Scopes,
		JWKS:                    c.JWKS,
		AuthSigningAlgs:         c.AuthSigningAlgs,
		Params:                  bagToPairs(c.Params),
		CreatedAt:               c.CreatedAt.Unix(),
	}
	if !c.SecretRotatedAt.IsZero() {
		j.SecretRotatedAt = c.SecretRotatedAt.Unix()
	}
	return j
}

func (j *clientJSON) toClient() *storage.Client {
	c := &storage.Client{
		ID:                      j.ID,
		OwnerID:                 j.OwnerID,
		Deleted:                 j.Deleted,
		SecretHash:              j.SecretHash,
		PreviousSecretHash:      j.PreviousSecretHash,
		TokenEndpointAuthMethod: j.TokenEndpointAuthMethod,
		GrantTypes:              j.GrantTypes,
		ResponseTypes:           j.ResponseTypes,
		RedirectURIs:            j.RedirectURIs,
		Scopes:                  j.Scopes,
		JWKS:                    j.JWKS,
		AuthSigningAlgs:         j.AuthSigningAlgs,
		Params:                  bagFromPairs(j.Params),
		CreatedAt:               time.Unix(j.CreatedAt, 0),
	}
	if j.SecretRotatedAt > 0 {
		c.SecretRotatedAt = time.Unix(j.SecretRotatedAt, 0)
	}
	return c
}

// Clients returns the client store view.
func (s *Store) Clients() storage.ClientStore {
	return clientStore{s}
}

type clientStore struct {
	s *Store
}

// Save persists a client. Callers run the rule pipeline first.
func (c clientStore) Save(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := c.s.startSpan(ctx, "client.save")
	defer c.s.observe(ctx, span, "client.save", time.Now(), &err)

	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}
	if err := validateID(client.ID); err != nil {
		return err
	}
	if err := c.s.setJSON(ctx, c.s.clientKey(client.ID), toClientJSON(client), time.Time{}); err != nil {
		return err
	}
	c.s.logger.Debug("Saved client", "client_id", client.ID)
	return nil
}

// Find returns the client by id, or (nil, nil) when unknown. Deleted clients
// come back with the Deleted flag set; callers decide.
func (c clientStore) Find(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, span := c.s.startSpan(ctx, "client.find")
	defer c.s.observe(ctx, span, "client.find", time.Now(), &err)

	j, err := getJSON[clientJSON](ctx, c.s, c.s.clientKey(clientID))
	if err != nil || j == nil {
		return nil, err
	}
	return j.toClient(), nil
}
