package clientauth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/oauth2-framework/authserver/jose"
	"github.com/oauth2-framework/authserver/protocol"
	"github.com/oauth2-framework/authserver/storage"
)

var (
	errNoCredentials    = errors.New("credentials not presented")
	errSecretMismatch   = errors.New("secret does not match")
	errClientIDMismatch = errors.New("presented client id does not match")
)

// None authenticates public clients. It verifies the client really is
// public; a confidential client declaring "none" never authenticates.
type None struct{}

func (None) Name() string { return storage.AuthMethodNone }

func (None) Authenticate(_ context.Context, _ *protocol.Request, client *storage.Client) (*Credentials, error) {
	if !client.IsPublic() {
		return nil, errors.New("confidential client cannot use the none method")
	}
	return &Credentials{ClientID: client.ID, Method: storage.AuthMethodNone}, nil
}

// SecretBasic authenticates with HTTP Basic credentials from the
// Authorization header. The header is its only credential source.
type SecretBasic struct {
	// SecretLifetime bounds how long a superseded secret keeps working
	// after rotation. Zero keeps it working indefinitely.
	SecretLifetime time.Duration

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
}

func (SecretBasic) Name() string { return storage.AuthMethodSecretBasic }

func (m SecretBasic) Authenticate(_ context.Context, req *protocol.Request, client *storage.Client) (*Credentials, error) {
	id, secret, err := basicCredentials(req.Header("Authorization"))
	if err != nil {
		return nil, err
	}
	if id != client.ID {
		return nil, errClientIDMismatch
	}
	if !verifySecret(client, secret, m.SecretLifetime, m.now()) {
		return nil, errSecretMismatch
	}
	return &Credentials{ClientID: client.ID, Method: storage.AuthMethodSecretBasic}, nil
}

func (m SecretBasic) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// SecretPost authenticates with client_id/client_secret form parameters.
// The request body is its only credential source.
type SecretPost struct {
	SecretLifetime time.Duration
	Now            func() time.Time
}

func (SecretPost) Name() string { return storage.AuthMethodSecretPost }

func (m SecretPost) Authenticate(_ context.Context, req *protocol.Request, client *storage.Client) (*Credentials, error) {
	id := req.BodyParam("client_id")
	secret := req.BodyParam("client_secret")
	if id == "" || secret == "" {
		return nil, errNoCredentials
	}
	if id != client.ID {
		return nil, errClientIDMismatch
	}
	if !verifySecret(client, secret, m.SecretLifetime, m.now()) {
		return nil, errSecretMismatch
	}
	return &Credentials{ClientID: client.ID, Method: storage.AuthMethodSecretPost}, nil
}

func (m SecretPost) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// ResolveClientID extracts the client identifier a request claims, without
// authenticating anything: the Basic header first, then the client_id form
// parameter, then the sub claim of a client assertion. The returned id only
// selects which client record to authenticate against.
func ResolveClientID(req *protocol.Request) string {
	if id, _, err := basicCredentials(req.Header("Authorization")); err == nil {
		return id
	}
	if id := req.BodyParam("client_id"); id != "" {
		return id
	}
	if assertion := req.BodyParam("client_assertion"); assertion != "" {
		if claims, _, err := jose.PeekClaims(assertion); err == nil {
			return jose.StringClaim(claims, jose.ClaimSubject)
		}
	}
	return ""
}

// basicCredentials decodes an Authorization header of the Basic scheme.
// Client id and secret are form-urlencoded inside the header per RFC 6749
// appendix B, so both halves are percent-decoded after the base64 step.
func basicCredentials(header string) (id, secret string, err error) {
	const prefix = "Basic "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return "", "", errNoCredentials
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", "", errors.New("malformed Basic credentials")
	}
	encodedID, encodedSecret, found := strings.Cut(string(raw), ":")
	if !found {
		return "", "", errors.New("malformed Basic credentials")
	}
	if id, err = url.QueryUnescape(encodedID); err != nil {
		return "", "", errors.New("malformed Basic credentials")
	}
	if secret, err = url.QueryUnescape(encodedSecret); err != nil {
		return "", "", errors.New("malformed Basic credentials")
	}
	return id, secret, nil
}
