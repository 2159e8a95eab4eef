package storage

import (
	"fmt"

	"github.com/oauth2-framework/authserver/security"
	"github.com/oauth2-framework/authserver/token"
)

// SensitiveParams lists token parameters encrypted at rest by stores that
// carry an Encryptor. Values outside this allowlist are stored as-is.
var SensitiveParams = []string{
	"id_token", // carries user identity claims (email, name, sub)
	"claims",   // requested claims may embed PII
}

// EncryptParams returns a copy of the bag with every sensitive parameter
// encrypted. A nil or disabled encryptor returns the bag unchanged.
func EncryptParams(enc *security.Encryptor, params token.DataBag) (token.DataBag, error) {
	if enc == nil || !enc.IsEnabled() {
		return params, nil
	}
	out := params
	for _, name := range SensitiveParams {
		v, ok := params.Get(name)
		if !ok {
			continue
		}
		sealed, err := enc.Encrypt(v)
		if err != nil {
			return token.DataBag{}, fmt.Errorf("failed to encrypt %s: %w", name, err)
		}
		out = out.With(name, sealed)
	}
	return out, nil
}

// DecryptParams reverses EncryptParams.
func DecryptParams(enc *security.Encryptor, params token.DataBag) (token.DataBag, error) {
	if enc == nil || !enc.IsEnabled() {
		return params, nil
	}
	out := params
	for _, name := range SensitiveParams {
		v, ok := params.Get(name)
		if !ok {
			continue
		}
		plain, err := enc.Decrypt(v)
		if err != nil {
			return token.DataBag{}, fmt.Errorf("failed to decrypt %s: %w", name, err)
		}
		out = out.With(name, plain)
	}
	return out, nil
}
