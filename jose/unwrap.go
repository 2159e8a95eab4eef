package jose

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gojose "github.com/go-jose/go-jose/v4"
)

// ErrEncryptionRequired rejects a bare JWS where policy demands a JWE layer.
var ErrEncryptionRequired = errors.New("jose: input must be encrypted")

// UnwrapEncrypted applies the optional JWE layer of an assertion. A compact
// JWE has five segments, a compact JWS three. When required is true the
// input must be a decryptable JWE; when false, input that is not encrypted
// or does not decrypt is returned as-is for the caller to treat as a bare
// JWS.
func UnwrapEncrypted(input string, keys *gojose.JSONWebKeySet, required bool) (string, error) {
	encrypted := strings.Count(input, ".") == 4
	if !encrypted {
		if required {
			return "", ErrEncryptionRequired
		}
		return input, nil
	}
	if keys == nil {
		if required {
			return "", fmt.Errorf("%w: no decryption keys configured", ErrDecryptionFailed)
		}
		return input, nil
	}

	payload, err := Decrypt(input, keys, nil, nil)
	if err != nil {
		if required {
			return "", err
		}
		return input, nil
	}
	return string(payload), nil
}

// PeekClaims decodes the payload and protected header of a compact JWS
// without verifying its signature. Callers use it to pick key material from
// the claims; nothing read here is trusted until VerifySignature passes.
func PeekClaims(input string) (map[string]any, Header, error) {
	parts := strings.Split(input, ".")
	if len(parts) != 3 {
		return nil, Header{}, errors.New("jose: input is not a compact JWS")
	}

	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, Header{}, fmt.Errorf("jose: malformed protected header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, Header{}, fmt.Errorf("jose: malformed protected header: %w", err)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, Header{}, fmt.Errorf("jose: malformed payload: %w", err)
	}
	claims, err := DecodeClaims(payload)
	if err != nil {
		return nil, Header{}, err
	}

	return claims, Header{Algorithm: header.Alg, KeyID: header.Kid, Type: header.Typ}, nil
}
