// Package jose is the cryptographic boundary of the engine. It wraps
// go-jose/v4 behind three narrow operations: compact JWS verification,
// compact JWE decryption, and claim checking. Nothing outside this package
// touches signature or encryption primitives.
package jose

import (
	"errors"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"
)

// Boundary errors. Callers collapse these into protocol errors; the concrete
// library failure is never surfaced to clients.
var (
	// ErrMultipleSignatures rejects JWS input with more than one signature.
	ErrMultipleSignatures = errors.New("jose: compact JWS must carry exactly one signature")

	// ErrAlgorithmNotAllowed rejects a signature whose alg header is absent
	// or outside the allowed set.
	ErrAlgorithmNotAllowed = errors.New("jose: signature algorithm not allowed")

	// ErrVerificationFailed covers signature verification failure against
	// every candidate key.
	ErrVerificationFailed = errors.New("jose: signature verification failed")

	// ErrDecryptionFailed covers JWE parse or decryption failure against
	// every candidate key.
	ErrDecryptionFailed = errors.New("jose: decryption failed")
)

// Header is the protected header of a verified signature.
type Header struct {
	Algorithm string
	KeyID     string
	Type      string
}

// SignatureAlgorithms converts allowed algorithm names into go-jose values.
// Unknown names pass through; go-jose rejects them at parse time, which keeps
// the check fail-closed.
func SignatureAlgorithms(names []string) []gojose.SignatureAlgorithm {
	algs := make([]gojose.SignatureAlgorithm, 0, len(names))
	for _, n := range names {
		algs = append(algs, gojose.SignatureAlgorithm(n))
	}
	return algs
}

// VerifySignature parses input as a compact JWS with exactly one signature,
// checks its alg header against allowedAlgs, and verifies it against the key
// set. It returns the payload and the protected header.
//
// go-jose/v4 enforces the allowed-algorithm set at parse time, so an absent
// or disallowed alg header never reaches key selection.
func VerifySignature(input string, keys *gojose.JSONWebKeySet, allowedAlgs []string) ([]byte, Header, error) {
	if len(allowedAlgs) == 0 {
		return nil, Header{}, ErrAlgorithmNotAllowed
	}

	jws, err := gojose.ParseSigned(input, SignatureAlgorithms(allowedAlgs))
	if err != nil {
		return nil, Header{}, fmt.Errorf("%w: %v", ErrAlgorithmNotAllowed, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, Header{}, ErrMultipleSignatures
	}

	sig := jws.Signatures[0]
	header := Header{
		Algorithm: sig.Header.Algorithm,
		KeyID:     sig.Header.KeyID,
	}
	if typ, ok := sig.Header.ExtraHeaders[gojose.HeaderType]; ok {
		if s, ok := typ.(string); ok {
			header.Type = s
		}
	}

	for _, key := range candidateKeys(keys, sig.Header.KeyID) {
		payload, err := jws.Verify(key)
		if err == nil {
			return payload, header, nil
		}
	}
	return nil, Header{}, ErrVerificationFailed
}

// Decrypt parses input as a compact JWE and decrypts it against the key set.
func Decrypt(input string, keys *gojose.JSONWebKeySet, keyAlgs []gojose.KeyAlgorithm, contentEncs []gojose.ContentEncryption) ([]byte, error) {
	if len(keyAlgs) == 0 {
		keyAlgs = DefaultKeyAlgorithms()
	}
	if len(contentEncs) == 0 {
		contentEncs = DefaultContentEncryption()
	}

	jwe, err := gojose.ParseEncrypted(input, keyAlgs, contentEncs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	for _, key := range candidateKeys(keys, jwe.Header.KeyID) {
		payload, err := jwe.Decrypt(key)
		if err == nil {
			return payload, nil
		}
	}
	return nil, ErrDecryptionFailed
}

// DefaultKeyAlgorithms lists the JWE key-management algorithms accepted when
// the caller does not narrow the set.
func DefaultKeyAlgorithms() []gojose.KeyAlgorithm {
	return []gojose.KeyAlgorithm{
		gojose.RSA_OAEP, gojose.RSA_OAEP_256,
		gojose.ECDH_ES, gojose.ECDH_ES_A128KW, gojose.ECDH_ES_A256KW,
		gojose.A128KW, gojose.A256KW,
		gojose.DIRECT,
	}
}

// DefaultContentEncryption lists the JWE content-encryption algorithms
// accepted when the caller does not narrow the set.
func DefaultContentEncryption() []gojose.ContentEncryption {
	return []gojose.ContentEncryption{
		gojose.A128GCM, gojose.A256GCM,
		gojose.A128CBC_HS256, gojose.A256CBC_HS512,
	}
}

// candidateKeys selects verification keys from the set. A kid narrows the
// candidates; without one, every key is tried.
func candidateKeys(keys *gojose.JSONWebKeySet, kid string) []any {
	if keys == nil {
		return nil
	}
	var out []any
	if kid != "" {
		for _, k := range keys.Key(kid) {
			out = append(out, k)
		}
		if len(out) > 0 {
			return out
		}
	}
	for i := range keys.Keys {
		out = append(out, keys.Keys[i])
	}
	return out
}
