package storage

import (
	gojose "github.com/go-jose/go-jose/v4"
)

// TrustedIssuer is a third party whose relayed assertions are accepted
// without being a registered OAuth client.
type TrustedIssuer struct {
	// Issuer is the issuer identifier URL, matched exactly against the
	// assertion's iss claim.
	Issuer string

	// AllowedAlgorithms bounds the signature algorithms accepted on
	// assertions from this issuer.
	AllowedAlgorithms []string

	// Keys is the issuer's verification key set.
	Keys *gojose.JSONWebKeySet
}
