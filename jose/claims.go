package jose

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Registered claim names checked by the ClaimChecker.
const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimExpiry    = "exp"
	ClaimNotBefore = "nbf"
	ClaimIssuedAt  = "iat"
	ClaimJWTID     = "jti"
)

// Claim check errors.
var (
	ErrClaimMissing   = errors.New("jose: required claim missing")
	ErrTokenExpired   = errors.New("jose: token expired")
	ErrTokenNotYet    = errors.New("jose: token not yet valid")
	ErrIssuedInFuture = errors.New("jose: token issued in the future")
)

// DecodeClaims unmarshals a JWS payload into a claims map.
func DecodeClaims(payload []byte) (map[string]any, error) {
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("jose: malformed claims: %w", err)
	}
	return claims, nil
}

// ClaimChecker validates the time-based registered claims of a decoded JWT
// against the current time, with a configurable leeway for clock skew.
type ClaimChecker struct {
	// Leeway is subtracted from exp/nbf/iat comparisons to absorb clock
	// skew between parties. Zero means exact comparison.
	Leeway time.Duration

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
}

// Check enforces presence of every required claim, then validates exp
// (strict: a token is expired the instant now reaches exp), nbf and iat.
// nbf and iat are only checked when present; exp is only checked when
// present or listed in required.
func (c ClaimChecker) Check(claims map[string]any, required []string) error {
	for _, name := range required {
		if _, ok := claims[name]; !ok {
			return fmt.Errorf("%w: %s", ErrClaimMissing, name)
		}
	}

	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	if exp, ok := numericDate(claims[ClaimExpiry]); ok {
		if !now.Before(exp.Add(c.Leeway)) {
			return ErrTokenExpired
		}
	}
	if nbf, ok := numericDate(claims[ClaimNotBefore]); ok {
		if now.Add(c.Leeway).Before(nbf) {
			return ErrTokenNotYet
		}
	}
	if iat, ok := numericDate(claims[ClaimIssuedAt]); ok {
		if now.Add(c.Leeway).Before(iat) {
			return ErrIssuedInFuture
		}
	}
	return nil
}

// StringClaim returns a claim as a string, or "" when absent or not a string.
func StringClaim(claims map[string]any, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}

// AudienceContains reports whether the aud claim, which may be a single
// string or an array of strings, contains value.
func AudienceContains(claims map[string]any, value string) bool {
	switch aud := claims[ClaimAudience].(type) {
	case string:
		return aud == value
	case []any:
		for _, a := range aud {
			if s, ok := a.(string); ok && s == value {
				return true
			}
		}
	}
	return false
}

// numericDate converts a JSON NumericDate claim value into a time.
func numericDate(v any) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		sec := int64(n)
		nsec := int64((n - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return numericDate(f)
	case int64:
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}
