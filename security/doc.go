// Package security provides the ambient security features of the engine:
// audit logging with PII protection, rate limiting of security-event logging,
// and at-rest encryption of sensitive token parameters.
package security
