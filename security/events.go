package security

// Event type constants for security audit logging. These constants ensure
// consistency across the codebase and prevent typos when logging
// security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when an access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is minted from a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// EventCodeIssued is logged when an authorization code is issued
	EventCodeIssued = "authorization_code_issued"

	// EventCodeReuseDetected is logged when a second exchange of the same
	// authorization code is attempted (token theft indicator)
	EventCodeReuseDetected = "authorization_code_reuse_detected"

	// Authentication and assertion events

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventAssertionRejected is logged when a JWT bearer assertion fails validation
	EventAssertionRejected = "assertion_rejected"

	// EventPKCEValidationFailed is logged when PKCE verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// Authorization endpoint events

	// EventAuthorizationRejected is logged when the parameter pipeline rejects a request
	EventAuthorizationRejected = "authorization_request_rejected"

	// EventLoginRequired is logged when account discovery forces re-authentication
	EventLoginRequired = "login_required"

	// EventAccountConflict is logged when two discovery extensions resolve
	// different accounts for one request
	EventAccountConflict = "account_resolution_conflict"

	// Registration events

	// EventClientRegistrationRejected is logged when the client rule pipeline rejects a mutation
	EventClientRegistrationRejected = "client_registration_rejected"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
