package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeInteractionRequired     = "interaction_required"
	ErrorCodeLoginRequired           = "login_required"
	ErrorCodeAccountSelectionGone    = "account_selection_required"
	ErrorCodeConsentRequired         = "consent_required"
	ErrorCodeInvalidRequestURI       = "invalid_request_uri"
	ErrorCodeInvalidRequestObject    = "invalid_request_object"
	ErrorCodeRequestNotSupported     = "request_not_supported"
	ErrorCodeRequestURINotSupported  = "request_uri_not_supported"
	ErrorCodeRegistrationUnsupported = "registration_not_supported"
)

// Error represents an OAuth 2.0 error response
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// ResponseData serializes the error into the wire shape defined by RFC 6749
// section 5.2.
func (e *Error) ResponseData() map[string]string {
	data := map[string]string{"error": e.Code}
	if e.Description != "" {
		data["error_description"] = e.Description
	}
	return data
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidGrant indicates the authorization code, refresh token or
	// assertion is invalid, expired or revoked
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidScope indicates the requested scope is invalid or exceeds the original grant
	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrAccessDenied indicates the user or authorization server denied the request
	ErrAccessDenied = func(desc string) *Error {
		return NewError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrUnsupportedResponseType indicates the response type is not in the server's catalog
	ErrUnsupportedResponseType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrTemporarilyUnavailable indicates the server cannot handle the request right now
	ErrTemporarilyUnavailable = func(desc string) *Error {
		return NewError(ErrorCodeTemporarilyUnavailable, desc, http.StatusServiceUnavailable)
	}

	// ErrInsufficientScope indicates the token does not carry the required scope
	ErrInsufficientScope = func(desc string) *Error {
		return NewError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	// ErrInteractionRequired indicates user interaction is needed but prompt=none forbids it
	ErrInteractionRequired = func(desc string) *Error {
		return NewError(ErrorCodeInteractionRequired, desc, http.StatusBadRequest)
	}

	// ErrLoginRequired indicates re-authentication is needed but prompt=none forbids it
	ErrLoginRequired = func(desc string) *Error {
		return NewError(ErrorCodeLoginRequired, desc, http.StatusBadRequest)
	}

	// ErrAccountSelectionRequired indicates the user must pick an account but prompt=none forbids it
	ErrAccountSelectionRequired = func(desc string) *Error {
		return NewError(ErrorCodeAccountSelectionGone, desc, http.StatusBadRequest)
	}

	// ErrConsentRequired indicates consent is needed but prompt=none forbids it
	ErrConsentRequired = func(desc string) *Error {
		return NewError(ErrorCodeConsentRequired, desc, http.StatusBadRequest)
	}

	// ErrInvalidRequestURI indicates the request_uri parameter is invalid
	ErrInvalidRequestURI = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequestURI, desc, http.StatusBadRequest)
	}

	// ErrInvalidRequestObject indicates the request object is invalid
	ErrInvalidRequestObject = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequestObject, desc, http.StatusBadRequest)
	}

	// ErrRequestNotSupported indicates request objects are not supported
	ErrRequestNotSupported = func(desc string) *Error {
		return NewError(ErrorCodeRequestNotSupported, desc, http.StatusBadRequest)
	}

	// ErrRequestURINotSupported indicates request_uri is not supported
	ErrRequestURINotSupported = func(desc string) *Error {
		return NewError(ErrorCodeRequestURINotSupported, desc, http.StatusBadRequest)
	}

	// ErrRegistrationNotSupported indicates dynamic registration is not supported
	ErrRegistrationNotSupported = func(desc string) *Error {
		return NewError(ErrorCodeRegistrationUnsupported, desc, http.StatusBadRequest)
	}
)

// AsError extracts a protocol error from err, or wraps err into a
// server_error so internal failures never leak their cause to clients.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return ErrServerError("internal error")
}
