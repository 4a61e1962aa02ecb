package oauth

import (
	"fmt"
	"net/http"

	"github.com/teemow/calagent/internal/credentials"
)

// Error codes carried by Error.
const (
	ErrCodeNotConnected          = "not_connected"
	ErrCodeRevoked               = "revoked"
	ErrCodeNoRefreshToken        = "no_refresh_token"
	ErrCodeRefreshFailed         = "refresh_failed"
	ErrCodeExchangeFailed        = "exchange_failed"
	ErrCodeInvalidState          = "invalid_state"
	ErrCodeProviderNotConfigured = "provider_not_configured"
	ErrCodeStorage               = "storage_error"
)

// Error is a credential lifecycle failure. Errors that RequireConsent cannot
// be resolved without the user repeating the connect flow.
type Error struct {
	Code        string
	Provider    credentials.Provider
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("oauth %s", e.Code)
	if e.Provider != "" {
		msg += fmt.Sprintf(" (%s)", e.Provider)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// RequiresConsent reports whether the user has to reconnect the provider.
func (e *Error) RequiresConsent() bool {
	switch e.Code {
	case ErrCodeNotConnected, ErrCodeRevoked, ErrCodeNoRefreshToken:
		return true
	}
	return false
}

// HTTPStatus maps the error to a response status for the connect endpoints.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidState, ErrCodeExchangeFailed:
		return http.StatusBadRequest
	case ErrCodeNotConnected, ErrCodeRevoked, ErrCodeNoRefreshToken:
		return http.StatusUnauthorized
	case ErrCodeProviderNotConfigured:
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func newError(code string, provider credentials.Provider, desc string, err error) *Error {
	return &Error{Code: code, Provider: provider, Description: desc, Err: err}
}
