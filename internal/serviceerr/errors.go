package serviceerr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeUnknown                 Code = "unknown"
	CodeInvalidRequest          Code = "invalid_request"
	CodeNotFound                Code = "not_found"
	CodeConflict                Code = "conflict"
	CodeMissingRelayToken       Code = "missing_relay_token"
	CodeRelayTokenNotFound      Code = "relay_token_not_found"
	CodeMissingCredentialFields Code = "missing_credential_fields"
	CodeInvalidCredentials      Code = "invalid_credentials"
	CodeRefreshFailed           Code = "refresh_failed"
	CodeBackendUnreachable      Code = "backend_unreachable"
	CodeUnauthenticated         Code = "unauthenticated"
	CodeTenantBlocked           Code = "tenant_blocked"
	CodeUnknownTenant           Code = "unknown_tenant"
)

// Error is the error type returned by the relay, the gatekeeper and the
// identity client. Handlers translate it into a status code or a login hint.
type Error struct {
	Err         Code
	Description string
}

var (
	ErrUnknown        = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrInvalidRequest = &Error{Err: CodeInvalidRequest}
	ErrNotFound       = &Error{Err: CodeNotFound, Description: "not found"}
	ErrConflict       = &Error{Err: CodeConflict, Description: "already exists"}

	ErrMissingRelayToken = &Error{Err: CodeMissingRelayToken, Description: "relay token is missing"}
	// ErrRelayTokenNotFound covers unknown, expired and already consumed relay
	// tokens alike. Callers cannot tell them apart.
	ErrRelayTokenNotFound      = &Error{Err: CodeRelayTokenNotFound, Description: "relay token expired or unknown"}
	ErrMissingCredentialFields = &Error{Err: CodeMissingCredentialFields, Description: "identity backend response lacks credential fields"}
	ErrInvalidCredentials      = &Error{Err: CodeInvalidCredentials, Description: "invalid credentials"}
	ErrRefreshFailed           = &Error{Err: CodeRefreshFailed, Description: "refresh token rejected"}
	ErrBackendUnreachable      = &Error{Err: CodeBackendUnreachable, Description: "identity backend unreachable"}
	ErrUnauthenticated         = &Error{Err: CodeUnauthenticated, Description: "not authenticated"}
	ErrTenantBlocked           = &Error{Err: CodeTenantBlocked, Description: "tenant is blocked"}
	ErrUnknownTenant           = &Error{Err: CodeUnknownTenant, Description: "tenant is unknown"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is matches errors by code so that a described copy of a predefined error
// still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Err == t.Err
}

func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeMissingRelayToken:
		return http.StatusBadRequest
	case CodeNotFound, CodeUnknownTenant:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRelayTokenNotFound:
		return http.StatusGone
	case CodeInvalidCredentials, CodeRefreshFailed, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeTenantBlocked:
		return http.StatusForbidden
	case CodeBackendUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// LoginHint returns the value of the error query parameter that is attached
// to a redirect towards the login page.
func (e *Error) LoginHint() string {
	switch e.Err {
	case CodeRelayTokenNotFound:
		return "SessionExpired"
	case CodeRefreshFailed:
		return "RefreshAccessTokenError"
	case CodeBackendUnreachable:
		return "ServiceUnavailable"
	case CodeTenantBlocked:
		return "TenantBlocked"
	case CodeUnknownTenant:
		return "UnknownTenant"
	default:
		return ""
	}
}

// With returns a copy of e carrying a more specific description.
func (e *Error) With(description string) *Error {
	return &Error{Err: e.Err, Description: description}
}

// From extracts an *Error from err. Anything that is not a service error
// is reported as ErrUnknown.
func From(err error) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}

	return ErrUnknown
}
