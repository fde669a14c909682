package errors

import (
	"errors"
	"net/http"
)

// Platform error codes used outside the OAuth protocol surface.
const (
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeForbidden         = "FORBIDDEN"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	CodeAppNotFound       = "APPLICATION_NOT_FOUND"
	CodeUserNotFound      = "USER_NOT_FOUND"
	CodeChallengeNotFound = "CHALLENGE_NOT_FOUND"
	CodeInternal          = "INTERNAL"
)

// Error is a platform-level error with a stable machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func NewUnauthenticated(message string) *Error {
	return &Error{Code: CodeUnauthenticated, Message: message}
}

func NewForbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

func NewRateLimitExceeded() *Error {
	return &Error{Code: CodeRateLimitExceeded, Message: "too many requests"}
}

func NewNotFound(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Status maps an error to its HTTP status code. Every handler funnels
// failures through here so the response shape stays uniform; anything
// unrecognized is an internal error and leaks no detail to the client.
func Status(err error) int {
	var oauthErr *OAuth2Error
	if errors.As(err, &oauthErr) {
		if oauthErr.Code == InvalidClient {
			return http.StatusUnauthorized
		}
		if oauthErr.Code == ServerError {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeUnauthenticated:
			return http.StatusUnauthorized
		case CodeForbidden:
			return http.StatusForbidden
		case CodeRateLimitExceeded:
			return http.StatusTooManyRequests
		case CodeAccountNotFound, CodeAppNotFound, CodeUserNotFound, CodeChallengeNotFound:
			return http.StatusNotFound
		}
	}

	return http.StatusInternalServerError
}

// Body returns the JSON-serializable payload for an error. Internal
// failures collapse to a generic message.
func Body(err error) any {
	var oauthErr *OAuth2Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	return &Error{Code: CodeInternal, Message: "internal server error"}
}
