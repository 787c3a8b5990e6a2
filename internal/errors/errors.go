// Package errors defines the error taxonomy shared by the clipper core and the
// boundary layers that present failures to the user.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeAuthCancelled       Code = "AUTH_CANCELLED"
	CodeNoAuthorizationCode Code = "NO_AUTHORIZATION_CODE"
	CodeTokenExchangeFailed Code = "TOKEN_EXCHANGE_FAILED"
	CodeTokenRefreshFailed  Code = "TOKEN_REFRESH_FAILED"
	CodeNotAuthenticated    Code = "NOT_AUTHENTICATED"
	CodeAPIError            Code = "API_ERROR"
	CodeNoContentSelected   Code = "NO_CONTENT_SELECTED"
	CodeNoTargetSelected    Code = "NO_TARGET_SELECTED"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeInternal            Code = "INTERNAL"
)

// Error is a typed failure. Status is the remote HTTP status when the failure
// originated from a remote response, and Body holds that response's raw text.
type Error struct {
	Code    Code
	Message string
	Status  int
	Body    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewAuthCancelled reports that the user aborted the consent flow.
func NewAuthCancelled(reason string) *Error {
	msg := "authorization cancelled"
	if reason != "" {
		msg = fmt.Sprintf("authorization cancelled: %s", reason)
	}
	return &Error{Code: CodeAuthCancelled, Message: msg}
}

// NewNoAuthorizationCode reports a redirect that carried no code parameter.
func NewNoAuthorizationCode() *Error {
	return &Error{Code: CodeNoAuthorizationCode, Message: "no authorization code received"}
}

// NewTokenExchangeFailed wraps a failed authorization-code exchange.
func NewTokenExchangeFailed(status int, body string, err error) *Error {
	return &Error{
		Code:    CodeTokenExchangeFailed,
		Message: remoteMessage("token exchange failed", status, body),
		Status:  status,
		Body:    body,
		Err:     err,
	}
}

// NewTokenRefreshFailed wraps a failed refresh-token grant.
func NewTokenRefreshFailed(status int, body string, err error) *Error {
	return &Error{
		Code:    CodeTokenRefreshFailed,
		Message: remoteMessage("token refresh failed", status, body),
		Status:  status,
		Body:    body,
		Err:     err,
	}
}

// NewNotAuthenticated reports a call that needs a credential when none is stored.
func NewNotAuthenticated() *Error {
	return &Error{Code: CodeNotAuthenticated, Message: "not authenticated"}
}

// NewAPIError wraps a non-success response from the resource API.
// message is the human-readable text derived from the response, if any.
func NewAPIError(status int, message, body string) *Error {
	if message == "" {
		message = remoteMessage("notion api error", status, body)
	}
	return &Error{Code: CodeAPIError, Message: message, Status: status, Body: body}
}

// NewNoContentSelected reports a selection save with nothing selected.
func NewNoContentSelected() *Error {
	return &Error{Code: CodeNoContentSelected, Message: "no text selected"}
}

// NewNoTargetSelected reports a save with no destination database.
func NewNoTargetSelected() *Error {
	return &Error{Code: CodeNoTargetSelected, Message: "no database selected"}
}

// NewInvalidRequest reports malformed input at a boundary.
func NewInvalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// NewInternal wraps an unexpected failure.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// Is reports whether any error in err's chain is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func remoteMessage(prefix string, status int, body string) string {
	switch {
	case body != "":
		return fmt.Sprintf("%s: %s", prefix, body)
	case status != 0:
		return fmt.Sprintf("%s: %d %s", prefix, status, http.StatusText(status))
	default:
		return prefix
	}
}
