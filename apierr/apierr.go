// Package apierr defines the status-coded errors that flow from the service
// layer to the HTTP boundary. Callers should use errors.As (or the StatusOf
// and MessageOf helpers) to extract the transport status.
package apierr

import (
	"errors"
	"net/http"
)

// Error carries the HTTP status a failure should surface with.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, message)
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, message)
}

// StatusOf returns the status carried by err, or 500 for untyped errors.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err. Untyped errors are
// never echoed back to the client.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Internal Server Error"
}
