package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches any *Error with status 404.
var ErrNotFound = errors.New("remote: not found")

// Detail is one entry of an error payload's details array.
type Detail struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error is a non-2xx response. Status carries the taxonomy (400 validation,
// 404 not found, 409 conflict, 5xx server); Code and Message come from the
// error payload {error, message?, details?}.
type Error struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
	Details []Detail
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s %s: %d %s", e.Method, e.Path, e.Status, e.UserMessage())
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// UserMessage is the reason to show a user: the payload's message, else its
// error string, else a generic text for the status.
func (e *Error) UserMessage() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	}
	switch e.Status {
	case http.StatusBadRequest:
		return "Invalid request. Please check your input."
	case http.StatusNotFound:
		return "The requested resource was not found."
	case http.StatusConflict:
		return "This action conflicts with existing data."
	case http.StatusUnprocessableEntity:
		return "The provided data is invalid."
	case http.StatusTooManyRequests:
		return "Too many requests. Please try again later."
	case http.StatusInternalServerError:
		return "Internal server error. Please try again."
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "Service temporarily unavailable."
	}
	return http.StatusText(e.Status)
}

// TransportError means no usable response arrived: network failure, timeout,
// or a body that could not be read or decoded.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient marks the failure as retryable for reads.
func (e *TransportError) Transient() bool { return true }

func (e *TransportError) UserMessage() string {
	return "The server could not be reached. Please try again."
}
