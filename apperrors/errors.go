// Package apperrors holds the error taxonomy shared by the store client, the
// transition authority and the reference store.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrWindowExpired = errors.New("cancellation window expired")
	ErrInvalidState  = errors.New("invalid state")
	ErrConflict      = errors.New("conflict")
	ErrStaleEntity   = errors.New("stale entity")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrTransport     = errors.New("transport failure")
)

// PolicyError is raised by the transition authority. Rule is the human
// readable text shown to the actor.
type PolicyError struct {
	Kind error
	Rule string
}

func (e *PolicyError) Error() string {
	return e.Rule
}

func (e *PolicyError) Unwrap() error {
	return e.Kind
}

func Forbidden(format string, args ...interface{}) error {
	return &PolicyError{Kind: ErrForbidden, Rule: fmt.Sprintf(format, args...)}
}

func WindowExpired(format string, args ...interface{}) error {
	return &PolicyError{Kind: ErrWindowExpired, Rule: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...interface{}) error {
	return &PolicyError{Kind: ErrInvalidState, Rule: fmt.Sprintf(format, args...)}
}

// Stale wraps ErrStaleEntity with the entity that was already terminal.
func Stale(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStaleEntity, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with the store's message.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// TransportError marks push disconnects and failed REST round trips. Callers
// recover locally, they never show it as a blocking error.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + ErrTransport.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func Transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsPolicy reports whether err came from a policy gate; those are never retried.
func IsPolicy(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// Retryable -> only transport failures are retried transparently.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// HTTPStatus maps the taxonomy onto the reference store's status codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrStaleEntity):
		return http.StatusGone
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrWindowExpired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// FromHTTPStatus is the inverse used by the store client.
func FromHTTPStatus(code int, message string) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case http.StatusConflict:
		return Conflict("%s", message)
	case http.StatusGone:
		return Stale("%s", message)
	case http.StatusUnprocessableEntity:
		return InvalidState("%s", message)
	}
	if code >= 500 {
		return Transport("remote store", fmt.Errorf("status %d: %s", code, message))
	}
	return fmt.Errorf("unexpected status %d: %s", code, message)
}
