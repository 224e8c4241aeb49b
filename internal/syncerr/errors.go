// Package syncerr defines the error kinds surfaced by previews and commits.
package syncerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUpstreamAuthExpired means the upstream rejected the credential and
	// the caller has to re-authenticate.
	ErrUpstreamAuthExpired = errors.New("upstream credential rejected")

	// ErrUpstreamUnavailable covers non-2xx (non-401) responses and network
	// failures. The engine never retries it itself.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNoActiveConfiguration is returned when a faction has no forum
	// integration. Previews turn it into an empty result.
	ErrNoActiveConfiguration = errors.New("no active configuration")

	// ErrMalformedUpstreamPayload aborts a sync whose response does not
	// match the expected schema.
	ErrMalformedUpstreamPayload = errors.New("malformed upstream payload")

	// ErrTransactionFailure means the store rejected the atomic write and
	// nothing was applied.
	ErrTransactionFailure = errors.New("transaction failed")

	// ErrInvalidPayload is returned for commit payloads that do not belong
	// to the faction or kind being committed.
	ErrInvalidPayload = errors.New("invalid commit payload")
)

// UpstreamError carries the failing source and HTTP status
type UpstreamError struct {
	Source     string
	StatusCode int
	Kind       error
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Source, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is
func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FromStatus classifies a non-success upstream response
func FromStatus(source string, status int) error {
	kind := ErrUpstreamUnavailable
	if status == http.StatusUnauthorized {
		kind = ErrUpstreamAuthExpired
	}
	return &UpstreamError{Source: source, StatusCode: status, Kind: kind}
}

// Unavailable wraps a transport failure
func Unavailable(source string, err error) error {
	return &UpstreamError{Source: source, Kind: ErrUpstreamUnavailable, Err: err}
}

// Malformed wraps a decode or validation failure of an upstream response
func Malformed(source string, err error) error {
	return &UpstreamError{Source: source, Kind: ErrMalformedUpstreamPayload, Err: err}
}

// Transaction wraps a store failure during commit
func Transaction(err error) error {
	if err == nil || errors.Is(err, ErrTransactionFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransactionFailure, err)
}

// Retryable reports whether a caller may retry the operation later
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrTransactionFailure)
}

// Code is the machine readable error identifier returned to API clients
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamAuthExpired):
		return "UPSTREAM_AUTH_EXPIRED"
	case errors.Is(err, ErrMalformedUpstreamPayload):
		return "MALFORMED_UPSTREAM_PAYLOAD"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, ErrNoActiveConfiguration):
		return "NO_ACTIVE_CONFIGURATION"
	case errors.Is(err, ErrTransactionFailure):
		return "TRANSACTION_FAILURE"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps an error kind to the status the API answers with
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUpstreamAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedUpstreamPayload), errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoActiveConfiguration):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
