package http

import (
	"errors"
	"fmt"

	"github.com/bft-labs/predem/internal/domain"
)

var (
	// ErrEmptyResponse is returned when the service answers 2xx without an
	// acknowledgement body. Nothing is known to be delivered, so it is retryable.
	ErrEmptyResponse = errors.New("empty response from collection service")

	// ErrAppVersionRejected is returned when the service refuses data from
	// this application version.
	ErrAppVersionRejected = errors.New("application version rejected by collection service")
)

// StatusError is a request-level failure reported by the collection service.
type StatusError struct {
	Code   int
	Body   string
	Reason domain.FailureReason
}

func (e *StatusError) Error() string {
	switch e.Reason {
	case domain.ReasonEmptyResponse:
		return fmt.Sprintf("server returned %d: %v", e.Code, ErrEmptyResponse)
	case domain.ReasonAppVersionRejected:
		return fmt.Sprintf("server returned %d: %v", e.Code, ErrAppVersionRejected)
	}
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch e.Reason {
	case domain.ReasonEmptyResponse:
		return ErrEmptyResponse
	case domain.ReasonAppVersionRejected:
		return ErrAppVersionRejected
	}
	return nil
}

// Permanent reports whether resending the same batch cannot succeed.
func (e *StatusError) Permanent() bool {
	return !retryableStatus(e.Code)
}

// BatchRefused reports whether the service refused the batch for its size
// (413) or contents (422). Smaller batches may go through.
func (e *StatusError) BatchRefused() bool {
	return e.Code == 413 || e.Code == 422
}

// retryableStatus classifies a non-2xx status. Malformed or oversized
// payloads and rejected app versions are permanent. Authentication failures
// are retryable so data survives until the key is corrected.
func retryableStatus(code int) bool {
	switch code {
	case 400, 409, 413, 422:
		return false
	}
	return true
}
