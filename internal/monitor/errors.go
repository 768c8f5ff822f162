package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Sentinel errors returned by the registry, store, and orchestrator.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid request")
	ErrInvalidURL         = errors.New("url must start with http:// or https://")
	ErrCapacityExceeded   = errors.New("link capacity exceeded")
	ErrDuplicate          = errors.New("url already exists")
	ErrSummarizerDisabled = errors.New("summarizer disabled: no API key set")
)

// FetchError describes a failed page retrieval.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Reason     string
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	}
}

// Unwrap exposes the underlying transport error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// UserReason renders the failure as the summary stored on an error snapshot.
func (e *FetchError) UserReason() string {
	detail := e.Reason
	switch {
	case e.StatusCode > 0:
		detail = strconv.Itoa(e.StatusCode)
	case errors.Is(e.Err, context.DeadlineExceeded):
		detail = "timeout"
	case detail == "" && e.Err != nil:
		detail = e.Err.Error()
	case detail == "":
		detail = "unknown error"
	}
	return fmt.Sprintf("Could not fetch content (%s)", detail)
}

// NewStatusError classifies a non-success HTTP status. 5xx and 429 are transient.
func NewStatusError(url string, status int) *FetchError {
	return &FetchError{
		URL:        url,
		StatusCode: status,
		Transient:  status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
		Reason:     http.StatusText(status),
	}
}

// IsTransient reports whether err is a fetch failure worth retrying.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}
