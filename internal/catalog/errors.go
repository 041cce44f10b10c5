package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes the backend client reports. Callers branch with errors.Is;
// the request context travels in APIError.
var (
	ErrNotFound       = errors.New("catalog: no such resource")
	ErrUnavailable    = errors.New("catalog: backend unreachable")
	ErrUpstreamError  = errors.New("catalog: backend internal error")
	ErrBadResponse    = errors.New("catalog: malformed backend response")
	ErrRequestTimeout = errors.New("catalog: backend request timed out")
)

// APIError records which request failed and what the backend sent back.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}
