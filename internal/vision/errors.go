package vision

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks misconfiguration: missing key, deprecated model,
	// invalid schema. Not retryable.
	ErrConfig = errors.New("vision: configuration error")
	// ErrTimeout marks a generate call that exceeded its deadline.
	ErrTimeout = errors.New("vision: analysis timed out")
	// ErrAnalysis marks a failed analysis attempt (transport, bad image,
	// unparseable response).
	ErrAnalysis = errors.New("vision: analysis failed")
)

// ParseError carries the raw model output when it was not valid JSON, for
// diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vision: response was not valid JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return ErrAnalysis
}
