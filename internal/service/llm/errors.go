package llm

import (
	"errors"
	"fmt"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("fragment stream closed")

// UpstreamError wraps any failure talking to the model provider: connection
// errors, non-success responses and streams that end abnormally.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
