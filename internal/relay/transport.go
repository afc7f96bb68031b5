package relay

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrTransportClosed is returned by writes after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport is the client-facing side of a stream.
type Transport interface {
	// WriteFrame writes one encoded frame and flushes it.
	WriteFrame(p []byte) error
	Close() error
}

// HTTPTransport streams frames over an http.ResponseWriter.
type HTTPTransport struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

// NewHTTPTransport fails when w cannot flush.
func NewHTTPTransport(w http.ResponseWriter) (*HTTPTransport, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	return &HTTPTransport{w: w, rc: http.NewResponseController(w)}, nil
}

func (t *HTTPTransport) WriteFrame(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if _, err := t.w.Write(p); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := t.rc.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Close marks the transport finished; the handler returning ends the
// response.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// onceCloser closes a transport exactly once.
type onceCloser struct {
	t    Transport
	once sync.Once
	err  error
}

func (c *onceCloser) close() error {
	c.once.Do(func() { c.err = c.t.Close() })
	return c.err
}
