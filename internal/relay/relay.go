// Package relay forwards model fragments to a client as server-sent events
// while accumulating the reply text.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"dietchat/internal/metrics"
)

type Status string

const (
	StatusCompleted      Status = "completed"
	StatusUpstreamFailed Status = "upstream_failed"
	StatusClientGone     Status = "client_gone"
)

// Source yields fragments until io.EOF or an error. Next must return once
// the context handed to the Opener is cancelled.
type Source interface {
	Next() (string, error)
	Close()
}

// Opener starts the upstream call under a context owned by the relay.
type Opener func(ctx context.Context) (Source, error)

// Outcome summarizes one relayed stream. Text is exactly the concatenation
// of the fragments written to the client.
type Outcome struct {
	Text      string
	Fragments int
	Status    Status
	Err       error
}

type Relay struct {
	keepAlive time.Duration
	logger    *slog.Logger
}

// New returns a relay that writes ": ping" comments after keepAlive of
// silence. A zero keepAlive disables them.
func New(keepAlive time.Duration, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{keepAlive: keepAlive, logger: logger}
}

type fragment struct {
	text string
	err  error
}

// stream tracks what has been written to the client.
type stream struct {
	t         Transport
	text      strings.Builder
	fragments int
	done      bool
	writeErr  error
}

func (s *stream) write(p []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if err := s.t.WriteFrame(p); err != nil {
		s.writeErr = err
	}
	return s.writeErr
}

// finish writes the optional error notice and the terminal sentinel, once.
func (s *stream) finish(notice bool) {
	if s.done {
		return
	}
	s.done = true
	if notice {
		if frame, err := EncodeFrame(Frame{Content: ErrorNotice, Error: true}); err == nil {
			_ = s.write(frame)
		}
	}
	_ = s.write(doneFrame)
}

// Run opens the upstream call and relays it to t until the upstream ends,
// fails, or the client goes away (ctx done or a write fails). On every path
// the client gets exactly one terminal sentinel attempt, the upstream
// context is cancelled, the source is closed and t is closed exactly once.
func (r *Relay) Run(ctx context.Context, t Transport, open Opener) (out Outcome) {
	start := time.Now()
	closer := &onceCloser{t: t}
	upstreamCtx, cancel := context.WithCancel(ctx)
	s := &stream{t: t}

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "relay panicked", "panic", p, "stack", string(debug.Stack()))
			s.finish(true)
			out = Outcome{Status: StatusUpstreamFailed, Err: fmt.Errorf("relay panic: %v", p)}
		}
		cancel()
		if err := closer.close(); err != nil {
			r.logger.WarnContext(ctx, "close transport", "error", err)
		}
		out.Text = s.text.String()
		out.Fragments = s.fragments
		metrics.ChatStreams.WithLabelValues(string(out.Status)).Inc()
		metrics.StreamDuration.Observe(time.Since(start).Seconds())
	}()

	src, err := open(upstreamCtx)
	if err != nil {
		if ctx.Err() != nil {
			s.finish(false)
			return Outcome{Status: StatusClientGone, Err: err}
		}
		r.logger.WarnContext(ctx, "upstream open failed", "error", err)
		s.finish(true)
		return Outcome{Status: StatusUpstreamFailed, Err: err}
	}

	fragments := make(chan fragment)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer func() {
			if p := recover(); p != nil {
				select {
				case fragments <- fragment{err: fmt.Errorf("upstream panic: %v", p)}:
				case <-upstreamCtx.Done():
				}
			}
		}()
		for {
			text, err := src.Next()
			select {
			case fragments <- fragment{text: text, err: err}:
			case <-upstreamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		<-readerDone
		src.Close()
	}()

	return r.pump(ctx, s, fragments)
}

func (r *Relay) pump(ctx context.Context, s *stream, fragments <-chan fragment) Outcome {
	var idle <-chan time.Time
	var timer *time.Timer
	if r.keepAlive > 0 {
		timer = time.NewTimer(r.keepAlive)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(false)
			return Outcome{Status: StatusClientGone, Err: ctx.Err()}

		case <-idle:
			if err := s.write(keepAliveFrame); err != nil {
				s.finish(false)
				return Outcome{Status: StatusClientGone, Err: err}
			}
			timer.Reset(r.keepAlive)

		case f := <-fragments:
			switch {
			case errors.Is(f.err, io.EOF):
				s.finish(false)
				if s.writeErr != nil {
					return Outcome{Status: StatusClientGone, Err: s.writeErr}
				}
				return Outcome{Status: StatusCompleted}
			case f.err != nil:
				if ctx.Err() != nil {
					s.finish(false)
					return Outcome{Status: StatusClientGone, Err: ctx.Err()}
				}
				r.logger.WarnContext(ctx, "upstream stream failed",
					"fragments", s.fragments,
					"error", f.err,
				)
				s.finish(true)
				return Outcome{Status: StatusUpstreamFailed, Err: f.err}
			}

			frame, err := EncodeFrame(Frame{Content: f.text})
			if err != nil {
				s.finish(true)
				return Outcome{Status: StatusUpstreamFailed, Err: err}
			}
			if err := s.write(frame); err != nil {
				s.finish(false)
				return Outcome{Status: StatusClientGone, Err: err}
			}
			s.text.WriteString(f.text)
			s.fragments++
			metrics.FragmentsRelayed.Inc()
			if timer != nil {
				timer.Reset(r.keepAlive)
			}
		}
	}
}
