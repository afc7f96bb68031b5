// Package client talks to the chat API from Go: it consumes the event
// stream of a reply and drives the question, form and plan loop.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"dietchat/internal/relay"
)

// MaxLineSize bounds one line of the event stream.
const MaxLineSize = 1 << 20

// ErrEmptyResponse is returned when a stream ends without any reply text.
var ErrEmptyResponse = errors.New("empty response")

// StreamResult is what one consumed stream produced.
type StreamResult struct {
	Text      string
	Fragments int
	// Terminated is set when the done sentinel was seen, as opposed to the
	// transport simply closing.
	Terminated bool
	// Errored is set when the server reported a generation failure; Notice
	// carries its user-facing text, which is not part of Text.
	Errored bool
	Notice  string
}

// Consume reads frames from r until the done sentinel or EOF. onUpdate, if
// set, receives the whole reply so far after every fragment. Payloads that
// are not valid frames are skipped.
func Consume(ctx context.Context, r io.Reader, onUpdate func(text string)) (StreamResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	var (
		res  StreamResult
		text strings.Builder
		data []string
	)
	// dispatch handles one complete frame and reports whether it was the
	// sentinel.
	dispatch := func() bool {
		if len(data) == 0 {
			return false
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		if payload == relay.DoneSentinel {
			return true
		}
		var frame relay.Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return false
		}
		if frame.Error {
			res.Errored = true
			res.Notice = frame.Content
			return false
		}
		if frame.Content == "" {
			return false
		}
		text.WriteString(frame.Content)
		res.Fragments++
		if onUpdate != nil {
			onUpdate(text.String())
		}
		return false
	}

read:
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			res.Text = text.String()
			return res, err
		}
		line := scanner.Text()
		switch {
		case line == "":
			if dispatch() {
				res.Terminated = true
				break read
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		res.Text = text.String()
		return res, fmt.Errorf("read stream: %w", err)
	}
	if !res.Terminated && dispatch() {
		res.Terminated = true
	}

	res.Text = text.String()
	if res.Text == "" {
		return res, ErrEmptyResponse
	}
	return res, nil
}
