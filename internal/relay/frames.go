package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DoneSentinel is the payload of the terminal frame.
const DoneSentinel = "[DONE]"

// ErrorNotice is sent to the client when generation fails mid-stream.
const ErrorNotice = "⚠️ Error generating response. Please try again."

// Frame is the JSON payload of one data event.
type Frame struct {
	Content string `json:"content"`
	Error   bool   `json:"error,omitempty"`
}

var (
	doneFrame      = []byte("data: " + DoneSentinel + "\n\n")
	keepAliveFrame = []byte(": ping\n\n")
)

// EncodeFrame renders f as a single SSE data event.
func EncodeFrame(f Frame) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n'), nil
}

// SetHeaders prepares a response for event streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
}
