// Package llm streams completions from the configured chat model provider.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"dietchat/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Options are the sampling parameters sent with every call of a Client.
type Options struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// ChatOptions are used for conversational replies.
var ChatOptions = Options{Temperature: 0.7, TopP: 0.9, MaxTokens: 1500}

// ExtractOptions are used for the structured form extraction call.
var ExtractOptions = Options{Temperature: 0.1, MaxTokens: 1024}

// Request is one generation request: the ordered conversation and the
// optional search context folded into the system instruction.
type Request struct {
	Messages      []models.Message
	SearchContext string
}

// Client wraps an eino chat model.
type Client struct {
	model model.BaseChatModel
	opts  Options
}

func NewClient(chatModel model.BaseChatModel, opts Options) *Client {
	return &Client{model: chatModel, opts: opts}
}

func (c *Client) callOptions() []model.Option {
	var opts []model.Option
	if c.opts.Temperature > 0 {
		opts = append(opts, model.WithTemperature(c.opts.Temperature))
	}
	if c.opts.TopP > 0 {
		opts = append(opts, model.WithTopP(c.opts.TopP))
	}
	if c.opts.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.opts.MaxTokens))
	}
	return opts
}

// Stream opens a streaming completion. The returned stream must be closed.
// Cancelling ctx aborts the in-flight provider call.
func (c *Client) Stream(ctx context.Context, req Request) (*FragmentStream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}
	msgs := BuildMessages(SystemInstruction(req.SearchContext), req.Messages)
	reader, err := c.model.Stream(ctx, msgs, c.callOptions()...)
	if err != nil {
		return nil, &UpstreamError{Op: "stream", Err: err}
	}
	return NewFragmentStream(reader), nil
}

// Generate performs a single non-streaming completion and returns its text.
func (c *Client) Generate(ctx context.Context, system string, messages []models.Message) (string, error) {
	msg, err := c.model.Generate(ctx, BuildMessages(system, messages), c.callOptions()...)
	if err != nil {
		return "", &UpstreamError{Op: "generate", Err: err}
	}
	if msg == nil {
		return "", &UpstreamError{Op: "generate", Err: errors.New("empty response")}
	}
	return msg.Content, nil
}

// BuildMessages converts conversation turns into eino messages behind a
// system instruction.
func BuildMessages(system string, messages []models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, schema.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}

// FragmentStream yields the text deltas of one completion, in order, once.
type FragmentStream struct {
	reader *schema.StreamReader[*schema.Message]
	mu     sync.Mutex
	done   bool
	closed bool
}

func NewFragmentStream(reader *schema.StreamReader[*schema.Message]) *FragmentStream {
	return &FragmentStream{reader: reader}
}

// Next blocks for the next non-empty fragment. It returns io.EOF when the
// completion ended normally and an *UpstreamError when it did not.
func (s *FragmentStream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.done {
		return "", io.EOF
	}
	for {
		msg, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			return "", &UpstreamError{Op: "recv", Err: err}
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		return msg.Content, nil
	}
}

// Close releases the provider stream. It is safe to call more than once.
func (s *FragmentStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reader.Close()
}
