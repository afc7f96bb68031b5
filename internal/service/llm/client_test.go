package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"dietchat/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingModel struct {
	chunks    []string
	failAfter int
	openErr   error
	reply     string
	input     []*schema.Message
	opts      *model.Options
}

func (m *recordingModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	m.opts = model.GetCommonOptions(nil, opts...)
	if m.openErr != nil {
		return nil, m.openErr
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *recordingModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	m.opts = model.GetCommonOptions(nil, opts...)
	if m.openErr != nil {
		return nil, m.openErr
	}
	sr, sw := schema.Pipe[*schema.Message](len(m.chunks) + 1)
	go func() {
		defer sw.Close()
		for i, chunk := range m.chunks {
			if m.failAfter > 0 && i == m.failAfter {
				sw.Send(nil, errors.New("connection reset"))
				return
			}
			sw.Send(schema.AssistantMessage(chunk, nil), nil)
		}
	}()
	return sr, nil
}

func drain(t *testing.T, s *FragmentStream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		frag, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, frag)
	}
}

func TestStreamYieldsNonEmptyFragmentsInOrder(t *testing.T) {
	fake := &recordingModel{chunks: []string{"Eat ", "", "more ", "greens."}}
	client := NewClient(fake, ChatOptions)

	stream, err := client.Stream(context.Background(), Request{
		Messages:      []models.Message{{Role: models.RoleUser, Content: "what should I eat?"}},
		SearchContext: "Spinach is rich in iron.",
	})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := drain(t, stream)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Eat ", "more ", "greens."}, frags)

	// Not restartable.
	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
	stream.Close()
	stream.Close()
	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrStreamClosed)

	require.Len(t, fake.input, 2)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, 1, strings.Count(fake.input[0].Content, "RELEVANT WEB INFORMATION"))
	assert.True(t, strings.HasSuffix(fake.input[0].Content,
		"RELEVANT WEB INFORMATION (use this to enhance your response):\nSpinach is rich in iron."))
	assert.Equal(t, schema.User, fake.input[1].Role)

	require.NotNil(t, fake.opts.Temperature)
	assert.InDelta(t, 0.7, *fake.opts.Temperature, 1e-6)
	require.NotNil(t, fake.opts.MaxTokens)
	assert.Equal(t, 1500, *fake.opts.MaxTokens)
}

func TestStreamFailureMidway(t *testing.T) {
	fake := &recordingModel{chunks: []string{"a", "b", "c"}, failAfter: 2}
	stream, err := NewClient(fake, ChatOptions).Stream(context.Background(), Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	frags, err := drain(t, stream)
	assert.Equal(t, []string{"a", "b"}, frags)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "recv", upstream.Op)
}

func TestStreamOpenFailure(t *testing.T) {
	fake := &recordingModel{openErr: errors.New("401 unauthorized")}
	_, err := NewClient(fake, ChatOptions).Stream(context.Background(), Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "stream", upstream.Op)
	assert.True(t, strings.Contains(err.Error(), "401"))
}

func TestGenerateUsesExtractOptions(t *testing.T) {
	fake := &recordingModel{reply: `{"type":"questions"}`}
	out, err := NewClient(fake, ExtractOptions).Generate(context.Background(), "system", []models.Message{
		{Role: models.RoleUser, Content: "analyze"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"questions"}`, out)
	require.NotNil(t, fake.opts.Temperature)
	assert.InDelta(t, 0.1, *fake.opts.Temperature, 1e-6)
	assert.Nil(t, fake.opts.TopP)
}

func TestBuildMessagesKeepsRoles(t *testing.T) {
	msgs := BuildMessages("", []models.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, schema.Assistant, msgs[1].Role)
}

func TestSystemInstructionWithoutSearch(t *testing.T) {
	assert.NotContains(t, SystemInstruction("  "), "RELEVANT WEB INFORMATION")
}
