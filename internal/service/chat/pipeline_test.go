package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dietchat/internal/config"
	"dietchat/internal/models"
	"dietchat/internal/relay"
	"dietchat/internal/service/classify"
	"dietchat/internal/service/conversation"
	"dietchat/internal/service/llm"
	"dietchat/internal/service/search"
	"dietchat/internal/storage"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	mu        sync.Mutex
	chunks    []string
	failAfter int
	hang      bool
	input     []*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.input = input
	m.mu.Unlock()
	sr, sw := schema.Pipe[*schema.Message](len(m.chunks) + 1)
	go func() {
		defer sw.Close()
		for i, chunk := range m.chunks {
			if m.failAfter > 0 && i == m.failAfter {
				sw.Send(nil, errors.New("upstream reset"))
				return
			}
			sw.Send(schema.AssistantMessage(chunk, nil), nil)
		}
		if m.hang {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
		}
	}()
	return sr, nil
}

func (m *scriptedModel) systemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.input) == 0 || m.input[0].Role != schema.System {
		return ""
	}
	return m.input[0].Content
}

type countingProvider struct {
	mu      sync.Mutex
	queries []string
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Search(ctx context.Context, query string) (search.SnippetSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, query)
	return search.SnippetSet{Snippets: []string{"Greek yogurt has about 10g protein per 100g."}}, nil
}

type captureTransport struct {
	mu     sync.Mutex
	frames []string
}

func (c *captureTransport) WriteFrame(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(p))
	return nil
}

func (c *captureTransport) Close() error { return nil }

// relayed returns the concatenated content frames and whether an error
// notice was sent.
func (c *captureTransport) relayed(t *testing.T) (string, bool) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var text strings.Builder
	errored := false
	for _, f := range c.frames {
		payload := strings.TrimSuffix(strings.TrimPrefix(f, "data: "), "\n\n")
		if payload == relay.DoneSentinel || strings.HasPrefix(f, ":") {
			continue
		}
		var frame relay.Frame
		require.NoError(t, json.Unmarshal([]byte(payload), &frame))
		if frame.Error {
			errored = true
			continue
		}
		text.WriteString(frame.Content)
	}
	return text.String(), errored
}

type fixture struct {
	db       *sql.DB
	store    *conversation.Store
	model    *scriptedModel
	provider *countingProvider
	pipeline *Pipeline
	userID   int64
}

func newFixture(t *testing.T, m *scriptedModel, policy conversation.OwnershipPolicy) *fixture {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db,
		store:    conversation.NewStore(db, policy, nil),
		model:    m,
		provider: &countingProvider{},
	}
	f.userID = f.addUser(t, "alice")
	f.pipeline = NewPipeline(
		f.store,
		search.NewAugmenter(f.provider),
		llm.NewClient(m, llm.ChatOptions),
		relay.New(0, nil),
		Options{PersistTimeout: time.Second},
	)
	return f
}

func (f *fixture) addUser(t *testing.T, name string) int64 {
	t.Helper()
	res, err := f.db.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES (?, '', ?)`, name, time.Now().UTC())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func (f *fixture) turns(t *testing.T, sessionID string) []models.Turn {
	t.Helper()
	_, turns, err := f.store.GetSessionWithTurns(context.Background(), f.userID, sessionID)
	require.NoError(t, err)
	return turns
}

func TestPipelinePersistsExactlyWhatWasRelayed(t *testing.T) {
	f := newFixture(t, &scriptedModel{chunks: []string{"Try ", "Greek yogurt", " with berries."}}, conversation.PolicyFork)
	ctx := context.Background()

	prepared, err := f.pipeline.Prepare(ctx, f.userID, Request{
		Messages: []models.Message{userMsg("high protein breakfast ideas")},
	})
	require.NoError(t, err)
	assert.Equal(t, conversation.ResolutionCreated, prepared.Resolution)
	assert.Equal(t, "high protein breakfast ideas", prepared.Session.Title)
	require.NotNil(t, prepared.UserTurn)

	tr := &captureTransport{}
	result := f.pipeline.Stream(ctx, prepared, tr)

	assert.Equal(t, relay.StatusCompleted, result.Outcome.Status)
	assert.True(t, result.Searched)
	assert.Equal(t, classify.KindFreeform, result.Kind)

	relayed, errored := tr.relayed(t)
	assert.False(t, errored)
	assert.Equal(t, "Try Greek yogurt with berries.", relayed)
	require.NotNil(t, result.Assistant)
	assert.Equal(t, relayed, result.Assistant.Content)

	turns := f.turns(t, prepared.Session.ID)
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, relayed, turns[1].Content)

	require.Len(t, f.provider.queries, 1)
	assert.Equal(t, "high protein breakfast ideas nutrition benefits foods", f.provider.queries[0])
	prompt := f.model.systemPrompt()
	assert.Equal(t, 1, strings.Count(prompt, "RELEVANT WEB INFORMATION"), prompt)
	assert.Contains(t, prompt, "enhance your response):\nGreek yogurt has about 10g protein")
}

func TestPipelineSkipsSearch(t *testing.T) {
	off := false
	tests := []struct {
		name string
		req  Request
	}{
		{"no trigger keyword", Request{Messages: []models.Message{userMsg("hello")}}},
		{"search disabled", Request{Messages: []models.Message{userMsg("high protein breakfast ideas")}, EnableSearch: &off}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &scriptedModel{chunks: []string{"Hi!"}}, conversation.PolicyFork)
			prepared, err := f.pipeline.Prepare(context.Background(), f.userID, tt.req)
			require.NoError(t, err)

			result := f.pipeline.Stream(context.Background(), prepared, &captureTransport{})
			assert.False(t, result.Searched)
			assert.Empty(t, f.provider.queries)
			assert.NotContains(t, f.model.systemPrompt(), "RELEVANT WEB INFORMATION")
		})
	}
}

func TestPipelineUpstreamFailureKeepsPartialReply(t *testing.T) {
	f := newFixture(t, &scriptedModel{chunks: []string{"Start with ", "oats", " and"}, failAfter: 2}, conversation.PolicyFork)
	ctx := context.Background()
	prepared, err := f.pipeline.Prepare(ctx, f.userID, Request{Messages: []models.Message{userMsg("hello")}})
	require.NoError(t, err)

	tr := &captureTransport{}
	result := f.pipeline.Stream(ctx, prepared, tr)
	assert.Equal(t, relay.StatusUpstreamFailed, result.Outcome.Status)

	relayed, errored := tr.relayed(t)
	assert.True(t, errored)
	assert.Equal(t, "Start with oats", relayed)

	turns := f.turns(t, prepared.Session.ID)
	require.Len(t, turns, 2)
	assert.Equal(t, "Start with oats", turns[1].Content)
	assert.NotContains(t, turns[1].Content, relay.ErrorNotice)
}

func TestPipelineClientGoneSkipsAssistantTurn(t *testing.T) {
	f := newFixture(t, &scriptedModel{chunks: []string{"Partial"}, hang: true}, conversation.PolicyFork)
	prepared, err := f.pipeline.Prepare(context.Background(), f.userID, Request{Messages: []models.Message{userMsg("hello")}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := f.pipeline.Stream(ctx, prepared, &captureTransport{})

	assert.Equal(t, relay.StatusClientGone, result.Outcome.Status)
	assert.Nil(t, result.Assistant)
	turns := f.turns(t, prepared.Session.ID)
	require.Len(t, turns, 1)
	assert.Equal(t, models.RoleUser, turns[0].Role)
}

func TestPrepareResumesAndOnlyPersistsTrailingUserTurn(t *testing.T) {
	f := newFixture(t, &scriptedModel{}, conversation.PolicyFork)
	ctx := context.Background()

	first, err := f.pipeline.Prepare(ctx, f.userID, Request{Messages: []models.Message{userMsg("I want to gain muscle")}})
	require.NoError(t, err)

	resumed, err := f.pipeline.Prepare(ctx, f.userID, Request{
		ChatID: first.Session.ID,
		Messages: []models.Message{
			userMsg("I want to gain muscle"),
			{Role: models.RoleAssistant, Content: "How much do you weigh?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, conversation.ResolutionResumed, resumed.Resolution)
	assert.Equal(t, first.Session.ID, resumed.Session.ID)
	assert.Nil(t, resumed.UserTurn)
	assert.Len(t, f.turns(t, first.Session.ID), 1)
}

func TestPrepareForeignChat(t *testing.T) {
	ctx := context.Background()
	req := func(chatID string) Request {
		return Request{ChatID: chatID, Messages: []models.Message{userMsg("hello")}}
	}

	t.Run("fork", func(t *testing.T) {
		f := newFixture(t, &scriptedModel{}, conversation.PolicyFork)
		owned, err := f.pipeline.Prepare(ctx, f.userID, req(""))
		require.NoError(t, err)

		intruder := f.addUser(t, "mallory")
		forked, err := f.pipeline.Prepare(ctx, intruder, req(owned.Session.ID))
		require.NoError(t, err)
		assert.Equal(t, conversation.ResolutionForked, forked.Resolution)
		assert.NotEqual(t, owned.Session.ID, forked.Session.ID)
		assert.Len(t, f.turns(t, owned.Session.ID), 1)
	})

	t.Run("reject", func(t *testing.T) {
		f := newFixture(t, &scriptedModel{}, conversation.PolicyReject)
		owned, err := f.pipeline.Prepare(ctx, f.userID, req(""))
		require.NoError(t, err)

		intruder := f.addUser(t, "mallory")
		_, err = f.pipeline.Prepare(ctx, intruder, req(owned.Session.ID))
		var authErr *conversation.AuthorizationError
		assert.True(t, errors.As(err, &authErr))
	})
}

func TestPrepareRejectsInvalidRequestBeforeTouchingStore(t *testing.T) {
	f := newFixture(t, &scriptedModel{}, conversation.PolicyFork)
	_, err := f.pipeline.Prepare(context.Background(), f.userID, Request{Messages: []models.Message{userMsg("  ")}})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	var sessions int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions))
	assert.Zero(t, sessions)
}
