package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dietchat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSearch(t *testing.T) {
	query, ok := ShouldSearch("high protein breakfast ideas")
	assert.True(t, ok)
	assert.Equal(t, "high protein breakfast ideas nutrition benefits foods", query)

	_, ok = ShouldSearch("hello")
	assert.False(t, ok)

	// Long enough but off-topic.
	_, ok = ShouldSearch("what is the capital of france")
	assert.False(t, ok)

	// On-topic but too short.
	_, ok = ShouldSearch("diet tips")
	assert.False(t, ok)

	_, ok = ShouldSearch("Any TIPS for Glowing skin please")
	assert.True(t, ok)
}

func TestSnippetTextTruncates(t *testing.T) {
	set := SnippetSet{Snippets: []string{strings.Repeat("a", 1000), strings.Repeat("b", 1000)}}
	text := set.Text()
	assert.Len(t, []rune(text), MaxContextChars)
	assert.True(t, strings.HasPrefix(text, strings.Repeat("a", 1000)+"\nb"))

	assert.Equal(t, "", SnippetSet{}.Text())
}

const instantPayload = `{
	"AbstractText": "Protein is a macronutrient.",
	"Answer": "",
	"RelatedTopics": [
		{"Text": "Eggs are high in protein."},
		{"Name": "Category", "Topics": []},
		{"Text": "Greek yogurt has protein."},
		{"Text": "Ignored: fourth topic."}
	]
}`

func TestParseInstantAnswer(t *testing.T) {
	set, err := ParseInstantAnswer([]byte(instantPayload))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Protein is a macronutrient.",
		"Eggs are high in protein.",
		"Greek yogurt has protein.",
	}, set.Snippets)

	_, err = ParseInstantAnswer([]byte("<html>"))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	_, err = ParseInstantAnswer([]byte(`"just a string"`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	set, err = ParseInstantAnswer([]byte(`{"Answer": {"unexpected": true}}`))
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestInstantAnswerRequest(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("no_html"))
		assert.Equal(t, "1", r.URL.Query().Get("skip_disambig"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(instantPayload))
	}))
	defer srv.Close()

	p := NewInstantAnswer(srv.Client(), srv.URL, "DietPlanApp/1.0")
	set, err := p.Search(context.Background(), "protein foods")
	require.NoError(t, err)
	assert.Len(t, set.Snippets, 3)
	assert.Equal(t, "protein foods", gotQuery)
	assert.Equal(t, "DietPlanApp/1.0", gotUA)
}

func TestInstantAnswerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "broken" {
			_, _ = w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewInstantAnswer(srv.Client(), srv.URL, "")
	_, err := p.Search(context.Background(), "x")
	assert.Error(t, err)
	_, err = p.Search(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseToolResults(t *testing.T) {
	set, err := ParseToolResults(`{"results":[{"title":"T1","summary":"S1"},{"title":"T2"},{"title":"T3","desc":"D3"},{"summary":"S4"}]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "T2", "D3"}, set.Snippets)

	set, err = ParseToolResults(`{"items":[{"snippet":"G1"}]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"G1"}, set.Snippets)

	_, err = ParseToolResults(`{"message":"no results"}`)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	set   SnippetSet
	err   error
	block bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, query string) (SnippetSet, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return SnippetSet{}, ctx.Err()
	}
	return f.set, f.err
}

type memoryCache struct {
	data map[string]SnippetSet
}

func (m *memoryCache) Load(_ context.Context, q string) (SnippetSet, bool) {
	s, ok := m.data[q]
	return s, ok
}

func (m *memoryCache) Store(_ context.Context, q string, s SnippetSet) {
	m.data[q] = s
}

func TestAugmenterContext(t *testing.T) {
	provider := &fakeProvider{set: SnippetSet{Snippets: []string{"Eggs are high in protein."}}}
	cache := &memoryCache{data: map[string]SnippetSet{}}
	a := NewAugmenter(provider, WithCache(cache))

	block := a.Context(context.Background(), "high protein breakfast ideas")
	// The prompt header is added by the model client, not here.
	assert.Equal(t, "Eggs are high in protein.", block)
	assert.Equal(t, 1, provider.calls)

	// Second lookup is served from the cache.
	assert.Equal(t, block, a.Context(context.Background(), "high protein breakfast ideas"))
	assert.Equal(t, 1, provider.calls)

	assert.Equal(t, "", a.Context(context.Background(), "hello"))
	assert.Equal(t, 1, provider.calls)
}

func TestAugmenterDegradesOnFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("dns failure")}
	a := NewAugmenter(provider)
	assert.Equal(t, "", a.Context(context.Background(), "best foods for thyroid health"))
	assert.Equal(t, 1, provider.calls)

	slow := &fakeProvider{block: true}
	a = NewAugmenter(slow, WithTimeout(20*time.Millisecond))
	start := time.Now()
	assert.Equal(t, "", a.Context(context.Background(), "best foods for thyroid health"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNilAugmenterIsDisabled(t *testing.T) {
	var a *Augmenter
	assert.Equal(t, "", a.Context(context.Background(), "high protein breakfast ideas"))
	assert.Equal(t, "", NewAugmenter(nil).Context(context.Background(), "high protein breakfast ideas"))
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, config.SearchConfig{Provider: "instant", Timeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, "instant", p.Name())

	p, err = NewProvider(ctx, config.SearchConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, NewAugmenter(p).Enabled())

	_, err = NewProvider(ctx, config.SearchConfig{Provider: "google"}, nil)
	assert.Error(t, err, "google needs credentials")

	_, err = NewProvider(ctx, config.SearchConfig{Provider: "bing"}, nil)
	assert.Error(t, err)
}
