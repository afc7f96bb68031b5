package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

const (
	DefaultInstantEndpoint = "https://api.duckduckgo.com/"
	maxRelatedTopics       = 3
	maxInstantBody         = 1 << 20
)

var ErrMalformedPayload = errors.New("malformed search payload")

// InstantAnswer queries the DuckDuckGo instant-answer API.
type InstantAnswer struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

func NewInstantAnswer(client *http.Client, endpoint, userAgent string) *InstantAnswer {
	if endpoint == "" {
		endpoint = DefaultInstantEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &InstantAnswer{client: client, endpoint: endpoint, userAgent: userAgent}
}

func (p *InstantAnswer) Name() string { return "instant" }

func (p *InstantAnswer) Search(ctx context.Context, query string) (SnippetSet, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return SnippetSet{}, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return SnippetSet{}, fmt.Errorf("build request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return SnippetSet{}, fmt.Errorf("instant answer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SnippetSet{}, fmt.Errorf("instant answer status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInstantBody))
	if err != nil {
		return SnippetSet{}, fmt.Errorf("read instant answer: %w", err)
	}
	return ParseInstantAnswer(body)
}

// ParseInstantAnswer extracts AbstractText, Answer and the first related
// topics, in that order.
func ParseInstantAnswer(body []byte) (SnippetSet, error) {
	if !gjson.ValidBytes(body) {
		return SnippetSet{}, ErrMalformedPayload
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return SnippetSet{}, ErrMalformedPayload
	}
	var set SnippetSet
	for _, field := range []string{"AbstractText", "Answer"} {
		if v := doc.Get(field); v.Type == gjson.String {
			set.add(v.String())
		}
	}
	topics := doc.Get("RelatedTopics").Array()
	if len(topics) > maxRelatedTopics {
		topics = topics[:maxRelatedTopics]
	}
	for _, topic := range topics {
		if v := topic.Get("Text"); v.Type == gjson.String {
			set.add(v.String())
		}
	}
	return set, nil
}
