package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/tidwall/gjson"
)

// ToolProvider adapts an eino search tool to Provider.
type ToolProvider struct {
	name string
	tool tool.InvokableTool
}

func NewToolProvider(name string, t tool.InvokableTool) *ToolProvider {
	return &ToolProvider{name: name, tool: t}
}

// NewDuckDuckGo builds the DuckDuckGo text search tool provider.
func NewDuckDuckGo(ctx context.Context, timeout time.Duration) (*ToolProvider, error) {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "diet_search_ddg",
		ToolDesc:   "DuckDuckGo text search for nutrition context",
		MaxResults: maxRelatedTopics,
		Region:     duckduckgo.RegionWT,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo tool: %w", err)
	}
	return NewToolProvider("ddg", duckTool), nil
}

// NewGoogle builds the Google custom search tool provider.
func NewGoogle(ctx context.Context, apiKey, engineID string) (*ToolProvider, error) {
	if apiKey == "" || engineID == "" {
		return nil, errors.New("google search needs an api key and a search engine id")
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "diet_search_google",
		ToolDesc:       "Google search for nutrition context",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            maxRelatedTopics,
	})
	if err != nil {
		return nil, fmt.Errorf("google search tool: %w", err)
	}
	return NewToolProvider("google", googleTool), nil
}

func (p *ToolProvider) Name() string { return p.name }

func (p *ToolProvider) Search(ctx context.Context, query string) (SnippetSet, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return SnippetSet{}, fmt.Errorf("marshal search params: %w", err)
	}
	out, err := p.tool.InvokableRun(ctx, string(payload))
	if err != nil {
		return SnippetSet{}, fmt.Errorf("%s search: %w", p.name, err)
	}
	return ParseToolResults(out)
}

// ParseToolResults reads the JSON emitted by the eino search tools. Both
// tools return a list of results under "results" or "items"; each entry
// contributes its summary, falling back to the snippet, description or title.
func ParseToolResults(out string) (SnippetSet, error) {
	if !gjson.Valid(out) {
		return SnippetSet{}, ErrMalformedPayload
	}
	doc := gjson.Parse(out)
	var results []gjson.Result
	switch {
	case doc.IsArray():
		results = doc.Array()
	case doc.Get("results").IsArray():
		results = doc.Get("results").Array()
	case doc.Get("items").IsArray():
		results = doc.Get("items").Array()
	default:
		return SnippetSet{}, ErrMalformedPayload
	}

	var set SnippetSet
	for _, r := range results {
		if len(set.Snippets) == maxRelatedTopics {
			break
		}
		for _, field := range []string{"summary", "snippet", "desc", "title"} {
			if v := r.Get(field); v.Type == gjson.String && v.String() != "" {
				set.add(v.String())
				break
			}
		}
	}
	return set, nil
}
