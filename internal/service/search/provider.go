package search

import (
	"context"
	"fmt"
	"net/http"

	"dietchat/internal/config"
)

// NewProvider builds the configured provider. "none" yields a nil provider,
// which disables augmentation.
func NewProvider(ctx context.Context, cfg config.SearchConfig, client *http.Client) (Provider, error) {
	switch cfg.Provider {
	case "", "instant":
		if client == nil {
			client = &http.Client{Timeout: cfg.Timeout}
		}
		return NewInstantAnswer(client, cfg.Endpoint, cfg.UserAgent), nil
	case "ddg":
		p, err := NewDuckDuckGo(ctx, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "google":
		p, err := NewGoogle(ctx, cfg.GoogleAPIKey, cfg.GoogleEngineID)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}
}
