package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"dietchat/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// NewChatModel builds the eino chat model for the configured provider.
// modelName overrides cfg.Model so the extractor can use a different model.
func NewChatModel(ctx context.Context, cfg config.ProviderConfig, modelName string, httpClient *http.Client) (model.BaseChatModel, error) {
	if modelName == "" {
		modelName = cfg.Model
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key for provider %s not configured", cfg.Name)
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch strings.ToLower(cfg.Name) {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:    cfg.BaseURL,
			Model:      modelName,
			APIKey:     cfg.APIKey,
			HTTPClient: httpClient,
		})
	case "gemini":
		client, clientErr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: httpClient,
		})
		if clientErr != nil {
			return nil, fmt.Errorf("gemini client: %w", clientErr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURL := cfg.BaseURL
			baseURLPtr = &baseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:     cfg.APIKey,
			Model:      modelName,
			BaseURL:    baseURLPtr,
			MaxTokens:  ChatOptions.MaxTokens,
			HTTPClient: httpClient,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Name, err)
	}
	return chatModel, nil
}
