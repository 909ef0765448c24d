// Package provider adapts the OpenAI and Anthropic streaming SDKs to the
// ChatClient boundary consumed by the agentic core.
package provider

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/OrionStarAI/DeepVCode-sub011/internal/ai"
	"github.com/OrionStarAI/DeepVCode-sub011/internal/config"
)

const defaultMaxOutputTokens = 8192

// New builds a streaming ChatClient for a configured provider entry. The API
// key is read from the entry's environment variable.
func New(p config.Provider) (ai.ChatClient, error) {
	apiKeyEnv := strings.TrimSpace(p.APIKeyEnv)
	if apiKeyEnv == "" {
		return nil, fmt.Errorf("provider %q: missing api key environment variable name", p.Name)
	}
	apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv))
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q: %s is not set", p.Name, apiKeyEnv)
	}
	return newClient(p.Type, p.BaseURL, apiKey)
}

func newClient(providerType string, baseURL string, apiKey string) (ai.ChatClient, error) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing provider api key")
	}
	switch providerType {
	case "openai", "openai_compatible":
		opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
		if strings.TrimSpace(baseURL) != "" {
			opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
		}
		return &openAIClient{client: openai.NewClient(opts...)}, nil
	case "anthropic":
		opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(apiKey))}
		if strings.TrimSpace(baseURL) != "" {
			opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(baseURL)))
		}
		return &anthropicClient{client: anthropic.NewClient(opts...)}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", providerType)
	}
}
