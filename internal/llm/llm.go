package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opictutor/opictutor/internal/llm/prompts"

	openai "github.com/sashabaranov/go-openai"
)

// Supported provider names.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
)

// Advisor returns tutoring advice for a student's answer to a question.
type Advisor interface {
	Advise(ctx context.Context, question, answer string) (string, error)
}

// Config selects and configures an advice provider.
type Config struct {
	Provider string

	// OpenAI-compatible endpoint.
	BaseURL string
	APIKey  string
	Model   string

	// Azure OpenAI.
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string
	AzureAPIKey     string

	GeminiAPIKey string
}

// ErrNoContent is returned when the provider answers without any text.
var ErrNoContent = errors.New("llm returned no content")

// New builds the Advisor for cfg.Provider. An empty provider means openai.
func New(ctx context.Context, cfg Config) (Advisor, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("openai provider needs an API key or a base URL")
		}
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case ProviderAzure:
		c, err := NewAzure(cfg.AzureEndpoint, cfg.AzureDeployment, cfg.AzureAPIVersion, cfg.AzureAPIKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Client wraps an OpenAI-compatible chat completion API.
type Client struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a client for OpenAI or any compatible server.
func NewOpenAI(baseURL, apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// NewAzure creates a client for an Azure OpenAI deployment.
func NewAzure(endpoint, deployment, apiVersion, apiKey string) (*Client, error) {
	if endpoint == "" || deployment == "" || apiKey == "" {
		return nil, errors.New("azure provider needs endpoint, deployment and API key")
	}
	config := openai.DefaultAzureConfig(apiKey, endpoint)
	if apiVersion != "" {
		config.APIVersion = apiVersion
	}
	config.AzureModelMapperFunc = func(string) string { return deployment }
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: deployment,
	}, nil
}

// Advise sends the advice prompt as a single user message and returns the
// first choice's content. Provider errors are returned as is; there are no
// retries.
func (c *Client) Advise(ctx context.Context, question, answer string) (string, error) {
	prompt, err := prompts.BuildAdvicePrompt(question, answer)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoContent
	}

	content := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", c.model, "length", len(content))
	return content, nil
}
