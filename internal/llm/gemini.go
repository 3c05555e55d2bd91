package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/opictutor/opictutor/internal/llm/prompts"
)

const defaultGeminiModel = "gemini-1.5-flash"

// Gemini produces advice through the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini provider needs an API key")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: client.GenerativeModel(modelName), name: modelName}, nil
}

func (g *Gemini) Advise(ctx context.Context, question, answer string) (string, error) {
	prompt, err := prompts.BuildAdvicePrompt(question, answer)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini API call: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoContent
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", ErrNoContent
	}
	slog.Debug("gemini response", "model", g.name, "length", sb.Len())
	return sb.String(), nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
