package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const DefaultGenerationModel = "gemini-1.5-flash"

type Generator struct {
	lazyClient
	model       string
	temperature float32
}

func NewGenerator(apiKey, model string, opts ...option.ClientOption) *Generator {
	if model == "" {
		model = DefaultGenerationModel
	}
	return &Generator{lazyClient: lazyClient{apiKey: apiKey, opts: opts}, model: model, temperature: 0.3}
}

func (g *Generator) generativeModel(ctx context.Context) (*genai.GenerativeModel, error) {
	client, err := g.get(ctx)
	if err != nil {
		return nil, err
	}
	m := client.GenerativeModel(g.model)
	m.SetTemperature(g.temperature)
	return m, nil
}

// Generate returns the model's full answer to prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	m, err := g.generativeModel(ctx)
	if err != nil {
		return "", err
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "model", g.model, "error", err)
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp), nil
}

// GenerateStream calls onChunk with each piece of the answer as it arrives.
// An error from onChunk stops the stream.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, onChunk func(string) error) error {
	m, err := g.generativeModel(ctx)
	if err != nil {
		return err
	}

	iter := m.GenerateContentStream(ctx, genai.Text(prompt))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			slog.ErrorContext(ctx, "generation stream failed", "model", g.model, "error", err)
			return fmt.Errorf("generate content stream: %w", err)
		}
		if text := responseText(resp); text != "" {
			if err := onChunk(text); err != nil {
				return err
			}
		}
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
