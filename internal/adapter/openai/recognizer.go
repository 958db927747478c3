package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"docqa/internal/media"
)

const DefaultWhisperModel = openai.Whisper1

var _ media.SpeechRecognizer = (*Recognizer)(nil)

// Recognizer transcribes audio through the OpenAI audio API or any server
// that speaks it, such as a self-hosted whisper.
type Recognizer struct {
	client *openai.Client
	model  string
}

func NewRecognizer(apiKey, baseURL, model string) *Recognizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultWhisperModel
	}
	return &Recognizer{client: openai.NewClientWithConfig(cfg), model: model}
}

func (r *Recognizer) Recognize(ctx context.Context, audioPath string) (*media.Recognition, error) {
	slog.DebugContext(ctx, "transcribing audio", "model", r.model, "path", audioPath)

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", err)
	}

	rec := &media.Recognition{
		Text:     resp.Text,
		Language: resp.Language,
		Segments: make([]media.Segment, len(resp.Segments)),
	}
	for i, s := range resp.Segments {
		rec.Segments[i] = media.Segment{Start: s.Start, End: s.End, Text: s.Text}
	}
	return rec, nil
}
