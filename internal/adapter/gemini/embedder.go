package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docqa/internal/vector"
)

const (
	DefaultEmbeddingModel = "text-embedding-004"
	maxBatchSize          = 100
)

// Embedder maps text to unit-length vectors. It is safe for concurrent use.
type Embedder struct {
	lazyClient
	model string
}

func NewEmbedder(apiKey, model string, opts ...option.ClientOption) *Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{lazyClient: lazyClient{apiKey: apiKey, opts: opts}, model: model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.get(ctx)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return vector.Normalize(res.Embedding.Values), nil
}

// EmbedBatch embeds texts in requests of at most 100 items. The result is
// index-aligned with texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	client, err := e.get(ctx)
	if err != nil {
		return nil, err
	}
	em := client.EmbeddingModel(e.model)

	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", e.model, "offset", start, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "error", err, "offset", start)
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("batch embedding returned %d vectors for %d texts", len(res.Embeddings), end-start)
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding received")
			}
			out = append(out, vector.Normalize(emb.Values))
		}
	}

	return out, nil
}
