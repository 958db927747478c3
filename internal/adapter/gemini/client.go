package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrEmbeddingUnavailable = errors.New("embedding model unavailable")

// lazyClient creates the genai client on first use. A failed creation is not
// cached, so the next call retries.
type lazyClient struct {
	apiKey string
	opts   []option.ClientOption

	mu     sync.RWMutex
	client *genai.Client
}

func (l *lazyClient) get(ctx context.Context) (*genai.Client, error) {
	l.mu.RLock()
	if l.client != nil {
		defer l.mu.RUnlock()
		return l.client, nil
	}
	l.mu.RUnlock()

	if l.apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not configured", ErrEmbeddingUnavailable)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double check
	if l.client != nil {
		return l.client, nil
	}

	opts := append(append([]option.ClientOption(nil), l.opts...), option.WithAPIKey(l.apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	l.client = client
	return client, nil
}

func (l *lazyClient) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	return err
}
