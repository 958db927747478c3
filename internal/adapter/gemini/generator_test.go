package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"docqa/internal/adapter/gemini"
)

func TestGenerator_Generate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"role":  "model",
					"parts": []map[string]string{{"text": "The answer "}, {"text": "is 42."}},
				}},
			},
		})
	}))
	defer ts.Close()

	gen := gemini.NewGenerator("test-key", "", option.WithEndpoint(ts.URL))
	defer gen.Close()

	answer, err := gen.Generate(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", answer)
}

func TestGenerator_MissingKey(t *testing.T) {
	gen := gemini.NewGenerator("", "")

	_, err := gen.Generate(context.Background(), "question")
	assert.Error(t, err)

	err = gen.GenerateStream(context.Background(), "question", func(string) error { return nil })
	assert.Error(t, err)
}
