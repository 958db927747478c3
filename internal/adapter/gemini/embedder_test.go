package gemini_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"docqa/internal/adapter/gemini"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x * x)
	}
	return math.Sqrt(s)
}

// fakeGemini answers embedContent with a fixed vector and batchEmbedContents
// with one vector per request whose first component is the request position.
func fakeGemini(t *testing.T, batchCalls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, ":batchEmbedContents") {
			atomic.AddInt32(batchCalls, 1)
			var body struct {
				Requests []json.RawMessage `json:"requests"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			embeddings := make([]map[string]interface{}, len(body.Requests))
			for i := range body.Requests {
				embeddings[i] = map[string]interface{}{"values": []float32{float32(i + 1), 1}}
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embeddings})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{"values": []float32{0.3, 0.4}},
		})
	}))
}

func TestEmbedder_Embed(t *testing.T) {
	var calls int32
	ts := fakeGemini(t, &calls)
	defer ts.Close()

	embedder := gemini.NewEmbedder("test-key", "", option.WithEndpoint(ts.URL))
	defer embedder.Close()

	vec, err := embedder.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 1.0, norm(vec), 1e-5)
	assert.InDelta(t, 0.6, vec[0], 1e-5)
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	var calls int32
	ts := fakeGemini(t, &calls)
	defer ts.Close()

	embedder := gemini.NewEmbedder("test-key", "", option.WithEndpoint(ts.URL))
	defer embedder.Close()

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = "text"
	}

	vecs, err := embedder.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 150)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	for _, v := range vecs {
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
	// Position 0 of the second request follows position 99 of the first.
	assert.Greater(t, vecs[99][0], vecs[100][0])
	assert.InDelta(t, vecs[0][0], vecs[100][0], 1e-6)
}

func TestEmbedder_EmbedBatchEmpty(t *testing.T) {
	embedder := gemini.NewEmbedder("", "")

	vecs, err := embedder.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedder_MissingKey(t *testing.T) {
	embedder := gemini.NewEmbedder("", "")

	_, err := embedder.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, gemini.ErrEmbeddingUnavailable)
	assert.Contains(t, err.Error(), "gemini api key not configured")

	_, err = embedder.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, gemini.ErrEmbeddingUnavailable)
}

func TestEmbedder_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":503,"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	embedder := gemini.NewEmbedder("test-key", "", option.WithEndpoint(ts.URL))
	defer embedder.Close()

	_, err := embedder.EmbedBatch(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, gemini.ErrEmbeddingUnavailable)
}
