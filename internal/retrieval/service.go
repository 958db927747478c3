package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"docqa/internal/domain"
	"docqa/internal/middleware"
	"docqa/internal/vector"
)

const (
	DefaultContextTopK   = 5
	DefaultTimestampTopK = 3
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type IndexSearcher interface {
	Search(ctx context.Context, documentID string, query []float32, topK int) ([]domain.ScoredChunk, error)
}

type Service struct {
	embedder Embedder
	indexes  IndexSearcher
	logger   *QueryLogger
}

func NewService(e Embedder, idx IndexSearcher, l *QueryLogger) *Service {
	return &Service{embedder: e, indexes: idx, logger: l}
}

// RetrieveContext returns the chunks of one document closest to query, best
// first. A document without an index yields an empty result.
func (s *Service) RetrieveContext(ctx context.Context, documentID, query string, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		topK = DefaultContextTopK
	}
	start := time.Now()

	entry := QueryLogEntry{Kind: KindContext, DocumentID: documentID, Query: query, TopK: topK}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		err = fmt.Errorf("embed query: %w", err)
		s.log(ctx, entry, start, err)
		return nil, err
	}
	results, err := s.indexes.Search(ctx, documentID, vec, topK)
	if err != nil {
		s.log(ctx, entry, start, err)
		return nil, err
	}

	entry.NumResults = len(results)
	if len(results) > 0 {
		entry.TopScore = results[0].Score
	}
	s.log(ctx, entry, start, nil)
	return results, nil
}

// RankTimestamps scores each segment's text against query and returns the
// topK best. Equal scores keep their input order.
func (s *Service) RankTimestamps(ctx context.Context, query string, timestamps []domain.TimestampSegment, topK int) ([]domain.RankedTimestamp, error) {
	if len(timestamps) == 0 {
		return []domain.RankedTimestamp{}, nil
	}
	if topK <= 0 {
		topK = DefaultTimestampTopK
	}
	start := time.Now()

	entry := QueryLogEntry{Kind: KindTimestamps, Query: query, TopK: topK}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		err = fmt.Errorf("embed query: %w", err)
		s.log(ctx, entry, start, err)
		return nil, err
	}
	texts := make([]string, len(timestamps))
	for i, ts := range timestamps {
		texts[i] = ts.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) != len(timestamps) {
		err = fmt.Errorf("got %d vectors for %d segments", len(vecs), len(timestamps))
	}
	if err != nil {
		err = fmt.Errorf("embed timestamps: %w", err)
		s.log(ctx, entry, start, err)
		return nil, err
	}

	scores := vector.Similarity(qvec, vecs)
	ranked := make([]domain.RankedTimestamp, len(timestamps))
	for i, ts := range timestamps {
		ranked[i] = domain.RankedTimestamp{Start: ts.Start, End: ts.End, Text: ts.Text, RelevanceScore: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	entry.NumResults = len(ranked)
	entry.TopScore = ranked[0].RelevanceScore
	s.log(ctx, entry, start, nil)
	return ranked, nil
}

func (s *Service) log(ctx context.Context, entry QueryLogEntry, start time.Time, err error) {
	if s.logger == nil {
		return
	}
	entry.Duration = time.Since(start)
	entry.CorrelationID = middleware.GetCorrelationID(ctx)
	if err != nil {
		entry.Error = err.Error()
	}
	s.logger.Log(entry)
}
