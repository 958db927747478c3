package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docqa/internal/domain"
)

var ErrNotReady = errors.New("document is not ready")

const (
	promptChunks   = 5
	answerSources  = 3
	sourceRunes    = 200
	summaryRunes   = 10000
	summaryWords   = 500
	fallbackAnswer = "I couldn't find relevant information to answer your question."
)

type Documents interface {
	Get(ctx context.Context, id string) (*domain.Document, error)
	SaveSummary(ctx context.Context, id, summary string) error
}

type Retriever interface {
	RetrieveContext(ctx context.Context, documentID, query string, topK int) ([]domain.ScoredChunk, error)
	RankTimestamps(ctx context.Context, query string, timestamps []domain.TimestampSegment, topK int) ([]domain.RankedTimestamp, error)
}

// Generator turns a prompt into text. gemini.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, onChunk func(string) error) error
}

type Source struct {
	Text  string   `json:"text"`
	Score float32  `json:"score"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type Answer struct {
	Message    string                   `json:"message"`
	Sources    []Source                 `json:"sources"`
	Timestamps []domain.RankedTimestamp `json:"timestamps"`
}

type Summary struct {
	DocumentID string `json:"document_id"`
	Summary    string `json:"summary"`
	WordCount  int    `json:"word_count"`
}

type Service struct {
	docs      Documents
	retriever Retriever
	generator Generator
	history   HistoryStore
}

func NewService(docs Documents, r Retriever, g Generator) *Service {
	return &Service{docs: docs, retriever: r, generator: g}
}

// WithHistory records every answered question in h.
func (s *Service) WithHistory(h HistoryStore) *Service {
	s.history = h
	return s
}

// Ask answers a question from the document's best matching chunks. Media
// documents also get the most relevant topic timestamps.
func (s *Service) Ask(ctx context.Context, documentID, question string, topK int) (*Answer, error) {
	doc, chunks, err := s.prepare(ctx, documentID, question, topK)
	if err != nil {
		return nil, err
	}

	var text string
	if len(chunks) == 0 {
		text = fallbackAnswer
	} else {
		text, err = s.generator.Generate(ctx, BuildPrompt(question, chunks, doc.Type))
		if err != nil {
			return nil, fmt.Errorf("generate answer: %w", err)
		}
	}

	timestamps, err := s.timestamps(ctx, doc, question)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		Message:    strings.TrimSpace(text),
		Sources:    BuildSources(chunks),
		Timestamps: timestamps,
	}
	s.record(ctx, documentID, question, answer.Message, answer.Sources)
	return answer, nil
}

// AskStream streams the answer through onChunk and returns the timestamps
// once generation has finished.
func (s *Service) AskStream(ctx context.Context, documentID, question string, topK int, onChunk func(string) error) ([]domain.RankedTimestamp, error) {
	doc, chunks, err := s.prepare(ctx, documentID, question, topK)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	emit := func(part string) error {
		full.WriteString(part)
		return onChunk(part)
	}
	if len(chunks) == 0 {
		if err := emit(fallbackAnswer); err != nil {
			return nil, err
		}
	} else if err := s.generator.GenerateStream(ctx, BuildPrompt(question, chunks, doc.Type), emit); err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	timestamps, err := s.timestamps(ctx, doc, question)
	if err != nil {
		return nil, err
	}
	s.record(ctx, documentID, question, strings.TrimSpace(full.String()), BuildSources(chunks))
	return timestamps, nil
}

// History returns the recorded conversation of a document, oldest first.
func (s *Service) History(ctx context.Context, documentID string) (*History, error) {
	if _, err := s.docs.Get(ctx, documentID); err != nil {
		return nil, err
	}
	h := &History{DocumentID: documentID, Messages: []Message{}}
	if s.history == nil {
		return h, nil
	}
	msgs, err := s.history.List(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	h.Messages = msgs
	return h, nil
}

// Search returns the chunks of a completed document closest to query.
func (s *Service) Search(ctx context.Context, documentID, query string, topK int) ([]domain.ScoredChunk, error) {
	_, chunks, err := s.prepare(ctx, documentID, query, topK)
	return chunks, err
}

// Timestamps ranks the stored topic segments of a completed document.
func (s *Service) Timestamps(ctx context.Context, documentID, query string, topK int) ([]domain.RankedTimestamp, error) {
	doc, err := s.ready(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.retriever.RankTimestamps(ctx, query, doc.Timestamps, topK)
}

// Summarize returns the cached summary of a completed document or generates
// one of at most maxWords words (500 when maxWords is not positive) and caches
// it. Reprocessing clears the cache.
func (s *Service) Summarize(ctx context.Context, documentID string, maxWords int) (*Summary, error) {
	doc, err := s.ready(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Summary != nil && *doc.Summary != "" {
		return newSummary(documentID, *doc.Summary), nil
	}
	if maxWords <= 0 {
		maxWords = summaryWords
	}
	var text string
	if doc.Text != nil {
		text = truncateRunes(*doc.Text, summaryRunes)
	}

	prompt := "Please provide a comprehensive summary of the following document. " +
		"Focus on the key points, main topics, and important details. " +
		fmt.Sprintf("Use at most %d words.\n\n", maxWords) +
		"Document:\n" + text + "\n\nSummary:"
	out, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	out = strings.TrimSpace(out)
	if err := s.docs.SaveSummary(ctx, documentID, out); err != nil {
		slog.WarnContext(ctx, "failed to cache summary", "document_id", documentID, "error", err)
	}
	return newSummary(documentID, out), nil
}

func newSummary(documentID, text string) *Summary {
	return &Summary{DocumentID: documentID, Summary: text, WordCount: len(strings.Fields(text))}
}

// record appends one question and its answer. A failed write does not fail
// the answer.
func (s *Service) record(ctx context.Context, documentID, question, answer string, sources []Source) {
	if s.history == nil {
		return
	}
	err := s.history.Append(context.WithoutCancel(ctx), documentID,
		Message{Role: RoleUser, Content: question},
		Message{Role: RoleAssistant, Content: answer, Sources: sources},
	)
	if err != nil {
		slog.WarnContext(ctx, "failed to record chat history", "document_id", documentID, "error", err)
	}
}

func (s *Service) ready(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, doc.Status)
	}
	return doc, nil
}

func (s *Service) prepare(ctx context.Context, documentID, question string, topK int) (*domain.Document, []domain.ScoredChunk, error) {
	doc, err := s.ready(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.retriever.RetrieveContext(ctx, documentID, question, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve context: %w", err)
	}
	return doc, chunks, nil
}

func (s *Service) timestamps(ctx context.Context, doc *domain.Document, question string) ([]domain.RankedTimestamp, error) {
	if !doc.Type.IsMedia() || len(doc.Timestamps) == 0 {
		return []domain.RankedTimestamp{}, nil
	}
	ranked, err := s.retriever.RankTimestamps(ctx, question, doc.Timestamps, 0)
	if err != nil {
		return nil, fmt.Errorf("rank timestamps: %w", err)
	}
	return ranked, nil
}

// BuildPrompt lays out at most five context chunks as numbered sources.
func BuildPrompt(question string, chunks []domain.ScoredChunk, docType domain.DocumentType) string {
	if len(chunks) > promptChunks {
		chunks = chunks[:promptChunks]
	}
	sources := make([]string, len(chunks))
	for i, c := range chunks {
		sources[i] = fmt.Sprintf("[Source %d]: %s", i+1, c.Text)
	}

	var b strings.Builder
	b.WriteString("You are a helpful AI assistant answering questions about documents. ")
	b.WriteString("Use the following context to answer the question. ")
	b.WriteString("If you cannot find the answer in the context, say so clearly.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(sources, "\n\n"))
	b.WriteString("\n\n")
	if docType.IsMedia() {
		b.WriteString("When relevant, reference timestamps in your answer.\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer: ")
	return b.String()
}

// BuildSources cites the top three chunks, each cut to 200 runes.
func BuildSources(chunks []domain.ScoredChunk) []Source {
	if len(chunks) > answerSources {
		chunks = chunks[:answerSources]
	}
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		text := c.Text
		if t := truncateRunes(text, sourceRunes); t != text {
			text = t + "..."
		}
		out[i] = Source{Text: text, Score: c.Score, Start: c.StartTime, End: c.EndTime}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
