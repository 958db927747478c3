package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/logger"
	"docqa/internal/media"
	"docqa/internal/middleware"
	"docqa/internal/text"
)

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopicWindow  int
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:    text.DefaultChunkSize,
		ChunkOverlap: text.DefaultChunkOverlap,
		TopicWindow:  media.DefaultTopicWindow,
	}
}

// Pipeline takes a stored document from pending to completed or failed.
type Pipeline struct {
	store       DocumentStore
	pdf         PDFExtractor
	transcriber Transcriber
	embedder    Embedder
	index       IndexWriter
	recorder    FailureRecorder
	opts        Options
}

func NewPipeline(store DocumentStore, pdf PDFExtractor, tr Transcriber, emb Embedder, idx IndexWriter, opts Options) *Pipeline {
	return &Pipeline{
		store:       store,
		pdf:         pdf,
		transcriber: tr,
		embedder:    emb,
		index:       idx,
		opts:        opts,
	}
}

func (p *Pipeline) WithFailureRecorder(r FailureRecorder) *Pipeline {
	p.recorder = r
	return p
}

// Run executes one ingestion. Every failure after the document enters
// processing is committed as failed with a message; the error is returned
// for reporting only.
func (p *Pipeline) Run(ctx context.Context, task Task) error {
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	ctx = logger.WithDocumentID(ctx, task.DocumentID)

	if err := p.store.UpdateStatus(ctx, task.DocumentID, domain.StatusUpdate{Status: domain.StatusProcessing}); err != nil {
		slog.ErrorContext(ctx, "failed to mark document processing", "error", err)
		p.record(ctx, task, err)
		return fmt.Errorf("mark processing: %w", err)
	}

	slog.InfoContext(ctx, "ingestion started", "type", task.Type, "path", task.FilePath)
	start := time.Now()

	update, err := p.process(ctx, task)
	if err == nil {
		if err = p.store.UpdateStatus(ctx, task.DocumentID, *update); err != nil {
			err = fmt.Errorf("mark completed: %w", err)
		}
	}
	if err != nil {
		p.fail(ctx, task, err)
		return err
	}

	slog.InfoContext(ctx, "ingestion completed", "type", task.Type, "chars", len(update.Text), "duration", time.Since(start))
	return nil
}

func (p *Pipeline) process(ctx context.Context, task Task) (update *domain.StatusUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "ingestion panicked", "panic", r, "stack", string(debug.Stack()))
			update, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()

	switch task.Type {
	case domain.TypePDF:
		return p.processPDF(ctx, task)
	case domain.TypeAudio:
		tr, err := p.transcriber.TranscribeAudio(ctx, task.FilePath)
		if err != nil {
			return nil, err
		}
		return p.processTranscript(ctx, task, tr)
	case domain.TypeVideo:
		tr, err := p.transcriber.TranscribeVideo(ctx, task.FilePath)
		if err != nil {
			return nil, err
		}
		return p.processTranscript(ctx, task, tr)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDocumentType, task.Type)
	}
}

func (p *Pipeline) processPDF(ctx context.Context, task Task) (*domain.StatusUpdate, error) {
	res, err := p.pdf.Extract(ctx, task.FilePath)
	if err != nil {
		return nil, fmt.Errorf("extract pdf: %w", err)
	}
	if res.Error != "" {
		slog.WarnContext(ctx, "pdf extraction degraded to empty text", "error", res.Error)
	}
	slog.InfoContext(ctx, "pdf extracted", "pages", res.PageCount, "words", res.WordCount, "ocr", res.OCRUsed)

	chunks := text.Chunk(res.Text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err := p.buildIndex(ctx, task.DocumentID, chunks); err != nil {
		return nil, err
	}

	return &domain.StatusUpdate{Status: domain.StatusCompleted, Text: res.Text}, nil
}

func (p *Pipeline) processTranscript(ctx context.Context, task Task, tr *media.Transcript) (*domain.StatusUpdate, error) {
	slog.InfoContext(ctx, "transcribed", "segments", len(tr.Segments), "duration", tr.Duration, "language", tr.Language)

	topics := media.GroupTopics(tr.Segments, p.opts.TopicWindow)
	chunks := text.Chunk(tr.Text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	attachTimes(chunks, tr.Segments)

	if err := p.buildIndex(ctx, task.DocumentID, chunks); err != nil {
		return nil, err
	}

	duration := tr.Duration
	return &domain.StatusUpdate{
		Status:     domain.StatusCompleted,
		Text:       tr.Text,
		Duration:   &duration,
		Timestamps: topics,
	}, nil
}

// attachTimes gives each chunk the times of the first segment whose text it
// contains. Chunks that contain no segment keep no times.
func attachTimes(chunks []domain.Chunk, segments []media.Segment) {
	for i := range chunks {
		for _, s := range segments {
			if strings.Contains(chunks[i].Text, s.Text) {
				start, end := s.Start, s.End
				chunks[i].StartTime = &start
				chunks[i].EndTime = &end
				break
			}
		}
	}
}

func (p *Pipeline) buildIndex(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	var embeddings [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		var err error
		if embeddings, err = p.embedder.EmbedBatch(ctx, texts); err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
	}

	if err := p.index.CreateIndex(ctx, documentID, chunks, embeddings); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	slog.InfoContext(ctx, "index built", "chunks", len(chunks))
	return nil
}

func (p *Pipeline) fail(ctx context.Context, task Task, cause error) {
	slog.ErrorContext(ctx, "ingestion failed", "type", task.Type, "error", cause)

	update := domain.StatusUpdate{Status: domain.StatusFailed, Error: cause.Error()}
	if err := p.store.UpdateStatus(ctx, task.DocumentID, update); err != nil {
		slog.ErrorContext(ctx, "failed to mark document failed", "error", err)
	}
	p.record(ctx, task, cause)
}

func (p *Pipeline) record(ctx context.Context, task Task, cause error) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordFailure(ctx, task, cause); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
	}
}
