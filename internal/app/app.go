package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"docqa/features/chat"
	"docqa/features/document"
	"docqa/features/job"
	"docqa/features/mcp"
	"docqa/features/stats"
	"docqa/internal/adapter/gemini"
	"docqa/internal/adapter/openai"
	"docqa/internal/config"
	"docqa/internal/ingest"
	"docqa/internal/media"
	"docqa/internal/middleware"
	"docqa/internal/retrieval"
	"docqa/internal/vector"
	"docqa/internal/worker"
)

type App struct {
	Handler    http.Handler
	Pipeline   *ingest.Pipeline
	Dispatcher ingest.Dispatcher
	Consumer   *worker.IngestConsumer
	Registry   *vector.Registry

	cfg      *config.Config
	local    *ingest.LocalDispatcher
	queryLog *retrieval.QueryLogger
}

// New wires every component. With a nil publisher ingestion runs
// in-process regardless of INGEST_QUEUE.
func New(cfg *config.Config, db *sql.DB, store vector.ArtifactStore, publisher worker.Publisher) (*App, error) {
	tools := media.Tools{
		PDFToText: cfg.PDFToTextPath,
		PDFInfo:   cfg.PDFInfoPath,
		PDFToPPM:  cfg.PDFToPPMPath,
		Tesseract: cfg.TesseractPath,
		FFmpeg:    cfg.FFmpegPath,
	}
	runner := media.ExecRunner{}

	// Adapters
	embedder := gemini.NewEmbedder(cfg.GeminiAPIKey, cfg.EmbeddingModel)
	generator := gemini.NewGenerator(cfg.GeminiAPIKey, cfg.GenerationModel)
	recognizer := openai.NewRecognizer(cfg.OpenAIAPIKey, cfg.WhisperBaseURL, cfg.WhisperModel)
	registry := vector.NewRegistry(store)

	// Ingestion
	docRepo := document.NewPostgresRepo(db)
	jobRepo := job.NewPostgresRepo(db)
	pipeline := ingest.NewPipeline(
		docRepo,
		media.NewPDFExtractor(runner, tools, cfg.OCRMinChars),
		media.NewTranscriber(recognizer, runner, tools.FFmpeg),
		embedder,
		registry,
		ingest.Options{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap, TopicWindow: cfg.TopicWindow},
	).WithFailureRecorder(job.NewRecorder(jobRepo))

	a := &App{Pipeline: pipeline, Registry: registry, cfg: cfg}
	if cfg.IngestQueue == config.QueueNSQ && publisher != nil {
		a.Dispatcher = worker.NewNSQDispatcher(publisher)
		a.Consumer = worker.NewIngestConsumer(pipeline, worker.DefaultTouchInterval)
	} else {
		a.local = ingest.NewLocalDispatcher(pipeline, cfg.IngestionConcurrency)
		a.Dispatcher = a.local
	}

	// Feature: Document
	docService := document.NewService(docRepo, registry, a.Dispatcher)
	docHandler := document.NewHandler(docService, cfg.UploadDir, cfg.MaxUploadSizeMB)

	// Feature: Chat
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	a.queryLog = queryLogger
	retrievalService := retrieval.NewService(embedder, registry, queryLogger)
	chatService := chat.NewService(docService, retrievalService, generator).WithHistory(chat.NewPostgresHistory(db))
	chatHandler := chat.NewHandler(chatService)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(docService, chatService)

	// Feature: Job
	jobHandler := job.NewHandler(job.NewService(jobRepo, docService, a.Dispatcher))

	// Feature: Stats
	statsHandler := stats.NewHandler(docRepo, jobRepo, registry)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}
	route := func(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(enableCORS(h)))
	}

	// Routes
	mux := http.NewServeMux()

	route(mux, "POST /documents/upload", docHandler.Upload)
	route(mux, "GET /documents", docHandler.List)
	route(mux, "GET /documents/{id}", docHandler.Get)
	route(mux, "DELETE /documents/{id}", docHandler.Delete)
	route(mux, "POST /documents/{id}/reprocess", docHandler.Reprocess)

	route(mux, "POST /documents/{id}/ask", chatHandler.Ask)
	route(mux, "POST /documents/{id}/ask/stream", chatHandler.AskStream)
	route(mux, "POST /documents/{id}/timestamps", chatHandler.Timestamps)
	route(mux, "POST /documents/{id}/summarize", chatHandler.Summarize)
	route(mux, "GET /documents/{id}/history", chatHandler.History)

	route(mux, "GET /jobs/failed", jobHandler.List)
	route(mux, "POST /jobs/{id}/retry", jobHandler.Retry)
	route(mux, "DELETE /jobs/{id}", jobHandler.Dismiss)

	route(mux, "GET /stats", statsHandler.GetStats)

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	route(mux, "GET /mcp/sse", mcpHandler.HandleSSE)
	route(mux, "POST /mcp/messages", mcpHandler.HandleMessage)

	// Preflight for every route; enableCORS answers it.
	route(mux, "OPTIONS /", func(http.ResponseWriter, *http.Request) {})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// Run serves HTTP and, when ingestion goes through NSQ, consumes ingestion
// tasks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if missing := (media.Tools{
		PDFToText: a.cfg.PDFToTextPath,
		PDFInfo:   a.cfg.PDFInfoPath,
		PDFToPPM:  a.cfg.PDFToPPMPath,
		Tesseract: a.cfg.TesseractPath,
		FFmpeg:    a.cfg.FFmpegPath,
	}).CheckAvailable(); len(missing) > 0 {
		slog.Warn("external tools not found, related ingestion will fail", "missing", missing)
	}

	if a.Consumer != nil {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}
	if a.local != nil {
		defer a.local.Close()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort, "ingest_queue", a.cfg.IngestQueue)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = a.cfg.IngestionConcurrency
	// Bounds redelivery after message timeouts.
	nsqCfg.MaxAttempts = 3

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn), nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(a.Consumer, a.cfg.IngestionConcurrency)

	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connect to nsqlookupd: %w", err)
	}
	slog.Info("ingestion consumer connected", "topic", config.TopicIngestDocument, "concurrency", a.cfg.IngestionConcurrency)
	return consumer, nil
}

// Close waits for in-process ingestions started by the dispatcher, then
// closes the query log.
func (a *App) Close() {
	if a.local != nil {
		a.local.Close()
	}
	if err := a.queryLog.Close(); err != nil {
		slog.Warn("failed to close query log", "error", err)
	}
}
