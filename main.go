package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docqa/features/document"
	"docqa/internal/app"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/ingest"
	"docqa/internal/logger"
	"docqa/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))))

	rootCmd := &cobra.Command{
		Use:           "docqa",
		Short:         "Document and media question answering service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), ingestCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the ingestion consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var publisher worker.Publisher
	if deps.Producer != nil {
		publisher = deps.Producer
	}

	a, err := app.New(cfg, deps.DB, deps.Store, publisher)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

func ingestCmd() *cobra.Command {
	var id, file, docType string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run ingestion for one document synchronously",
		Long:  "Run the ingestion pipeline for a stored document in the foreground. --file and --type default to the stored record.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			// Never hand the task to the queue.
			cfg.IngestQueue = config.QueueLocal

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			task := ingest.Task{DocumentID: id, FilePath: file}
			if docType != "" {
				if task.Type, err = domain.ParseDocumentType(docType); err != nil {
					return err
				}
			}
			if task.FilePath == "" || task.Type == "" {
				doc, err := document.NewPostgresRepo(deps.DB).Get(ctx, id)
				if err != nil {
					return fmt.Errorf("load document %s: %w", id, err)
				}
				if task.FilePath == "" {
					task.FilePath = doc.FilePath
				}
				if task.Type == "" {
					task.Type = doc.Type
				}
			}

			a, err := app.New(cfg, deps.DB, deps.Store, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Pipeline.Run(ctx, task); err != nil {
				return err
			}
			slog.Info("ingestion completed", "document_id", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "document id")
	cmd.Flags().StringVar(&file, "file", "", "path of the stored file")
	cmd.Flags().StringVar(&docType, "type", "", "document type (pdf, audio, video)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
