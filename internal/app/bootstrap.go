package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	s3store "docqa/internal/adapter/s3"
	"docqa/internal/config"
	"docqa/internal/vector"
)

// Dependencies are the external resources the app runs against. Producer
// is nil when ingestion runs in-process.
type Dependencies struct {
	DB       *sql.DB
	Store    vector.ArtifactStore
	Producer *nsq.Producer
}

func (d *Dependencies) Close() {
	if d.Producer != nil {
		d.Producer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Database
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := WithRetry(ctx, "db ping", cfg.BootstrapRetryAttempts, retryDelay, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := Migrate(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	store, err := NewArtifactStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if s, ok := store.(*s3store.Store); ok {
		if err := WithRetry(ctx, "s3 bucket", cfg.BootstrapRetryAttempts, retryDelay, s.EnsureBucket); err != nil {
			db.Close()
			return nil, fmt.Errorf("s3 bucket error: %w", err)
		}
	}

	deps := &Dependencies{DB: db, Store: store}

	if cfg.IngestQueue == config.QueueNSQ {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.Producer = producer
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

// Migrate applies every pending migration under path.
func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// NewArtifactStore selects where index artifacts live.
func NewArtifactStore(ctx context.Context, cfg *config.Config) (vector.ArtifactStore, error) {
	switch cfg.IndexBackend {
	case config.BackendS3:
		client, err := s3store.NewClient(ctx, s3store.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3store.NewStore(client, cfg.S3Bucket, cfg.S3Prefix), nil
	case config.BackendFile, "":
		return vector.NewFileStore(cfg.IndexPath)
	default:
		return nil, fmt.Errorf("%w: INDEX_BACKEND=%q", config.ErrInvalidValue, cfg.IndexBackend)
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestDocument)
	}()
}

// WithRetry calls fn until it succeeds, attempts run out or ctx is done.
func WithRetry(ctx context.Context, what string, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		slog.Warn("bootstrap step failed, retrying", "step", what, "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
