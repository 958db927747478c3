package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	QueueNSQ   = "nsq"
	QueueLocal = "local"

	BackendFile = "file"
	BackendS3   = "s3"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docqa"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docqa"`

	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"1048576"`

	// Ingestion
	IngestQueue          string `envconfig:"INGEST_QUEUE" default:"nsq"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"4"`
	ChunkSize            int    `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap         int    `envconfig:"CHUNK_OVERLAP" default:"200"`
	TopicWindow          int    `envconfig:"TOPIC_WINDOW" default:"5"`
	OCRMinChars          int    `envconfig:"OCR_MIN_CHARS" default:"50"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Models
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel  string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	GenerationModel string `envconfig:"GENERATION_MODEL" default:"gemini-1.5-flash"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	WhisperBaseURL  string `envconfig:"WHISPER_BASE_URL"`
	WhisperModel    string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	// Index storage
	IndexBackend      string `envconfig:"INDEX_BACKEND" default:"file"`
	IndexPath         string `envconfig:"INDEX_PATH" default:"./data/indexes"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket          string `envconfig:"S3_BUCKET"`
	S3Prefix          string `envconfig:"S3_PREFIX" default:"indexes"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `envconfig:"S3_USE_PATH_STYLE" default:"true"`

	// External tools
	FFmpegPath    string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	PDFToTextPath string `envconfig:"PDFTOTEXT_PATH" default:"pdftotext"`
	PDFInfoPath   string `envconfig:"PDFINFO_PATH" default:"pdfinfo"`
	PDFToPPMPath  string `envconfig:"PDFTOPPM_PATH" default:"pdftoppm"`
	TesseractPath string `envconfig:"TESSERACT_PATH" default:"tesseract"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"100"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Shell variables win; .env files only fill gaps.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.IngestQueue {
	case QueueNSQ, QueueLocal:
	default:
		return fmt.Errorf("%w: INGEST_QUEUE=%q", ErrInvalidValue, c.IngestQueue)
	}

	switch c.IndexBackend {
	case BackendFile:
		if c.IndexPath == "" {
			return fmt.Errorf("%w: INDEX_PATH", ErrMissingRequired)
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("%w: S3_BUCKET", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: INDEX_BACKEND=%q", ErrInvalidValue, c.IndexBackend)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE=%d", ErrInvalidValue, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: CHUNK_OVERLAP=%d", ErrInvalidValue, c.ChunkOverlap)
	}
	if c.TopicWindow <= 0 {
		return fmt.Errorf("%w: TOPIC_WINDOW=%d", ErrInvalidValue, c.TopicWindow)
	}
	if c.IngestionConcurrency <= 0 {
		return fmt.Errorf("%w: INGESTION_CONCURRENCY=%d", ErrInvalidValue, c.IngestionConcurrency)
	}
	return nil
}

// DSN returns the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
