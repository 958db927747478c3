package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"docqa/internal/config"
)

// IntegrationSuite starts Postgres (migrated) and, on request, nsqd in
// containers. Callers skip it under -short.
type IntegrationSuite struct {
	T   *testing.T
	DB  *sql.DB
	NSQ *nsq.Producer

	WithNSQ bool

	connStr      string
	nsqdTCP      string
	nsqdHTTP     string
	pgContainer  *postgres.PostgresContainer
	nsqContainer testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	return &IntegrationSuite{T: t}
}

// MigrationPath points at the repository's migrations directory.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("docqa_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", s.connStr)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), s.connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	if !s.WithNSQ {
		return
	}

	// 2. NSQ
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	tcpPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	httpPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(s.T, err)
	s.nsqdTCP = net.JoinHostPort(nsqHost, tcpPort.Port())
	s.nsqdHTTP = net.JoinHostPort(nsqHost, httpPort.Port())

	s.NSQ, err = nsq.NewProducer(s.nsqdTCP, nsq.NewConfig())
	require.NoError(s.T, err)
}

// NSQDAddress is the nsqd TCP address consumers connect to directly.
func (s *IntegrationSuite) NSQDAddress() string {
	return s.nsqdTCP
}

// AppConfig returns a config pointing at the suite's containers.
func (s *IntegrationSuite) AppConfig() *config.Config {
	ctx := context.Background()
	host, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(s.T, err)

	queue := config.QueueLocal
	if s.WithNSQ {
		queue = config.QueueNSQ
	}

	return &config.Config{
		DBHost:                     host,
		DBPort:                     portNum,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "docqa_test",
		NSQDHost:                   s.nsqdTCP,
		NSQDHTTP:                   s.nsqdHTTP,
		IngestQueue:                queue,
		IngestionConcurrency:       2,
		ChunkSize:                  1000,
		ChunkOverlap:               200,
		TopicWindow:                5,
		OCRMinChars:                50,
		MigrationPath:              MigrationPath(),
		IndexBackend:               config.BackendFile,
		IndexPath:                  s.T.TempDir(),
		UploadDir:                  s.T.TempDir(),
		QueryLogPath:               filepath.Join(s.T.TempDir(), "query.log"),
		MaxUploadSizeMB:            10,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
