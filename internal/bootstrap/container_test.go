package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"curriculum-qa-be/internal/config"
	"curriculum-qa-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App: config.AppConfig{
			Port:        "3000",
			Environment: "test",
			LogFilePath: filepath.Join(t.TempDir(), "app.log.json"),
		},
		Ai: config.AIConfig{
			LLMProvider:   "ollama",
			LLMModel:      "llama3",
			OllamaBaseURL: "http://localhost:11434",
		},
		Retrieval: config.RetrievalConfig{
			Backend:    "http",
			Endpoint:   "http://localhost:9200/search",
			MaxResults: 50,
			CacheTTL:   time.Minute,
		},
		Pipeline: config.PipelineConfig{
			LLMTimeout:       time.Second,
			RetrievalTimeout: time.Second,
			RelevanceWorkers: 2,
			MaxSteps:         64,
		},
		Session: config.SessionConfig{Store: "memory", TTL: time.Hour, HistoryWindow: 10},
	}
}

func TestNewContainerWithHTTPRetrieval(t *testing.T) {
	c, err := NewContainer(testConfig(t), nil, logger.NewNopLogger(), otel.Tracer("test"))
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Pipeline)
	assert.NotNil(t, c.AskController)
	assert.NotNil(t, c.HealthController)
	assert.NotEmpty(t, c.Catalog.Programs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
}

func TestNewContainerNeedsDatabaseForPgvector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.Backend = "pgvector"

	_, err := NewContainer(cfg, nil, logger.NewNopLogger(), otel.Tracer("test"))
	assert.Error(t, err)
}

func TestNewContainerRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ai.LLMProvider = "palm"

	_, err := NewContainer(cfg, nil, logger.NewNopLogger(), otel.Tracer("test"))
	assert.Error(t, err)
}

func TestProgressLogPath(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "app.progress.log.json"), progressLogPath("logs/app.log.json"))
	assert.Equal(t, "service.progress.log.json", progressLogPath("service.log"))
}

func TestCloseReleasesInReverseOrder(t *testing.T) {
	var order []int
	c := &Container{}
	for i := 1; i <= 3; i++ {
		c.closers = append(c.closers, func() { order = append(order, i) })
	}

	c.Close()
	c.Close()

	assert.Equal(t, []int{3, 2, 1}, order)
}
