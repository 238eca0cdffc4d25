package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"curriculum-qa-be/internal/config"
	"curriculum-qa-be/internal/controller"
	"curriculum-qa-be/internal/metrics"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/repository/implementation"
	"curriculum-qa-be/internal/repository/memory"
	"curriculum-qa-be/internal/repository/redisstore"
	"curriculum-qa-be/internal/service"
	"curriculum-qa-be/internal/websocket"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/database"
	"curriculum-qa-be/pkg/embedding"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/llm/factory"
	pktNats "curriculum-qa-be/pkg/nats"
	"curriculum-qa-be/pkg/notify"
	"curriculum-qa-be/pkg/rag/pipeline"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/session"
	"curriculum-qa-be/pkg/retrieval"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

type Container struct {
	Logger   logger.ILogger
	Catalog  *catalog.Catalog
	Policy   *policy.Table
	LLM      llm.LLMProvider
	Sessions *session.Manager
	Pipeline *pipeline.Pipeline
	Metrics  *prometheus.Registry

	// Controllers
	AskController    controller.IAskController
	StreamController *controller.StreamController
	HealthController *controller.HealthController

	// Background forwarding of progress and answers, started by Start
	Bus     *notify.Bus
	Hub     *websocket.Hub
	Outputs notify.Channel

	forwardTimeout time.Duration
	closers        []func()
}

// NewContainer builds every component from cfg. db may be nil unless the
// pgvector retrieval backend is selected.
func NewContainer(cfg *config.Config, db *gorm.DB, sysLogger logger.ILogger, tracer trace.Tracer) (*Container, error) {
	c := &Container{Logger: sysLogger, forwardTimeout: cfg.Notify.ForwardLimit}
	checks := map[string]controller.HealthCheck{}

	// 1. Domain tables
	cat, err := loadCatalog(cfg.Pipeline.CatalogFile)
	if err != nil {
		return nil, err
	}
	pol, err := loadPolicy(cfg.Pipeline.PolicyFile)
	if err != nil {
		return nil, err
	}
	c.Catalog, c.Policy = cat, pol

	// 2. Model
	c.LLM, err = factory.NewLLMProvider(factory.Config{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  cfg.Ai.OllamaBaseURL,
		APIKey:   cfg.Ai.AnthropicAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	// 3. Retrieval
	var backend retrieval.Retriever
	switch cfg.Retrieval.Backend {
	case "http":
		backend = retrieval.NewHTTPRetriever(cfg.Retrieval.Endpoint, cfg.Retrieval.APIKey, cfg.Retrieval.MaxResults)
	default:
		if db == nil {
			return nil, fmt.Errorf("pgvector retrieval needs a database connection")
		}
		embedder := embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel)
		backend = retrieval.NewVectorRetriever(embedder, implementation.NewChunkRepository(db), retrieval.VectorConfig{
			MaxResults:          cfg.Retrieval.MaxResults,
			SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		}, sysLogger)
		checks["database"] = func(ctx context.Context) error {
			return database.Ping(ctx, db)
		}
	}
	retriever := backend
	if cfg.Retrieval.CacheTTL > 0 {
		cached := retrieval.NewCachedRetriever(backend, cfg.Retrieval.CacheTTL, uint64(cfg.Retrieval.CacheCapacity))
		cached.Start()
		c.closers = append(c.closers, cached.Stop)
		retriever = cached
	}

	// 4. Sessions
	var sessionStore session.Store
	var rdb *redis.Client
	switch cfg.Session.Store {
	case "redis":
		opts, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
		sessionStore = redisstore.NewSessionRepository(rdb, cfg.Session.TTL)
	default:
		sessionStore = memory.NewSessionRepository(cfg.Session.TTL)
	}
	c.Sessions = session.NewManager(sessionStore, sysLogger, cfg.Session.HistoryWindow)

	// 5. Outputs: the pipeline only ever publishes onto the bus
	c.Hub = websocket.NewHub(rdb, sysLogger)
	outputs, err := c.buildOutputs(cfg, sysLogger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Outputs = outputs
	c.Bus = notify.NewBus(sysLogger)
	c.closers = append(c.closers, func() { _ = c.Bus.Close() })

	// 6. Metrics
	c.Metrics = prometheus.NewRegistry()
	c.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 7. Pipeline
	c.Pipeline, err = pipeline.New(pipeline.Deps{
		LLM:       c.LLM,
		Retriever: retriever,
		Catalog:   cat,
		Policy:    pol,
		Sessions:  c.Sessions,
		Channel:   c.Bus,
		Logger:    sysLogger,
		Observer:  metrics.NewObserver(c.Metrics),
		Tracer:    tracer,
	}, pipeline.Config{
		LLMTimeout:       cfg.Pipeline.LLMTimeout,
		RetrievalTimeout: cfg.Pipeline.RetrievalTimeout,
		RelevanceWorkers: cfg.Pipeline.RelevanceWorkers,
		FineFilter:       cfg.Pipeline.FineFilter,
		MaxSteps:         cfg.Pipeline.MaxSteps,
		ProgressTimeout:  cfg.Pipeline.ProgressTimeout,
		DeliveryTimeout:  cfg.Pipeline.DeliveryTimeout,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	// 8. HTTP surface
	askService := service.NewAskService(c.Pipeline, c.Sessions, sysLogger)
	c.AskController = controller.NewAskController(askService)
	c.StreamController = controller.NewStreamController(c.Hub)
	c.HealthController = controller.NewHealthController(len(cat.Programs()), checks)

	return c, nil
}

// buildOutputs collects the downstream channels: the progress audit log
// always, NATS and Slack when configured
func (c *Container) buildOutputs(cfg *config.Config, sysLogger logger.ILogger) (notify.Channel, error) {
	auditPath := progressLogPath(cfg.App.LogFilePath)
	audit := logger.NewIsolatedLogger(auditPath)
	c.closers = append(c.closers, func() { _ = audit.Sync() })
	outputs := notify.Multi{notify.NewLogChannel(audit), c.Hub}

	if cfg.Notify.NATSEnabled {
		publisher, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			return nil, fmt.Errorf("nats publisher: %w", err)
		}
		c.closers = append(c.closers, publisher.Close)
		outputs = append(outputs, notify.NewNATSChannel(publisher))
	}
	if cfg.Notify.SlackToken != "" {
		outputs = append(outputs, notify.NewSlackChannel(cfg.Notify.SlackToken, sysLogger))
	}

	sysLogger.Info("Bootstrap", "Notification outputs ready", map[string]interface{}{
		"channels":     len(outputs),
		"progress_log": auditPath,
	})
	return outputs, nil
}

// Start runs the socket hub and forwards bus traffic to the configured
// outputs until ctx is done. Messages published before Start are dropped.
func (c *Container) Start(ctx context.Context) error {
	go c.Hub.Run(ctx)

	timeout := c.forwardTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return c.Bus.Forward(ctx, c.Outputs, timeout)
}

// Close waits for pending deliveries, then releases everything in reverse
// order of creation
func (c *Container) Close() {
	if c.Pipeline != nil {
		c.Pipeline.Wait()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func loadPolicy(path string) (*policy.Table, error) {
	if path == "" {
		return policy.Default()
	}
	return policy.Load(path)
}

// progressLogPath places progress.log.json next to the main log file
func progressLogPath(mainLog string) string {
	dir := filepath.Dir(mainLog)
	base := strings.TrimSuffix(filepath.Base(mainLog), ".log.json")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		base = "app"
	}
	return filepath.Join(dir, base+".progress.log.json")
}
