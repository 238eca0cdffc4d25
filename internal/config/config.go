package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Ai        AIConfig
	Retrieval RetrievalConfig
	Pipeline  PipelineConfig
	Session   SessionConfig
	Notify    NotifyConfig
}

type AppConfig struct {
	Port               string `validate:"required,numeric"`
	Environment        string `validate:"oneof=development staging production test"`
	LogFilePath        string `validate:"required"`
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	// JWTSecret enables bearer auth on the ask API when set
	JWTSecret string
}

type DatabaseConfig struct {
	Connection string
	Verbose    bool
}

type AIConfig struct {
	LLMProvider     string `validate:"oneof=ollama anthropic"`
	LLMModel        string `validate:"required"`
	OllamaBaseURL   string `validate:"required,url"`
	AnthropicAPIKey string `validate:"required_if=LLMProvider anthropic"`
	EmbeddingModel  string // e.g. "nomic-embed-text"
}

type RetrievalConfig struct {
	// Backend is "pgvector" (chunks in postgres) or "http" (external search service)
	Backend             string `validate:"oneof=pgvector http"`
	Endpoint            string `validate:"required_if=Backend http"`
	APIKey              string
	MaxResults          int     `validate:"gte=1"`
	SimilarityThreshold float64 `validate:"gte=0,lte=1"`
	CacheTTL            time.Duration
	CacheCapacity       int `validate:"gte=0"`
}

type PipelineConfig struct {
	LLMTimeout       time.Duration `validate:"gt=0"`
	RetrievalTimeout time.Duration `validate:"gt=0"`
	RelevanceWorkers int           `validate:"gte=1,lte=64"`
	FineFilter       bool
	MaxSteps         int `validate:"gte=8"`
	ProgressTimeout  time.Duration
	DeliveryTimeout  time.Duration
	// CatalogFile and PolicyFile override the embedded YAML tables
	CatalogFile string
	PolicyFile  string
}

type SessionConfig struct {
	Store string `validate:"oneof=memory redis"`
	TTL   time.Duration
	// HistoryWindow is how many recent turns seed a run; 0 means all of them
	HistoryWindow int `validate:"gte=0"`
}

type NotifyConfig struct {
	NATSEnabled  bool
	SlackToken   string
	ForwardLimit time.Duration
}

// Load reads the environment (and .env when present). It never fails;
// call Validate before using the result.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log.json"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
			Verbose:    getEnvAsBool("DB_VERBOSE", false),
		},
		Ai: AIConfig{
			LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "ollama")),
			LLMModel:        getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			EmbeddingModel:  getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Retrieval: RetrievalConfig{
			Backend:             strings.ToLower(getEnv("RETRIEVAL_BACKEND", "pgvector")),
			Endpoint:            getEnv("RETRIEVAL_ENDPOINT", ""),
			APIKey:              getEnv("RETRIEVAL_API_KEY", ""),
			MaxResults:          getEnvAsInt("RETRIEVAL_MAX_RESULTS", 50),
			SimilarityThreshold: getEnvAsFloat("RETRIEVAL_SIMILARITY_THRESHOLD", 0.2),
			CacheTTL:            getEnvAsDuration("RETRIEVAL_CACHE_TTL", 5*time.Minute),
			CacheCapacity:       getEnvAsInt("RETRIEVAL_CACHE_CAPACITY", 1000),
		},
		Pipeline: PipelineConfig{
			LLMTimeout:       getEnvAsDuration("PIPELINE_LLM_TIMEOUT", 30*time.Second),
			RetrievalTimeout: getEnvAsDuration("PIPELINE_RETRIEVAL_TIMEOUT", 10*time.Second),
			RelevanceWorkers: getEnvAsInt("PIPELINE_RELEVANCE_WORKERS", 4),
			FineFilter:       getEnvAsBool("PIPELINE_FINE_FILTER", true),
			MaxSteps:         getEnvAsInt("PIPELINE_MAX_STEPS", 64),
			ProgressTimeout:  getEnvAsDuration("PIPELINE_PROGRESS_TIMEOUT", 2*time.Second),
			DeliveryTimeout:  getEnvAsDuration("PIPELINE_DELIVERY_TIMEOUT", 5*time.Second),
			CatalogFile:      getEnv("CATALOG_FILE", ""),
			PolicyFile:       getEnv("POLICY_FILE", ""),
		},
		Session: SessionConfig{
			Store:         strings.ToLower(getEnv("SESSION_STORE", "memory")),
			TTL:           getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			HistoryWindow: getEnvAsInt("SESSION_HISTORY_WINDOW", 0),
		},
		Notify: NotifyConfig{
			NATSEnabled:  getEnvAsBool("NOTIFY_NATS_ENABLED", false),
			SlackToken:   getEnv("SLACK_BOT_TOKEN", ""),
			ForwardLimit: getEnvAsDuration("NOTIFY_FORWARD_TIMEOUT", 5*time.Second),
		},
	}
}

var validate = validator.New()

// Validate checks every section and reports the first invalid field
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid config %s: failed on '%s' (value %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}
	if c.Retrieval.Backend == "pgvector" && c.Database.Connection == "" {
		return fmt.Errorf("invalid config: DB_CONNECTION_STRING is required for the pgvector retrieval backend")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30")
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
