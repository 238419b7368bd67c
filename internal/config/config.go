package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Summarizer configures the generative summary call and the text pipeline
// around it.
type Summarizer struct {
	Provider        string
	APIKey          string
	BaseURL         string
	Model           string
	AWSRegion       string
	Temperature     float64
	MaxTokens       int
	MaxPromptTokens int
	MinInterval     time.Duration
	VocabularyFile  string
}

// Worker holds configuration for the Kafka -> triage -> Elasticsearch worker.
type Worker struct {
	Common
	Summarizer
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaResultTopic string
	KafkaDLQTopic    string
	KafkaConsumer    string
	KeywordLimit     int
	KeywordMinLength int
	DedupeCapacity   int
	DedupeTTL        time.Duration
	BatchSize        int
	CommitInterval   time.Duration
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Summarizer
	BindAddr       string
	DefaultPage    int
	MaxPage        int
	MaxUploadBytes int64
	KeywordLimit   int
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// loadDotenv reads DOTENV_FILE (default .env) once. Variables already set in
// the environment win over the file.
func loadDotenv() error {
	dotenvOnce.Do(func() {
		path := getEnv("DOTENV_FILE", ".env")
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			dotenvErr = fmt.Errorf("load %s: %w", path, err)
		}
	})
	return dotenvErr
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "reports"),
	}
}

func loadSummarizer() (Summarizer, error) {
	provider := strings.ToLower(getEnv("SUMMARIZER_PROVIDER", ProviderOpenAI))

	defaultModel := "gpt-4o-mini"
	if provider == ProviderBedrock {
		defaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}

	s := Summarizer{
		Provider:        provider,
		APIKey:          getEnv("GENERATIVE_API_KEY", ""),
		BaseURL:         getEnv("OPENAI_BASE_URL", ""),
		Model:           getEnv("SUMMARIZER_MODEL", defaultModel),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		Temperature:     getFloat("SUMMARIZER_TEMPERATURE", 0.2),
		MaxTokens:       getInt("SUMMARIZER_MAX_TOKENS", 1024),
		MaxPromptTokens: getInt("SUMMARIZER_MAX_PROMPT_TOKENS", 0),
		MinInterval:     getDuration("SUMMARY_MIN_INTERVAL", "30s"),
		VocabularyFile:  getEnv("VOCABULARY_FILE", ""),
	}

	switch s.Provider {
	case ProviderOpenAI:
		if s.APIKey == "" {
			return s, fmt.Errorf("GENERATIVE_API_KEY is required for the %s provider", ProviderOpenAI)
		}
	case ProviderBedrock:
		if s.AWSRegion == "" {
			return s, fmt.Errorf("AWS_REGION is required for the %s provider", ProviderBedrock)
		}
	default:
		return s, fmt.Errorf("SUMMARIZER_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderBedrock, s.Provider)
	}

	if s.Model == "" {
		return s, fmt.Errorf("SUMMARIZER_MODEL must not be empty")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return s, fmt.Errorf("SUMMARIZER_TEMPERATURE must be between 0 and 2")
	}
	if s.MaxTokens <= 0 {
		return s, fmt.Errorf("SUMMARIZER_MAX_TOKENS must be positive")
	}
	if s.MaxPromptTokens < 0 {
		return s, fmt.Errorf("SUMMARIZER_MAX_PROMPT_TOKENS cannot be negative")
	}
	if s.MinInterval < 0 {
		return s, fmt.Errorf("SUMMARY_MIN_INTERVAL cannot be negative")
	}

	return s, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	summ, err := loadSummarizer()
	if err != nil {
		return nil, err
	}

	topic := getEnv("KAFKA_TOPIC", "reports_raw")
	c := &Worker{
		Common:           loadCommon(),
		Summarizer:       summ,
		KafkaBrokers:     splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:       topic,
		KafkaResultTopic: getEnv("KAFKA_RESULT_TOPIC", "reports_classified"),
		KafkaDLQTopic:    getEnv("KAFKA_DLQ_TOPIC", topic+"_dlq"),
		KafkaConsumer:    getEnv("KAFKA_CONSUMER_GROUP", "triage-worker"),
		KeywordLimit:     getInt("WORKER_KEYWORD_LIMIT", 8),
		KeywordMinLength: getInt("WORKER_KEYWORD_MIN_LEN", 4),
		DedupeCapacity:   getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:        getDuration("WORKER_DEDUPE_TTL", "24h"),
		BatchSize:        getInt("WORKER_BATCH_SIZE", 10),
		CommitInterval:   getDuration("WORKER_COMMIT_INTERVAL", "2s"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.KafkaResultTopic == c.KafkaTopic || c.KafkaDLQTopic == c.KafkaTopic {
		return nil, fmt.Errorf("KAFKA_RESULT_TOPIC and KAFKA_DLQ_TOPIC must differ from KAFKA_TOPIC")
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.KeywordLimit <= 0 {
		return nil, fmt.Errorf("WORKER_KEYWORD_LIMIT must be positive")
	}
	if c.KeywordMinLength < 0 {
		return nil, fmt.Errorf("WORKER_KEYWORD_MIN_LEN cannot be negative")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	summ, err := loadSummarizer()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:         loadCommon(),
		Summarizer:     summ,
		BindAddr:       getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage:    getInt("API_PAGE_SIZE", 20),
		MaxPage:        getInt("API_MAX_PAGE_SIZE", 100),
		MaxUploadBytes: int64(getInt("API_MAX_UPLOAD_BYTES", 10<<20)),
		KeywordLimit:   getInt("API_KEYWORD_LIMIT", 8),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if c.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("API_MAX_UPLOAD_BYTES must be positive")
	}
	if c.KeywordLimit <= 0 {
		return nil, fmt.Errorf("API_KEYWORD_LIMIT must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}

	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
