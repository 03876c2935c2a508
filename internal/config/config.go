// Package config loads service configuration from the environment.
// A .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// Database configures the Postgres connection.
type Database struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Storage configures the blob store.
type Storage struct {
	Type      string // local | s3
	LocalPath string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// Embedding configures the embedding provider and the chunker.
type Embedding struct {
	Enabled      bool
	Provider     string // local | openai | ollama
	Model        string
	Dimension    int // 0 = resolve from model name
	ChunkSize    int
	ChunkOverlap int
	BaseURL      string
	APIKey       string
}

// LLM configures metadata extraction and answer generation.
type LLM struct {
	Enabled  bool
	Provider string // openai | gemini | ollama
	Model    string
	BaseURL  string
	APIKey   string
}

// OCR configures the OCR engine registry.
type OCR struct {
	Enabled     bool
	Provider    string // auto | paddleocr | easyocr | vision-llm
	Languages   []string
	UseGPU      bool
	PaddleURL   string
	EasyURL     string
	VisionModel string
	VisionURL   string
}

// Config is the full service configuration.
type Config struct {
	Database Database
	Storage  Storage
	Redis    struct {
		URL string
	}
	Embedding Embedding
	LLM       LLM
	OCR       OCR

	WorkerConcurrency int
	TaskTimeout       time.Duration
	IngestInterval    time.Duration
}

// Load reads configuration from the environment, loading .env first when
// present, and validates it.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.URL = getenv("DATABASE_URL", "")
	cfg.Database.Host = getenv("DB_HOST", "localhost")
	cfg.Database.Port = getenvInt("DB_PORT", 5432)
	cfg.Database.User = getenv("DB_USER", "cartulary")
	cfg.Database.Password = getenv("DB_PASSWORD", "")
	cfg.Database.Name = getenv("DB_NAME", "cartulary")
	cfg.Database.SSLMode = getenv("DB_SSLMODE", "disable")

	cfg.Storage.Type = getenv("STORAGE_TYPE", "local")
	cfg.Storage.LocalPath = getenv("LOCAL_STORAGE_PATH", "./data/storage")
	cfg.Storage.S3Bucket = getenv("S3_BUCKET", "")
	cfg.Storage.S3Region = getenv("S3_REGION", "us-east-1")
	cfg.Storage.S3Endpoint = getenv("S3_ENDPOINT", "")
	cfg.Storage.S3AccessKey = getenv("S3_ACCESS_KEY", "")
	cfg.Storage.S3SecretKey = getenv("S3_SECRET_KEY", "")

	cfg.Redis.URL = getenv("REDIS_URL", "redis://localhost:6379/0")

	cfg.Embedding.Enabled = getenvBool("EMBEDDING_ENABLED", true)
	cfg.Embedding.Provider = getenv("EMBEDDING_PROVIDER", "local")
	cfg.Embedding.Model = getenv("EMBEDDING_MODEL", "all-MiniLM-L6-v2")
	cfg.Embedding.Dimension = getenvInt("EMBEDDING_DIMENSION", 0)
	cfg.Embedding.ChunkSize = getenvInt("EMBEDDING_CHUNK_SIZE", 500)
	cfg.Embedding.ChunkOverlap = getenvInt("EMBEDDING_CHUNK_OVERLAP", 50)
	cfg.Embedding.BaseURL = getenv("EMBEDDING_BASE_URL", "")
	cfg.Embedding.APIKey = getenv("OPENAI_API_KEY", "")

	cfg.LLM.Enabled = getenvBool("LLM_ENABLED", false)
	cfg.LLM.Provider = getenv("LLM_PROVIDER", "ollama")
	cfg.LLM.Model = getenv("LLM_MODEL", "llama3.2")
	cfg.LLM.BaseURL = getenv("LLM_BASE_URL", "")
	switch cfg.LLM.Provider {
	case "gemini":
		cfg.LLM.APIKey = getenv("GEMINI_API_KEY", "")
	default:
		cfg.LLM.APIKey = getenv("OPENAI_API_KEY", "")
	}

	cfg.OCR.Enabled = getenvBool("OCR_ENABLED", true)
	cfg.OCR.Provider = getenv("OCR_PROVIDER", "auto")
	cfg.OCR.Languages = getenvList("OCR_LANGUAGES", []string{"en"})
	cfg.OCR.UseGPU = getenvBool("OCR_USE_GPU", false)
	cfg.OCR.PaddleURL = getenv("PADDLEOCR_URL", "http://localhost:8866")
	cfg.OCR.EasyURL = getenv("EASYOCR_URL", "http://localhost:8867")
	cfg.OCR.VisionModel = getenv("OCR_VISION_MODEL", "llava")
	cfg.OCR.VisionURL = getenv("OCR_VISION_URL", "http://localhost:11434")

	cfg.WorkerConcurrency = getenvInt("WORKER_CONCURRENCY", 4)
	cfg.TaskTimeout = getenvDuration("TASK_TIMEOUT", 25*time.Minute)
	cfg.IngestInterval = getenvDuration("INGEST_INTERVAL", 60*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerated options and numeric ranges.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.Type, validation.Required, validation.In("local", "s3")),
	); err != nil {
		return err
	}
	if c.Storage.Type == "s3" {
		if err := validation.ValidateStruct(&c.Storage,
			validation.Field(&c.Storage.S3Bucket, validation.Required),
		); err != nil {
			return err
		}
	}
	if err := validation.ValidateStruct(&c.Embedding,
		validation.Field(&c.Embedding.Provider, validation.Required, validation.In("local", "openai", "ollama")),
		validation.Field(&c.Embedding.ChunkSize, validation.Min(1)),
		validation.Field(&c.Embedding.ChunkOverlap, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Embedding.ChunkOverlap >= c.Embedding.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			c.Embedding.ChunkOverlap, c.Embedding.ChunkSize)
	}
	if err := validation.ValidateStruct(&c.LLM,
		validation.Field(&c.LLM.Provider, validation.Required, validation.In("openai", "gemini", "ollama")),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.OCR,
		validation.Field(&c.OCR.Provider, validation.Required,
			validation.In("auto", "paddleocr", "easyocr", "vision-llm")),
	); err != nil {
		return err
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
