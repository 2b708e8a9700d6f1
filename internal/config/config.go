package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Qdrant   QdrantConfig
	Gemini   GeminiConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	VectorSize uint64
}

type GeminiConfig struct {
	APIKey           string
	Model            string
	EmbeddingModel   string
	CallTimeout      time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	KeyPrefix         string
	VisibilityTimeout time.Duration
}

type StorageConfig struct {
	UploadPath       string
	MaxFileSize      int64
	ReferenceDocsDir string
	MinDocumentChars int
}

type WorkerConfig struct {
	QueueBackend      string
	QueueSize         int
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	TaskTimeout       time.Duration
	PollInterval      time.Duration
	StallTimeout      time.Duration
}

type LogConfig struct {
	JSON  bool
	Debug bool
}

var defaults = map[string]any{
	"PORT":                "3000",
	"ENV":                 "development",
	"DB_HOST":             "localhost",
	"DB_PORT":             "5432",
	"DB_USER":             "postgres",
	"DB_PASSWORD":         "postgres",
	"DB_NAME":             "ai_cv_evaluator",
	"QDRANT_URL":          "http://localhost:6334",
	"QDRANT_API_KEY":      "",
	"QDRANT_COLLECTION":   "cv_evaluator_references",
	"QDRANT_VECTOR_SIZE":  768,
	"GEMINI_API_KEY":      "",
	"GEMINI_MODEL":        "gemini-2.5-flash",
	"GEMINI_EMBED_MODEL":  "text-embedding-004",
	"MODEL_CALL_TIMEOUT":  "60s",
	"BREAKER_THRESHOLD":   5,
	"BREAKER_COOLDOWN":    "30s",
	"REDIS_ADDR":          "localhost:6379",
	"REDIS_PASSWORD":      "",
	"REDIS_DB":            0,
	"REDIS_KEY_PREFIX":    "cv_screening:queue:",
	"REDIS_VISIBILITY":    "10m",
	"UPLOAD_PATH":         "./uploads",
	"MAX_FILE_SIZE":       10485760,
	"REFERENCE_DOCS_DIR":  "./reference_docs",
	"MIN_DOCUMENT_CHARS":  200,
	"QUEUE_BACKEND":       "memory",
	"QUEUE_SIZE":          1000,
	"RETRY_MAX_ATTEMPTS":  3,
	"RETRY_INITIAL_DELAY": "2s",
	"TASK_TIMEOUT":        "5m",
	"POLL_INTERVAL":       "10s",
	"STALL_TIMEOUT":       "15m",
	"LOG_JSON":            false,
	"LOG_DEBUG":           false,
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Using default values.")
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
		},
		Qdrant: QdrantConfig{
			URL:        v.GetString("QDRANT_URL"),
			APIKey:     v.GetString("QDRANT_API_KEY"),
			Collection: v.GetString("QDRANT_COLLECTION"),
			VectorSize: v.GetUint64("QDRANT_VECTOR_SIZE"),
		},
		Gemini: GeminiConfig{
			APIKey:           v.GetString("GEMINI_API_KEY"),
			Model:            v.GetString("GEMINI_MODEL"),
			EmbeddingModel:   v.GetString("GEMINI_EMBED_MODEL"),
			CallTimeout:      v.GetDuration("MODEL_CALL_TIMEOUT"),
			BreakerThreshold: v.GetUint32("BREAKER_THRESHOLD"),
			BreakerCooldown:  v.GetDuration("BREAKER_COOLDOWN"),
		},
		Redis: RedisConfig{
			Addr:              v.GetString("REDIS_ADDR"),
			Password:          v.GetString("REDIS_PASSWORD"),
			DB:                v.GetInt("REDIS_DB"),
			KeyPrefix:         v.GetString("REDIS_KEY_PREFIX"),
			VisibilityTimeout: v.GetDuration("REDIS_VISIBILITY"),
		},
		Storage: StorageConfig{
			UploadPath:       v.GetString("UPLOAD_PATH"),
			MaxFileSize:      v.GetInt64("MAX_FILE_SIZE"),
			ReferenceDocsDir: v.GetString("REFERENCE_DOCS_DIR"),
			MinDocumentChars: v.GetInt("MIN_DOCUMENT_CHARS"),
		},
		Worker: WorkerConfig{
			QueueBackend:      strings.ToLower(v.GetString("QUEUE_BACKEND")),
			QueueSize:         v.GetInt("QUEUE_SIZE"),
			RetryMaxAttempts:  v.GetInt("RETRY_MAX_ATTEMPTS"),
			RetryInitialDelay: v.GetDuration("RETRY_INITIAL_DELAY"),
			TaskTimeout:       v.GetDuration("TASK_TIMEOUT"),
			PollInterval:      v.GetDuration("POLL_INTERVAL"),
			StallTimeout:      v.GetDuration("STALL_TIMEOUT"),
		},
		Log: LogConfig{
			JSON:  v.GetBool("LOG_JSON"),
			Debug: v.GetBool("LOG_DEBUG"),
		},
	}
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}
