package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLMConfig points at a langchaingo-backed model. Provider is "ollama",
// "openai" or, for the embedder only, "hash" (offline feature hashing).
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// Enabled reports whether a model has been configured.
func (c LLMConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}

type StoreConfig struct {
	Path    string `yaml:"path"`
	Batches string `yaml:"batches"`
}

type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorDBConfig selects the index backend: "chromem" (embedded) or "qdrant".
type VectorDBConfig struct {
	Backend       string       `yaml:"backend"`
	Path          string       `yaml:"path"`
	Collection    string       `yaml:"collection"`
	InMemory      bool         `yaml:"in_memory"`
	Compress      bool         `yaml:"compress"`
	EncryptionKey string       `yaml:"encryption_key"`
	Qdrant        QdrantConfig `yaml:"qdrant"`
}

// DatabaseConfig is the optional Postgres mirror of the unified store.
// Driver is "pgdriver" (default) or "postgres" (lib/pq).
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	CacheTTL int    `yaml:"cache_ttl_secs"`
	LockTTL  int    `yaml:"lock_ttl_secs"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"`
}

type IngestConfig struct {
	Concurrency     int     `yaml:"concurrency"`
	MaxAttempts     int     `yaml:"max_attempts"`
	BackoffMillis   int     `yaml:"backoff_ms"`
	CallTimeoutSecs int     `yaml:"call_timeout_secs"`
	TitleThreshold  float64 `yaml:"title_threshold"`
}

func (c IngestConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

func (c IngestConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

type RAGConfig struct {
	TopK         int `yaml:"top_k"`
	MaxTopK      int `yaml:"max_top_k"`
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type Config struct {
	LogLevel  string         `yaml:"log_level"`
	Store     StoreConfig    `yaml:"store"`
	VectorDB  VectorDBConfig `yaml:"vector_db"`
	EmbedLLM  LLMConfig      `yaml:"embed_llm"`
	ChatLLM   LLMConfig      `yaml:"chat_llm"`
	Translate LLMConfig      `yaml:"translate_llm"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Server    ServerConfig   `yaml:"server"`
	Ingest    IngestConfig   `yaml:"ingest"`
	RAG       RAGConfig      `yaml:"rag"`
}

// LoadConfig reads .env (if present), the YAML file at path (defaults when it
// does not exist) and finally environment overrides.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration that runs fully offline.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Store.Path, "KNOWLEDGE_STORE_PATH")
	setString(&cfg.VectorDB.Backend, "VECTOR_BACKEND")
	setString(&cfg.VectorDB.Collection, "VECTOR_COLLECTION")
	setString(&cfg.VectorDB.EncryptionKey, "CHROMEM_ENCRYPTION_KEY")
	setString(&cfg.VectorDB.Qdrant.URL, "QDRANT_URL")
	setString(&cfg.VectorDB.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&cfg.EmbedLLM.Provider, "EMBED_PROVIDER")
	setString(&cfg.EmbedLLM.BaseURL, "EMBED_BASE_URL")
	setString(&cfg.EmbedLLM.Model, "EMBED_MODEL")
	setString(&cfg.EmbedLLM.Key, "OPENAI_API_KEY")
	setString(&cfg.ChatLLM.Provider, "CHAT_PROVIDER")
	setString(&cfg.ChatLLM.BaseURL, "CHAT_BASE_URL")
	setString(&cfg.ChatLLM.Model, "CHAT_MODEL")
	setString(&cfg.ChatLLM.Key, "OPENAI_API_KEY")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Server.Port, "PORT")
	setInt(&cfg.Ingest.Concurrency, "INGEST_CONCURRENCY")
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/unified_knowledge.json"
	}
	if cfg.Store.Batches == "" {
		cfg.Store.Batches = "./data/batches"
	}
	if cfg.VectorDB.Backend == "" {
		cfg.VectorDB.Backend = "chromem"
	}
	if cfg.VectorDB.Path == "" {
		cfg.VectorDB.Path = "./chromemdb"
	}
	if cfg.VectorDB.Collection == "" {
		cfg.VectorDB.Collection = "tenant_law"
	}
	if cfg.VectorDB.Qdrant.URL == "" {
		cfg.VectorDB.Qdrant.URL = "http://localhost:6333"
	}
	if cfg.VectorDB.Qdrant.TimeoutSecs == 0 {
		cfg.VectorDB.Qdrant.TimeoutSecs = 15
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "hash"
	}
	switch cfg.EmbedLLM.Provider {
	case "ollama":
		if cfg.EmbedLLM.BaseURL == "" {
			cfg.EmbedLLM.BaseURL = "http://localhost:11434"
		}
		if cfg.EmbedLLM.Model == "" {
			cfg.EmbedLLM.Model = "all-minilm"
		}
	case "openai":
		if cfg.EmbedLLM.BaseURL == "" {
			cfg.EmbedLLM.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.EmbedLLM.Model == "" {
			cfg.EmbedLLM.Model = "text-embedding-3-small"
		}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = 24 * 60 * 60
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * 60
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Ingest.Concurrency <= 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Ingest.MaxAttempts <= 0 {
		cfg.Ingest.MaxAttempts = 3
	}
	if cfg.Ingest.BackoffMillis <= 0 {
		cfg.Ingest.BackoffMillis = 500
	}
	if cfg.Ingest.CallTimeoutSecs <= 0 {
		cfg.Ingest.CallTimeoutSecs = 30
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MaxTopK <= 0 {
		cfg.RAG.MaxTopK = 20
	}
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = 4000
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		cfg.RAG.ChunkOverlap = 200
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
