// Package config loads f1rag settings from an optional TOML file, a .env file and
// the process environment. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

// ConfigError reports a configuration problem for a single key.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Duration is a time.Duration that decodes from strings such as "90s" in TOML files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete application configuration.
type Config struct {
	Embedding EmbeddingConfig `toml:"embedding"`
	LLM       LLMConfig       `toml:"llm"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Wiki      WikiConfig      `toml:"wiki"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

// EmbeddingConfig selects the embedding model used for both indexing and queries.
type EmbeddingConfig struct {
	Model     string `toml:"model"`
	Endpoint  string `toml:"endpoint"`
	APIKey    string `toml:"api_key"`
	Dimension int    `toml:"dimension"`
	BatchSize int    `toml:"batch_size"`
}

// LLMConfig holds the hosted LLM endpoint and generation parameters.
type LLMConfig struct {
	Endpoint    string   `toml:"endpoint"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     Duration `toml:"timeout"`
}

// RetrievalConfig controls chunking and top-k search.
type RetrievalConfig struct {
	TopK            int     `toml:"top_k"`
	ChunkSize       int     `toml:"chunk_size"`
	ChunkOverlap    int     `toml:"chunk_overlap"`
	MinScore        float64 `toml:"min_score"`
	MaxContextChars int     `toml:"max_context_chars"`
}

// WikiConfig configures the Wikipedia downloader.
type WikiConfig struct {
	Language          string  `toml:"language"`
	Category          string  `toml:"category"`
	MaxDepth          int     `toml:"max_depth"`
	MaxArticles       int     `toml:"max_articles"`
	Workers           int     `toml:"workers"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	UserAgent         string  `toml:"user_agent"`
	ArticlesDir       string  `toml:"articles_dir"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend          string `toml:"backend"` // memory or milvus
	MilvusAddress    string `toml:"milvus_address"`
	MilvusCollection string `toml:"milvus_collection"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			// Needs an endpoint serving /embeddings for this model; "hashing" works offline.
			Model:     "sentence-transformers/all-MiniLM-L6-v2",
			Dimension: 384,
			BatchSize: 32,
		},
		LLM: LLMConfig{
			Endpoint:    "https://router.huggingface.co/v1",
			Model:       "mistralai/Mistral-7B-Instruct-v0.2",
			Temperature: 0.7,
			MaxTokens:   512,
			Timeout:     Duration(60 * time.Second),
		},
		Retrieval: RetrievalConfig{
			TopK:            3,
			ChunkSize:       1000,
			ChunkOverlap:    200,
			MinScore:        0,
			MaxContextChars: 6000,
		},
		Wiki: WikiConfig{
			Language:          "en",
			Category:          "Formula_One_races",
			MaxDepth:          1,
			MaxArticles:       200,
			Workers:           4,
			RequestsPerSecond: 5,
			UserAgent:         "f1rag/1.0 (https://github.com/Yates-Labs/f1rag)",
			ArticlesDir:       "data/articles",
		},
		Store: StoreConfig{
			Backend:          "memory",
			MilvusAddress:    "localhost:19530",
			MilvusCollection: "f1rag_chunks",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(90 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a Config from defaults, the optional TOML file at path, a .env file
// in the working directory and the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = getEnvAsInt("EMBEDDING_DIMENSION", c.Embedding.Dimension)
	c.Embedding.BatchSize = getEnvAsInt("EMBEDDING_BATCH_SIZE", c.Embedding.BatchSize)

	c.LLM.Endpoint = getEnv("LLM_ENDPOINT", c.LLM.Endpoint)
	c.LLM.APIKey = getEnv("LLM_API_KEY", getEnv("HUGGINGFACE_API_KEY", c.LLM.APIKey))
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = getEnvAsFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = getEnvAsInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Timeout = Duration(getEnvAsDuration("LLM_TIMEOUT", c.LLM.Timeout.Std()))

	// The embedding endpoint and key follow the LLM ones unless set explicitly.
	c.Embedding.Endpoint = getEnv("EMBEDDING_ENDPOINT", c.Embedding.Endpoint)
	if c.Embedding.Endpoint == "" {
		c.Embedding.Endpoint = c.LLM.Endpoint
	}
	c.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedding.APIKey)
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.LLM.APIKey
	}

	c.Retrieval.TopK = getEnvAsInt("TOP_K", c.Retrieval.TopK)
	c.Retrieval.ChunkSize = getEnvAsInt("CHUNK_SIZE", c.Retrieval.ChunkSize)
	c.Retrieval.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", c.Retrieval.ChunkOverlap)
	c.Retrieval.MinScore = getEnvAsFloat("MIN_SCORE", c.Retrieval.MinScore)
	c.Retrieval.MaxContextChars = getEnvAsInt("MAX_CONTEXT_CHARS", c.Retrieval.MaxContextChars)

	c.Wiki.Language = getEnv("WIKI_LANGUAGE", c.Wiki.Language)
	c.Wiki.Category = getEnv("WIKI_CATEGORY", c.Wiki.Category)
	c.Wiki.MaxDepth = getEnvAsInt("WIKI_MAX_DEPTH", c.Wiki.MaxDepth)
	c.Wiki.MaxArticles = getEnvAsInt("WIKI_MAX_ARTICLES", c.Wiki.MaxArticles)
	c.Wiki.Workers = getEnvAsInt("WIKI_WORKERS", c.Wiki.Workers)
	c.Wiki.RequestsPerSecond = getEnvAsFloat("WIKI_REQUESTS_PER_SECOND", c.Wiki.RequestsPerSecond)
	c.Wiki.UserAgent = getEnv("WIKI_USER_AGENT", c.Wiki.UserAgent)
	c.Wiki.ArticlesDir = getEnv("ARTICLES_DIR", c.Wiki.ArticlesDir)

	c.Store.Backend = strings.ToLower(getEnv("VECTOR_STORE", c.Store.Backend))
	c.Store.MilvusAddress = getEnv("MILVUS_ADDRESS", c.Store.MilvusAddress)
	c.Store.MilvusCollection = getEnv("MILVUS_COLLECTION", c.Store.MilvusCollection)

	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks value ranges. Credentials are checked separately by
// RequireLLM and RequireEmbedder since not every command needs them.
func (c *Config) Validate() error {
	if c.Embedding.Model == "" {
		return invalid("EMBEDDING_MODEL", "must not be empty")
	}
	if c.Embedding.BatchSize < 1 {
		return invalid("EMBEDDING_BATCH_SIZE", "must be at least 1")
	}
	if c.Retrieval.TopK < 1 {
		return invalid("TOP_K", "must be at least 1")
	}
	if c.Retrieval.ChunkSize < 1 {
		return invalid("CHUNK_SIZE", "must be at least 1")
	}
	if c.Retrieval.ChunkOverlap < 0 {
		return invalid("CHUNK_OVERLAP", "must not be negative")
	}
	if c.Wiki.Workers < 1 {
		return invalid("WIKI_WORKERS", "must be at least 1")
	}
	if c.Wiki.MaxDepth < 0 {
		return invalid("WIKI_MAX_DEPTH", "must not be negative")
	}
	switch c.Store.Backend {
	case "memory", "milvus":
	default:
		return invalid("VECTOR_STORE", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}
	if c.LLM.Timeout <= 0 {
		return invalid("LLM_TIMEOUT", "must be positive")
	}
	return nil
}

// RequireLLM returns a ConfigError when the hosted LLM cannot be called.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return &ConfigError{Key: "LLM_API_KEY", Err: ErrMissingRequired}
	}
	if c.LLM.Endpoint == "" {
		return &ConfigError{Key: "LLM_ENDPOINT", Err: ErrMissingRequired}
	}
	return nil
}

// RequireEmbedder returns a ConfigError when a hosted embedding model is selected
// without credentials. Local hashing models need nothing.
func (c *Config) RequireEmbedder() error {
	if IsLocalEmbeddingModel(c.Embedding.Model) {
		return nil
	}
	if c.Embedding.APIKey == "" {
		return &ConfigError{Key: "LLM_API_KEY", Err: ErrMissingRequired}
	}
	if c.Embedding.Endpoint == "" {
		return &ConfigError{Key: "EMBEDDING_ENDPOINT", Err: ErrMissingRequired}
	}
	return nil
}

// IsLocalEmbeddingModel reports whether model names the built-in hashing embedder.
func IsLocalEmbeddingModel(model string) bool {
	return model == "hashing" || strings.HasPrefix(model, "hashing-")
}

// WikiAPIURL returns the MediaWiki Action API endpoint for the configured language.
func (c *WikiConfig) WikiAPIURL() string {
	return fmt.Sprintf("https://%s.wikipedia.org/w/api.php", c.Language)
}

func invalid(key, msg string) error {
	return &ConfigError{Key: key, Err: fmt.Errorf("%w: %s", ErrInvalidValue, msg)}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
