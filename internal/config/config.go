package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"

	appErr "github.com/xxxsen/legisrag/internal/pkg/errors"
)

const (
	DefaultChunkMaxSize    = 500
	DefaultChunkOverlap    = 50
	DefaultMaxTopK         = 50
	DefaultEmbedBatchSize  = 32
	DefaultEmbedAttempts   = 4
	DefaultIngestLimit     = 100
	DefaultIngestParallel  = 4
	DefaultIngestAttempts  = 5
	DefaultEmbedTimeoutSec = 30
)

type Config struct {
	Port          int                 `json:"port"`
	LogConfig     logger.LogConfig    `json:"log_config"`
	API           APIConfig           `json:"api"`
	Database      DatabaseConfig      `json:"database"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	Chunking      ChunkingConfig      `json:"chunking"`
	VectorBackend VectorBackendConfig `json:"vector_backend"`
	BlobStore     BlobStoreConfig     `json:"blob_store"`
	Ingest        IngestConfig        `json:"ingest"`
	Retrieval     RetrievalConfig     `json:"retrieval"`
	Discovery     DiscoveryConfig     `json:"discovery"`
	Schedule      ScheduleConfig      `json:"schedule"`
}

type APIConfig struct {
	CORSOrigins []string `json:"cors_origins"`
	// largest accepted POST /scrapes body
	MaxScrapeBytes int64 `json:"max_scrape_bytes"`
	// minimum seconds between two manual batch starts from one client
	RunStartInterval int `json:"run_start_interval"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
	MaxConns int    `json:"max_conns"`
}

type EmbeddingConfig struct {
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	Dimension      int         `json:"dimension"`
	BatchSize      int         `json:"batch_size"`
	Concurrency    int         `json:"concurrency"`
	MaxAttempts    int         `json:"max_attempts"`
	BackoffMs      int         `json:"backoff_ms"`
	MaxBackoffMs   int         `json:"max_backoff_ms"`
	Timeout        int         `json:"timeout"`
	RatePerSecond  float64     `json:"rate_per_second"`
	QueryCacheSize int         `json:"query_cache_size"`
	QueryCacheTTL  int         `json:"query_cache_ttl"`
	CacheMaxDays   int         `json:"cache_max_days"`
	DisableDBCache bool        `json:"disable_db_cache"`
	Data           interface{} `json:"data"`
	// tried in order when the primary provider fails; same model and dimension
	Fallbacks []EmbeddingFallback `json:"fallbacks"`
}

type EmbeddingFallback struct {
	Provider string      `json:"provider"`
	Data     interface{} `json:"data"`
}

type ChunkingConfig struct {
	MaxSize int `json:"max_size"`
	Overlap int `json:"overlap"`
}

type VectorBackendConfig struct {
	Type string `json:"type"`
}

type BlobStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type IngestConfig struct {
	Concurrency int `json:"concurrency"`
	BatchLimit  int `json:"batch_limit"`
	// a scrape that failed this many times is left for manual inspection
	MaxAttempts int `json:"max_attempts"`
}

type RetrievalConfig struct {
	MaxTopK  int     `json:"max_top_k"`
	MinScore float64 `json:"min_score"`
}

type DiscoveryConfig struct {
	Enabled       bool     `json:"enabled"`
	Provider      string   `json:"provider"`
	Endpoint      string   `json:"endpoint"`
	APIKey        string   `json:"api_key"`
	SourceID      string   `json:"source_id"`
	Queries       []string `json:"queries"`
	MaxResults    int      `json:"max_results"`
	RatePerSecond float64  `json:"rate_per_second"`
	Timeout       int      `json:"timeout"`
	UserAgent     string   `json:"user_agent"`
	Jurisdiction  string   `json:"jurisdiction"`
	SourceType    string   `json:"source_type"`
}

// ScrapeMetadata is the metadata discovery stamps on the scrapes it stores.
func (d DiscoveryConfig) ScrapeMetadata() map[string]string {
	meta := map[string]string{}
	if v := strings.TrimSpace(d.Jurisdiction); v != "" {
		meta["jurisdiction"] = v
	}
	if v := strings.TrimSpace(d.SourceType); v != "" {
		meta["source_type"] = v
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

type ScheduleConfig struct {
	Ingest       string `json:"ingest"`
	Discovery    string `json:"discovery"`
	CacheCleanup string `json:"cache_cleanup"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// .env is optional; real environment wins over it.
	_ = godotenv.Load()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LEGISRAG_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("LEGISRAG_EMBED_API_KEY"); v != "" {
		data, _ := c.Embedding.Data.(map[string]interface{})
		if data == nil {
			data = map[string]interface{}{}
		}
		data["api_key"] = v
		c.Embedding.Data = data
	}
	if v := os.Getenv("LEGISRAG_SEARCH_API_KEY"); v != "" {
		c.Discovery.APIKey = v
	}
	id, key := os.Getenv("LEGISRAG_S3_SECRET_ID"), os.Getenv("LEGISRAG_S3_SECRET_KEY")
	if id != "" || key != "" {
		data, _ := c.BlobStore.Data.(map[string]interface{})
		if data == nil {
			data = map[string]interface{}{}
		}
		if id != "" {
			data["secret_id"] = id
		}
		if key != "" {
			data["secret_key"] = key
		}
		c.BlobStore.Data = data
	}
}

// Validate fills defaults and rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.API.MaxScrapeBytes <= 0 {
		c.API.MaxScrapeBytes = 20 << 20
	}
	if c.API.RunStartInterval < 0 {
		c.API.RunStartInterval = 0
	}
	if c.VectorBackend.Type == "" {
		c.VectorBackend.Type = "pgvector"
	}
	switch c.VectorBackend.Type {
	case "pgvector", "memory":
	default:
		return configErr("vector_backend.type must be pgvector or memory")
	}
	// scrapes and run audit live in postgres whatever the vector backend
	if c.Database.DSN == "" && c.Database.Host == "" {
		return configErr("database.dsn or database.host is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}

	if c.Chunking.MaxSize == 0 {
		c.Chunking.MaxSize = DefaultChunkMaxSize
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = DefaultChunkOverlap
	}
	if c.Chunking.MaxSize < 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxSize {
		return configErr(fmt.Sprintf("chunking.overlap (%d) must be >= 0 and < chunking.max_size (%d)", c.Chunking.Overlap, c.Chunking.MaxSize))
	}

	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
	if c.Embedding.Provider == "" {
		return configErr("embedding.provider is required")
	}
	if c.Embedding.Model == "" {
		return configErr("embedding.model is required")
	}
	if c.Embedding.Dimension <= 0 {
		return configErr("embedding.dimension must be > 0")
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = DefaultEmbedBatchSize
	}
	if c.Embedding.Concurrency <= 0 {
		c.Embedding.Concurrency = 2
	}
	if c.Embedding.MaxAttempts <= 0 {
		c.Embedding.MaxAttempts = DefaultEmbedAttempts
	}
	if c.Embedding.BackoffMs <= 0 {
		c.Embedding.BackoffMs = 500
	}
	if c.Embedding.MaxBackoffMs <= 0 {
		c.Embedding.MaxBackoffMs = 10000
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = DefaultEmbedTimeoutSec
	}
	if c.Embedding.Data == nil {
		return configErr("embedding.data (provider credentials) is required")
	}
	for i, fb := range c.Embedding.Fallbacks {
		if strings.TrimSpace(fb.Provider) == "" {
			return configErr(fmt.Sprintf("embedding.fallbacks[%d].provider is required", i))
		}
	}

	if c.BlobStore.Type == "" {
		c.BlobStore.Type = "none"
	}
	switch c.BlobStore.Type {
	case "none", "local", "s3":
	default:
		return configErr("blob_store.type must be none, local or s3")
	}

	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = DefaultIngestParallel
	}
	if c.Ingest.BatchLimit <= 0 {
		c.Ingest.BatchLimit = DefaultIngestLimit
	}
	if c.Ingest.MaxAttempts <= 0 {
		c.Ingest.MaxAttempts = DefaultIngestAttempts
	}
	if c.Retrieval.MaxTopK <= 0 || c.Retrieval.MaxTopK > DefaultMaxTopK {
		c.Retrieval.MaxTopK = DefaultMaxTopK
	}

	if c.Discovery.Enabled {
		if c.Discovery.Endpoint == "" {
			return configErr("discovery.endpoint is required when discovery is enabled")
		}
		if c.Discovery.SourceID == "" {
			c.Discovery.SourceID = "discovery"
		}
		if c.Discovery.Provider == "" {
			c.Discovery.Provider = "searchapi"
		}
	}
	if c.Schedule.Ingest == "" {
		c.Schedule.Ingest = "*/10 * * * *"
	}
	if c.Schedule.CacheCleanup == "" {
		c.Schedule.CacheCleanup = "30 3 * * *"
	}
	if c.Schedule.Discovery == "" {
		c.Schedule.Discovery = "0 */6 * * *"
	}
	return nil
}

func configErr(msg string) error {
	return fmt.Errorf("%w: %s", appErr.ErrConfig, msg)
}
