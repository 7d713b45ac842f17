// Package config loads rxsearch configuration from rxsearch.yaml with
// environment overrides. Precedence: defaults, then file, then environment.
// A .env file is honored when present so local runs don't need exported keys.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all rxsearch configuration.
type Config struct {
	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Redis (vector store, indication store, embedding cache, checkpoints)
	Redis RedisConfig `yaml:"redis"`

	// Catalog database (FDB)
	Catalog CatalogConfig `yaml:"catalog"`

	// Vector index layout
	Vector VectorConfig `yaml:"vector"`

	// Search behavior
	Search SearchConfig `yaml:"search"`

	// Ingestion pipeline
	Ingest IngestConfig `yaml:"ingest"`

	// Embedding provider
	Embedding EmbeddingConfig `yaml:"embedding"`

	// LLM query parser
	LLM LLMConfig `yaml:"llm"`

	// Per-dependency timeouts
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig configures the Redis connection shared by the vector store,
// indication store, embedding cache, and ingest checkpoints.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CatalogConfig configures the FDB catalog database connection.
type CatalogConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int    `yaml:"max_conns"`
	IdleTimeout string `yaml:"idle_timeout"`
}

// VectorConfig configures the Redis vector index.
type VectorConfig struct {
	IndexName      string `yaml:"index_name"`
	Prefix         string `yaml:"prefix"`
	Dim            int    `yaml:"dim"`
	M              int    `yaml:"m"`
	EFConstruction int    `yaml:"ef_construction"`
	Quantization   string `yaml:"quantization"`
}

// SearchConfig configures query understanding and the search orchestrator.
type SearchConfig struct {
	EmbeddingModel     string `yaml:"embedding_model"`
	LLMModel           string `yaml:"llm_model"`
	MultiDrugThreshold int    `yaml:"multi_drug_threshold"`
	K1Single           int    `yaml:"k1_single"`
	K1Multi            int    `yaml:"k1_multi"`
	K2Expansion        int    `yaml:"k2_expansion"`
	EFRuntimeDefault   int    `yaml:"ef_runtime_default"`

	// Parsed filters allowed to reach Phase 1. Strength is applied
	// post-expansion by the orchestrator and never belongs here.
	AutoApplyFilters []string `yaml:"auto_apply_filters"`

	// Classes excluded from Phase 2 expansion.
	TherapeuticClassBlacklist []string `yaml:"therapeutic_class_blacklist"`

	// Extra dosage-form tags matched alongside each canonical form.
	DosageFormSynonyms map[string][]string `yaml:"dosage_form_synonyms"`
}

// IngestConfig configures the catalog ingestion pipeline.
type IngestConfig struct {
	BatchSize      int `yaml:"batch_size"`
	Concurrency    int `yaml:"concurrency"`
	SafetyMarginMS int `yaml:"safety_margin_ms"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider     string `yaml:"provider"` // openai, gemini
	OpenAIAPIKey string `yaml:"openai_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	CacheQueries bool   `yaml:"cache_queries"`
	CacheTTL     string `yaml:"cache_ttl"`
}

// LLMConfig configures the query-understanding LLM.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic
	APIKey   string `yaml:"api_key"`
}

// TimeoutConfig holds per-dependency timeouts as duration strings.
type TimeoutConfig struct {
	LLM     string `yaml:"llm"`
	Embed   string `yaml:"embed"`
	Vector  string `yaml:"vector"`
	Enrich  string `yaml:"enrich"`
	Request string `yaml:"request"`
	Ingest  string `yaml:"ingest"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},

		Redis: RedisConfig{
			Addr: "localhost:6379",
		},

		Catalog: CatalogConfig{
			MaxConns:    8,
			IdleTimeout: "5m",
		},

		Vector: VectorConfig{
			IndexName:      "drug_idx",
			Prefix:         "drug:",
			Dim:            1024,
			M:              40,
			EFConstruction: 200,
			Quantization:   "LeanVec4x8",
		},

		Search: SearchConfig{
			EmbeddingModel:     "text-embedding-3-small",
			LLMModel:           "claude-sonnet-4-20250514",
			MultiDrugThreshold: 3,
			K1Single:           20,
			K1Multi:            8,
			K2Expansion:        100,
			EFRuntimeDefault:   10,
			AutoApplyFilters: []string{
				"dosage_form", "dea_schedule", "is_generic", "ndc", "gcn_seqno",
			},
			TherapeuticClassBlacklist: []string{
				"Bulk Chemicals", "Miscellaneous", "Uncategorized", "Not Specified",
			},
			DosageFormSynonyms: map[string][]string{
				"INJECTION": {"VIAL", "SYRINGE", "SOLUTION"},
			},
		},

		Ingest: IngestConfig{
			BatchSize:      100,
			Concurrency:    8,
			SafetyMarginMS: 30000,
		},

		Embedding: EmbeddingConfig{
			Provider:     "openai",
			CacheQueries: true,
			CacheTTL:     "720h",
		},

		LLM: LLMConfig{
			Provider: "anthropic",
		},

		Timeouts: TimeoutConfig{
			LLM:     "10s",
			Embed:   "5s",
			Vector:  "2s",
			Enrich:  "3s",
			Request: "30s",
			Ingest:  "900s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment variables override both.
func Load(path string) (*Config, error) {
	// Best effort; absent .env is the normal case in production.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}

	if v := os.Getenv("CATALOG_DSN"); v != "" {
		c.Catalog.DSN = v
	}
	if v := os.Getenv("CATALOG_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Catalog.MaxConns = n
		}
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Search.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Search.LLMModel = v
	}
	if v := os.Getenv("MULTI_DRUG_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.MultiDrugThreshold = n
		}
	}
	if v := os.Getenv("K1_SINGLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.K1Single = n
		}
	}
	if v := os.Getenv("K1_MULTI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.K1Multi = n
		}
	}
	if v := os.Getenv("K2_EXPANSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.K2Expansion = n
		}
	}
	if v := os.Getenv("EF_RUNTIME_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.EFRuntimeDefault = n
		}
	}
	if v := os.Getenv("AUTO_APPLY_FILTERS"); v != "" {
		c.Search.AutoApplyFilters = splitList(v, ",")
	}
	if v := os.Getenv("THERAPEUTIC_CLASS_BLACKLIST"); v != "" {
		c.Search.TherapeuticClassBlacklist = splitList(v, ",")
	}
	if v := os.Getenv("DOSAGE_FORM_SYNONYMS"); v != "" {
		if m := ParseDosageFormSynonyms(v); len(m) > 0 {
			c.Search.DosageFormSynonyms = m
		}
	}

	if v := os.Getenv("INGEST_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ingest.BatchSize = n
		}
	}
	if v := os.Getenv("INGEST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ingest.Concurrency = n
		}
	}
	if v := os.Getenv("INGEST_SAFETY_MARGIN_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ingest.SafetyMarginMS = n
		}
	}

	if v := os.Getenv("EMBED_CACHE_QUERIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Embedding.CacheQueries = b
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Embedding.OpenAIAPIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GeminiAPIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// ParseDosageFormSynonyms parses the DOSAGE_FORM_SYNONYMS format:
// "form=TAG|TAG;form2=TAG". Forms and tags are uppercased.
func ParseDosageFormSynonyms(s string) map[string][]string {
	out := make(map[string][]string)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		form, tags, ok := strings.Cut(entry, "=")
		form = strings.ToUpper(strings.TrimSpace(form))
		if !ok || form == "" {
			continue
		}
		var list []string
		for _, tag := range strings.Split(tags, "|") {
			tag = strings.ToUpper(strings.TrimSpace(tag))
			if tag != "" {
				list = append(list, tag)
			}
		}
		if len(list) > 0 {
			out[form] = list
		}
	}
	return out
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// AutoApplySet returns the auto-apply whitelist as a set for O(1) lookups.
func (c *SearchConfig) AutoApplySet() map[string]bool {
	set := make(map[string]bool, len(c.AutoApplyFilters))
	for _, f := range c.AutoApplyFilters {
		set[strings.ToLower(strings.TrimSpace(f))] = true
	}
	return set
}

// ============================================================================
// Duration helpers
// ============================================================================

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// LLMTimeout returns the LLM call timeout.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.Timeouts.LLM, 10*time.Second)
}

// EmbedTimeout returns the embedding call timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return parseDuration(c.Timeouts.Embed, 5*time.Second)
}

// VectorTimeout returns the per-query vector store timeout.
func (c *Config) VectorTimeout() time.Duration {
	return parseDuration(c.Timeouts.Vector, 2*time.Second)
}

// EnrichTimeout returns the catalog enrichment timeout.
func (c *Config) EnrichTimeout() time.Duration {
	return parseDuration(c.Timeouts.Enrich, 3*time.Second)
}

// RequestTimeout returns the end-to-end HTTP request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Timeouts.Request, 30*time.Second)
}

// IngestTimeout returns the whole-batch ingestion timeout.
func (c *Config) IngestTimeout() time.Duration {
	return parseDuration(c.Timeouts.Ingest, 900*time.Second)
}

// CatalogIdleTimeout returns the catalog connection idle timeout.
func (c *Config) CatalogIdleTimeout() time.Duration {
	return parseDuration(c.Catalog.IdleTimeout, 5*time.Minute)
}

// EmbedCacheTTL returns the embedding cache entry TTL.
func (c *Config) EmbedCacheTTL() time.Duration {
	return parseDuration(c.Embedding.CacheTTL, 720*time.Hour)
}

// IngestSafetyMargin returns the wall-clock margin kept before the ingest
// deadline when deciding whether to start another batch.
func (c *Config) IngestSafetyMargin() time.Duration {
	return time.Duration(c.Ingest.SafetyMarginMS) * time.Millisecond
}

// ============================================================================
// Validation
// ============================================================================

// ValidEmbeddingProviders lists the supported embedding providers.
var ValidEmbeddingProviders = []string{"openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty")
	}

	if c.Vector.Dim <= 0 {
		return fmt.Errorf("vector.dim must be positive, got %d", c.Vector.Dim)
	}
	if c.Vector.IndexName == "" || c.Vector.Prefix == "" {
		return fmt.Errorf("vector.index_name and vector.prefix must not be empty")
	}
	if c.Vector.M < 2 {
		return fmt.Errorf("vector.m must be at least 2, got %d", c.Vector.M)
	}
	if c.Vector.EFConstruction < c.Vector.M {
		return fmt.Errorf("vector.ef_construction must be >= vector.m")
	}

	if c.Search.MultiDrugThreshold < 1 {
		return fmt.Errorf("search.multi_drug_threshold must be at least 1, got %d", c.Search.MultiDrugThreshold)
	}
	if c.Search.K1Single < 1 || c.Search.K1Multi < 1 || c.Search.K2Expansion < 1 {
		return fmt.Errorf("search k values must be positive")
	}
	if c.Search.EFRuntimeDefault < 1 {
		return fmt.Errorf("search.ef_runtime_default must be positive, got %d", c.Search.EFRuntimeDefault)
	}

	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be positive, got %d", c.Ingest.Concurrency)
	}
	if c.Ingest.SafetyMarginMS < 0 {
		return fmt.Errorf("ingest.safety_margin_ms must not be negative, got %d", c.Ingest.SafetyMarginMS)
	}

	validProvider := false
	for _, p := range ValidEmbeddingProviders {
		if c.Embedding.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}

	return nil
}
