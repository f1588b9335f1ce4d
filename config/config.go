// Package config loads the ragchat application configuration from a YAML or
// TOML file, .env files and the environment.
//
// Precedence, lowest first: built-in defaults, the config file, environment
// variables. A .env file only sets variables that are not already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvGroqAPIKey      = "GROQ_API_KEY"
	EnvEmbeddingAPIKey = "RAGCHAT_EMBEDDING_API_KEY"
	EnvEncryptionKey   = "RAGCHAT_ENCRYPTION_KEY"
	EnvDataDir         = "RAGCHAT_DATA_DIR"
	EnvAddr            = "RAGCHAT_ADDR"
	EnvEmbeddingHost   = "RAGCHAT_EMBEDDING_HOST"
	EnvEmbeddingModel  = "RAGCHAT_EMBEDDING_MODEL"
	EnvGenerationHost  = "RAGCHAT_GENERATION_HOST"
	EnvGenerationModel = "RAGCHAT_GENERATION_MODEL"
	EnvIsolateOwners   = "RAGCHAT_ISOLATE_OWNERS"
)

// DefaultFiles are tried in order by LoadDefault.
var DefaultFiles = []string{"ragchat.yaml", "ragchat.yml", "ragchat.toml"}

// Config is the root application configuration.
type Config struct {
	DataDir       string          `yaml:"data_dir" toml:"data_dir"`
	EncryptionKey string          `yaml:"encryption_key,omitempty" toml:"encryption_key,omitempty"`
	Server        ServerConfig    `yaml:"server" toml:"server"`
	AI            AIConfig        `yaml:"ai" toml:"ai"`
	Chunking      ChunkingConfig  `yaml:"chunking" toml:"chunking"`
	Retrieval     RetrievalConfig `yaml:"retrieval" toml:"retrieval"`
	Memory        MemoryConfig    `yaml:"memory" toml:"memory"`
	Ingest        IngestConfig    `yaml:"ingest" toml:"ingest"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr             string `yaml:"addr" toml:"addr"`
	MaxUploadMB      int    `yaml:"max_upload_mb" toml:"max_upload_mb"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_secs" toml:"shutdown_timeout_secs"`
}

// AIConfig configures the embedding and generation services.
type AIConfig struct {
	EmbeddingHost     string  `yaml:"embedding_host" toml:"embedding_host"`
	EmbeddingModel    string  `yaml:"embedding_model" toml:"embedding_model"`
	EmbeddingAPIKey   string  `yaml:"embedding_api_key,omitempty" toml:"embedding_api_key,omitempty"`
	GenerationHost    string  `yaml:"generation_host" toml:"generation_host"`
	GenerationModel   string  `yaml:"generation_model" toml:"generation_model"`
	GenerationAPIKey  string  `yaml:"generation_api_key,omitempty" toml:"generation_api_key,omitempty"`
	MaxTokens         int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature       float64 `yaml:"temperature" toml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries" toml:"max_retries"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// RetrievalConfig configures the vector store and chat orchestration.
type RetrievalConfig struct {
	TopK             int  `yaml:"top_k" toml:"top_k"`
	IsolateOwners    bool `yaml:"isolate_owners" toml:"isolate_owners"`
	BatchSize        int  `yaml:"batch_size" toml:"batch_size"`
	EmbedWorkers     int  `yaml:"embed_workers" toml:"embed_workers"`
	EmbedTimeoutS    int  `yaml:"embed_timeout_secs" toml:"embed_timeout_secs"`
	GenerateTimeoutS int  `yaml:"generate_timeout_secs" toml:"generate_timeout_secs"`
}

// MemoryConfig configures session memory.
type MemoryConfig struct {
	Capacity int `yaml:"capacity" toml:"capacity"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	Workers         int  `yaml:"workers" toml:"workers"`
	ReplaceExisting bool `yaml:"replace_existing" toml:"replace_existing"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		DataDir: "data",
		Server: ServerConfig{
			Addr:             ":8000",
			MaxUploadMB:      32,
			ShutdownTimeoutS: 10,
		},
		AI: AIConfig{
			EmbeddingHost:     aiDefaults.EmbeddingHost,
			EmbeddingModel:    aiDefaults.EmbeddingModel,
			GenerationHost:    aiDefaults.GenerationHost,
			GenerationModel:   aiDefaults.GenerationModel,
			MaxTokens:         aiDefaults.MaxTokens,
			Temperature:       aiDefaults.Temperature,
			RequestsPerSecond: aiDefaults.RequestsPerSecond,
			MaxRetries:        aiDefaults.MaxRetries,
		},
		Chunking: ChunkingConfig{Size: 500, Overlap: 50},
		Retrieval: RetrievalConfig{
			TopK:             3,
			BatchSize:        32,
			EmbedWorkers:     4,
			EmbedTimeoutS:    30,
			GenerateTimeoutS: 60,
		},
		Memory: MemoryConfig{Capacity: 5},
		Ingest: IngestConfig{Workers: 2, ReplaceExisting: true},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml/.yml or .toml. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown config format %q", core.ErrInvalidConfiguration, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrInvalidConfiguration, path, err)
	}
	return cfg, nil
}

// LoadDefault loads the first of DefaultFiles found in dir. When none
// exists it returns the defaults and an empty path.
func LoadDefault(dir string) (*Config, string, error) {
	for _, name := range DefaultFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
// Pass os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvGroqAPIKey, &c.AI.GenerationAPIKey)
	set(EnvEmbeddingAPIKey, &c.AI.EmbeddingAPIKey)
	set(EnvEncryptionKey, &c.EncryptionKey)
	set(EnvDataDir, &c.DataDir)
	set(EnvAddr, &c.Server.Addr)
	set(EnvEmbeddingHost, &c.AI.EmbeddingHost)
	set(EnvEmbeddingModel, &c.AI.EmbeddingModel)
	set(EnvGenerationHost, &c.AI.GenerationHost)
	set(EnvGenerationModel, &c.AI.GenerationModel)

	if v, ok := lookup(EnvIsolateOwners); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", core.ErrInvalidConfiguration, EnvIsolateOwners, err)
		}
		c.Retrieval.IsolateOwners = b
	}
	return nil
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", core.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}
	switch {
	case c.DataDir == "":
		return invalid("data_dir is required")
	case c.Chunking.Size <= 0:
		return invalid("chunking.size must be positive")
	case c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size:
		return invalid("chunking.overlap must be in [0, size)")
	case c.Retrieval.TopK <= 0:
		return invalid("retrieval.top_k must be positive")
	case c.Retrieval.EmbedTimeoutS <= 0 || c.Retrieval.GenerateTimeoutS <= 0:
		return invalid("retrieval timeouts must be positive")
	case c.Memory.Capacity <= 0:
		return invalid("memory.capacity must be positive")
	}
	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)
	}
	return nil
}

// AIConfig converts the AI section to an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithAPIKey(c.AI.GenerationAPIKey),
		ai.WithEmbeddingAPIKey(c.AI.EmbeddingAPIKey),
		ai.WithMaxTokens(c.AI.MaxTokens),
		ai.WithTemperature(c.AI.Temperature),
		ai.WithRequestsPerSecond(c.AI.RequestsPerSecond),
	)
	if c.AI.MaxRetries > 0 {
		cfg.MaxRetries = c.AI.MaxRetries
	}
	return cfg
}

// EmbedTimeout returns the embedding timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Retrieval.EmbedTimeoutS) * time.Second
}

// GenerateTimeout returns the generation timeout.
func (c *Config) GenerateTimeout() time.Duration {
	return time.Duration(c.Retrieval.GenerateTimeoutS) * time.Second
}

// ShutdownTimeout returns how long the server waits for in-flight requests.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutS) * time.Second
}

// MaxUploadBytes returns the upload size limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Paths under DataDir.
func (c *Config) IndexDir() string  { return filepath.Join(c.DataDir, "index") }
func (c *Config) VaultDir() string  { return filepath.Join(c.DataDir, "vault") }
func (c *Config) AuditPath() string { return filepath.Join(c.DataDir, "audit.db") }
func (c *Config) KeyPath() string   { return filepath.Join(c.DataDir, "vault.key") }
