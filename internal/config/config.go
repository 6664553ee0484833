package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"rag-assistant/internal/models"
)

type Config struct {
	Document DocumentConfig `yaml:"document"`
	RAG      RAGConfig      `yaml:"rag"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	LLM      LLMConfig      `yaml:"llm"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Log      LogConfig      `yaml:"log"`
}

type DocumentConfig struct {
	Path string `yaml:"path"`
	// SkipPages drops leading pages such as front matter and table of contents.
	SkipPages int `yaml:"skip_pages"`
}

type RAGConfig struct {
	ChunkSize        int      `yaml:"chunk_size"`
	ChunkOverlap     int      `yaml:"chunk_overlap"`
	Separators       []string `yaml:"separators"`
	TopK             int      `yaml:"top_k"`
	HistorySize      int      `yaml:"history_size"`
	MaxContextChars  int      `yaml:"max_context_chars"`
	EmbedBatchSize   int      `yaml:"embed_batch_size"`
	EmbedConcurrency int      `yaml:"embed_concurrency"`
	EncryptionKey    string   `yaml:"encryption_key"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	Key            string `yaml:"key"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

type StoreConfig struct {
	// Backend is either "chromem" or "pgvector".
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	InMemory   bool   `yaml:"in_memory"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	// Driver is "pgdriver" (default) or "pq".
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Password   string `yaml:"password"`
	Table      string `yaml:"table"`
	VectorSize int    `yaml:"vector_size"`
	Debug      bool   `yaml:"debug"`
}

type ServerConfig struct {
	Addr                  string `yaml:"addr"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxSessions           int    `yaml:"max_sessions"`
}

type PromptPreset struct {
	System      string   `yaml:"system"`
	Human       string   `yaml:"human"`
	Temperature *float64 `yaml:"temperature"`
}

type PromptConfig struct {
	Chat   PromptPreset `yaml:"chat"`
	Server PromptPreset `yaml:"server"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	defaultDocumentPath     = "./ai_ml_bok_kap1_kap2.pdf"
	defaultSkipPages        = 13
	defaultChunkSize        = 1000
	defaultChunkOverlap     = 200
	defaultTopK             = 5
	defaultHistorySize      = 10
	defaultMaxContextChars  = 12000
	defaultEmbedBatchSize   = 32
	defaultEmbedConcurrency = 4
	defaultStorePath        = "./chroma_db"
	defaultCollection       = "documents"
	defaultTable            = "rag_chunks"
	defaultVectorSize       = 384
	defaultServerAddr       = ":5000"
	defaultRequestTimeout   = 120
	defaultMaxSessions      = 1000
	defaultModelTimeout     = 60
	defaultMaxRetries       = 3
	defaultHashDimensions   = 256
	defaultChatTemperature  = 0.3
)

// LoadConfig reads the YAML file at path, applies environment overrides and
// fills defaults. A missing file is not an error: defaults and environment apply.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	c.Document.Path = getEnv("RAG_DOCUMENT_PATH", c.Document.Path)
	c.Document.SkipPages = getEnvInt("RAG_SKIP_PAGES", c.Document.SkipPages)
	c.Store.Path = getEnv("RAG_STORE_PATH", c.Store.Path)
	c.Store.Backend = getEnv("RAG_STORE_BACKEND", c.Store.Backend)
	c.RAG.EncryptionKey = getEnv("RAG_ENCRYPTION_KEY", c.RAG.EncryptionKey)
	c.RAG.TopK = getEnvInt("RAG_TOP_K", c.RAG.TopK)

	c.EmbedLLM.Provider = getEnv("RAG_EMBED_PROVIDER", c.EmbedLLM.Provider)
	c.EmbedLLM.Model = getEnv("RAG_EMBED_MODEL", c.EmbedLLM.Model)
	c.EmbedLLM.BaseURL = getEnv("RAG_EMBED_BASE_URL", c.EmbedLLM.BaseURL)
	c.EmbedLLM.Key = getEnv("RAG_EMBED_API_KEY", c.EmbedLLM.Key)

	c.LLM.Provider = getEnv("RAG_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("RAG_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("RAG_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Key = getEnv("RAG_LLM_API_KEY", c.LLM.Key)
	if c.LLM.Key == "" {
		c.LLM.Key = os.Getenv("OPENAI_API_KEY")
	}
	if c.EmbedLLM.Key == "" && c.EmbedLLM.Provider == "openai" {
		c.EmbedLLM.Key = c.LLM.Key
	}

	c.Database.DSN = getEnv("RAG_DATABASE_DSN", c.Database.DSN)
	c.Database.Password = getEnv("RAG_DATABASE_PASSWORD", c.Database.Password)
	c.Server.Addr = getEnv("RAG_SERVER_ADDR", c.Server.Addr)
	c.Log.Level = getEnv("RAG_LOG_LEVEL", c.Log.Level)
}

func (c *Config) applyDefaults() {
	if c.Document.Path == "" {
		c.Document.Path = defaultDocumentPath
		if c.Document.SkipPages == 0 {
			c.Document.SkipPages = defaultSkipPages
		}
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if len(c.RAG.Separators) == 0 {
		c.RAG.Separators = append([]string(nil), models.DefaultSeparators...)
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.HistorySize == 0 {
		c.RAG.HistorySize = defaultHistorySize
	}
	if c.RAG.MaxContextChars == 0 {
		c.RAG.MaxContextChars = defaultMaxContextChars
	}
	if c.RAG.EmbedBatchSize == 0 {
		c.RAG.EmbedBatchSize = defaultEmbedBatchSize
	}
	if c.RAG.EmbedConcurrency == 0 {
		c.RAG.EmbedConcurrency = defaultEmbedConcurrency
	}

	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = "ollama"
	}
	if c.EmbedLLM.Model == "" && c.EmbedLLM.Provider == "ollama" {
		c.EmbedLLM.Model = "all-minilm"
	}
	if c.EmbedLLM.Dimensions == 0 {
		c.EmbedLLM.Dimensions = defaultHashDimensions
	}
	c.EmbedLLM.applyCallDefaults()

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.5-flash"
	}
	if c.LLM.BaseURL == "" && c.LLM.Provider == "openai" {
		c.LLM.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	}
	c.LLM.applyCallDefaults()

	if c.Store.Backend == "" {
		c.Store.Backend = "chromem"
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.Collection == "" {
		c.Store.Collection = defaultCollection
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	if c.Database.Table == "" {
		c.Database.Table = defaultTable
	}
	if c.Database.VectorSize == 0 {
		c.Database.VectorSize = defaultVectorSize
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Server.RequestTimeoutSeconds == 0 {
		c.Server.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if c.Server.MaxSessions == 0 {
		c.Server.MaxSessions = defaultMaxSessions
	}

	c.Prompt.Chat.fill(models.ChatSystemPrompt, defaultChatTemperature)
	c.Prompt.Server.fill(models.ServerSystemPrompt, 0)

	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
}

func (l *LLMConfig) applyCallDefaults() {
	if l.TimeoutSeconds == 0 {
		l.TimeoutSeconds = defaultModelTimeout
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = defaultMaxRetries
	}
}

func (p *PromptPreset) fill(system string, temperature float64) {
	if p.System == "" {
		p.System = system
	}
	if p.Human == "" {
		p.Human = models.HumanPrompt
	}
	if p.Temperature == nil {
		p.Temperature = &temperature
	}
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", c.RAG.HistorySize)
	}
	if c.Document.SkipPages < 0 {
		return fmt.Errorf("skip_pages must not be negative, got %d", c.Document.SkipPages)
	}
	if k := c.RAG.EncryptionKey; k != "" && len(k) != 32 {
		return errors.New("encryption_key must be 32 bytes long")
	}
	switch c.Store.Backend {
	case "chromem", "pgvector":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
