package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Users     []User          `yaml:"users"`
	Store     StoreConfig     `yaml:"store"`
	Storage   StorageConfig   `yaml:"storage"`
	Extractor ExtractorConfig `yaml:"extractor"`
	LLM       LLMConfig       `yaml:"llm"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Upload    UploadConfig    `yaml:"upload"`
}

type ServerConfig struct {
	Port            int `yaml:"port" env:"PORT"`
	RateLimit       int `yaml:"rate_limit"`
	ShutdownTimeout int `yaml:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

// StoreConfig bounds the in-memory job registry
type StoreConfig struct {
	MaxJobs      int           `yaml:"max_jobs"`
	Retention    time.Duration `yaml:"retention"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

type StorageConfig struct {
	Backend  string      `yaml:"backend" env:"STORAGE_BACKEND"` // local, minio
	LocalDir string      `yaml:"local_dir"`
	Minio    MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey  string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey  string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type ExtractorConfig struct {
	Mode   string       `yaml:"mode"` // local, mineru
	Mineru MineruConfig `yaml:"mineru"`
}

type MineruConfig struct {
	APIURL       string        `yaml:"api_url"`
	APIToken     string        `yaml:"api_token" env:"MINERU_API_TOKEN"`
	ModelVersion string        `yaml:"model_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

type LLMConfig struct {
	Provider        string        `yaml:"provider" env:"LLM_PROVIDER"` // openai, anthropic, local
	Model           string        `yaml:"model" env:"LLM_MODEL"`
	APIKey          string        `yaml:"api_key"`
	OpenAIAPIKey    string        `yaml:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string        `yaml:"-" env:"ANTHROPIC_API_KEY"`
	BaseURL         string        `yaml:"base_url" env:"LLM_BASE_URL"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig controls retries at the LLM client boundary. MaxAttempts of 1
// disables retrying.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// AnalysisConfig holds the chunking thresholds. They differ between hosted
// and local models, so none of them are fixed.
type AnalysisConfig struct {
	SingleShotThreshold int  `yaml:"single_shot_threshold"`
	ChunkSize           int  `yaml:"chunk_size"`
	MaxDocumentChars    int  `yaml:"max_document_chars"`
	SnapToWhitespace    bool `yaml:"snap_to_whitespace"`
	MaxConcurrentChunks int  `yaml:"max_concurrent_chunks"`
}

type UploadConfig struct {
	MaxFileSizeMB     int      `yaml:"max_file_size_mb" env:"MAX_FILE_SIZE"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

var GlobalConfig *Config

// Load reads the YAML file, applies defaults and then environment overrides.
// A .env file next to the working directory is honoured when present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	cfg.Analysis.SnapToWhitespace = true
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3005
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Store.MaxJobs == 0 {
		c.Store.MaxJobs = 100
	}
	if c.Store.Retention == 0 {
		c.Store.Retention = 24 * time.Hour
	}
	if c.Store.ReapInterval == 0 {
		c.Store.ReapInterval = 10 * time.Minute
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "./data"
	}
	if c.Storage.Minio.Region == "" {
		c.Storage.Minio.Region = "us-east-1"
	}
	if c.Storage.Minio.ExpireDays == 0 {
		c.Storage.Minio.ExpireDays = 7
	}
	if c.Extractor.Mode == "" {
		c.Extractor.Mode = "local"
	}
	if c.Extractor.Mineru.ModelVersion == "" {
		c.Extractor.Mineru.ModelVersion = "vlm"
	}
	if c.Extractor.Mineru.PollInterval == 0 {
		c.Extractor.Mineru.PollInterval = 5 * time.Second
	}
	if c.Extractor.Mineru.MaxPolls == 0 {
		c.Extractor.Mineru.MaxPolls = 60
	}
	c.LLM.applyDefaults()
	if c.Analysis.SingleShotThreshold == 0 {
		c.Analysis.SingleShotThreshold = 60000
	}
	if c.Analysis.ChunkSize == 0 {
		c.Analysis.ChunkSize = 40000
	}
	if c.Analysis.MaxDocumentChars == 0 {
		c.Analysis.MaxDocumentChars = 400000
	}
	if c.Analysis.MaxConcurrentChunks == 0 {
		c.Analysis.MaxConcurrentChunks = 1
	}
	if c.Upload.MaxFileSizeMB == 0 {
		c.Upload.MaxFileSizeMB = 50
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = []string{"pdf", "docx", "xlsx"}
	}
}

func (c *LLMConfig) applyDefaults() {
	if c.Provider == "" {
		// Pick whichever hosted provider has a key, Anthropic first
		switch {
		case c.AnthropicAPIKey != "":
			c.Provider = "anthropic"
		default:
			c.Provider = "openai"
		}
	}
	if c.APIKey == "" {
		switch c.Provider {
		case "anthropic":
			c.APIKey = c.AnthropicAPIKey
		case "openai":
			c.APIKey = c.OpenAIAPIKey
		}
	}
	if c.Model == "" {
		switch c.Provider {
		case "anthropic":
			c.Model = "claude-sonnet-4-20250514"
		case "local":
			c.Model = "llama3.1"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.Provider == "local" && c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434/v1"
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 5 * time.Minute
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.BackoffBase == 0 {
		c.Retry.BackoffBase = 2 * time.Second
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 30 * time.Second
	}
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	a := c.Analysis
	if a.ChunkSize <= 0 {
		return fmt.Errorf("analysis.chunk_size must be positive")
	}
	if a.SingleShotThreshold <= a.ChunkSize {
		return fmt.Errorf("analysis.single_shot_threshold (%d) must exceed analysis.chunk_size (%d)",
			a.SingleShotThreshold, a.ChunkSize)
	}
	if a.MaxDocumentChars < a.SingleShotThreshold {
		return fmt.Errorf("analysis.max_document_chars (%d) must be at least analysis.single_shot_threshold (%d)",
			a.MaxDocumentChars, a.SingleShotThreshold)
	}
	if a.MaxConcurrentChunks < 1 {
		return fmt.Errorf("analysis.max_concurrent_chunks must be at least 1")
	}

	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Extractor.Mode {
	case "local":
	case "mineru":
		// MinerU fetches the document itself, so it needs a presigned URL
		if c.Storage.Backend != "minio" {
			return fmt.Errorf("extractor.mode mineru requires storage.backend minio")
		}
	default:
		return fmt.Errorf("unknown extractor.mode %q", c.Extractor.Mode)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "local":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be at least 1")
	}
	return nil
}

// LLMConfigured reports whether the provider has the credentials it needs
func (c *Config) LLMConfigured() bool {
	if c.LLM.Provider == "local" {
		return c.LLM.BaseURL != ""
	}
	return c.LLM.APIKey != ""
}

// AllowsExtension reports whether uploads with ext (with or without the
// leading dot) are accepted
func (c *Config) AllowsExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range c.Upload.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
