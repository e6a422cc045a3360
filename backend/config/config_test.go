package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "PORT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	clearLLMEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
  rate_limit: 20
storage:
  backend: minio
  minio:
    endpoint: "localhost:9000"
    access_key: "minioadmin"
    secret_key: "minioadmin"
    bucket: "test-bucket"
    expire_days: 14
extractor:
  mode: mineru
  mineru:
    api_url: "https://api.mineru.test"
    api_token: "test-token"
    poll_interval: 2s
auth:
  jwt_secret: "test-secret"
  token_expire_hours: 48
log:
  level: "debug"
  format: "json"
store:
  max_jobs: 50
  retention: 2h
llm:
  provider: anthropic
  api_key: "sk-test"
  call_timeout: 90s
  retry:
    max_attempts: 3
analysis:
  single_shot_threshold: 20000
  chunk_size: 8000
  max_document_chars: 100000
  snap_to_whitespace: false
  max_concurrent_chunks: 2
users:
  - username: "testuser"
    password: "testpass"
    tenant: "testtenant"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 20 {
		t.Errorf("Expected rate limit 20, got %d", cfg.Server.RateLimit)
	}
	if cfg.Storage.Minio.Endpoint != "localhost:9000" {
		t.Errorf("Expected endpoint localhost:9000, got %s", cfg.Storage.Minio.Endpoint)
	}
	if cfg.Storage.Minio.ExpireDays != 14 {
		t.Errorf("Expected expire_days 14, got %d", cfg.Storage.Minio.ExpireDays)
	}
	if cfg.Extractor.Mineru.PollInterval != 2*time.Second {
		t.Errorf("Expected poll interval 2s, got %s", cfg.Extractor.Mineru.PollInterval)
	}
	if cfg.Auth.TokenExpireHours != 48 {
		t.Errorf("Expected token_expire_hours 48, got %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if cfg.Store.MaxJobs != 50 || cfg.Store.Retention != 2*time.Hour {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Unexpected llm config: provider=%s model=%s", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.LLM.CallTimeout != 90*time.Second {
		t.Errorf("Expected call timeout 90s, got %s", cfg.LLM.CallTimeout)
	}
	if cfg.LLM.Retry.MaxAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", cfg.LLM.Retry.MaxAttempts)
	}
	if cfg.Analysis.ChunkSize != 8000 || cfg.Analysis.SnapToWhitespace {
		t.Errorf("Unexpected analysis config: %+v", cfg.Analysis)
	}
	if cfg.Analysis.MaxConcurrentChunks != 2 {
		t.Errorf("Expected 2 concurrent chunks, got %d", cfg.Analysis.MaxConcurrentChunks)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Username != "testuser" {
		t.Errorf("Unexpected users: %+v", cfg.Users)
	}
	if GlobalConfig != cfg {
		t.Error("Expected GlobalConfig to be set")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearLLMEnv(t)
	path := writeConfig(t, `
auth:
  jwt_secret: "secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 3005 {
		t.Errorf("Expected default port 3005, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.LocalDir != "./data" {
		t.Errorf("Unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Extractor.Mode != "local" {
		t.Errorf("Expected local extractor, got %s", cfg.Extractor.Mode)
	}
	if cfg.Extractor.Mineru.ModelVersion != "vlm" {
		t.Errorf("Expected default model_version vlm, got %s", cfg.Extractor.Mineru.ModelVersion)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("Expected openai/gpt-4o, got %s/%s", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.LLM.CallTimeout != 5*time.Minute {
		t.Errorf("Expected default call timeout 5m, got %s", cfg.LLM.CallTimeout)
	}
	if cfg.LLM.Retry.MaxAttempts != 1 {
		t.Errorf("Expected retries disabled by default, got %d attempts", cfg.LLM.Retry.MaxAttempts)
	}

	a := cfg.Analysis
	if a.SingleShotThreshold != 60000 || a.ChunkSize != 40000 || a.MaxDocumentChars != 400000 {
		t.Errorf("Unexpected chunking defaults: %+v", a)
	}
	if !a.SnapToWhitespace {
		t.Error("Expected whitespace snapping on by default")
	}
	if a.MaxConcurrentChunks != 1 {
		t.Errorf("Expected sequential chunks by default, got %d", a.MaxConcurrentChunks)
	}
	if cfg.Upload.MaxFileSizeMB != 50 {
		t.Errorf("Expected 50 MB upload limit, got %d", cfg.Upload.MaxFileSizeMB)
	}
	if cfg.LLMConfigured() {
		t.Error("Expected LLM to be unconfigured without a key")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("PORT", "4000")
	path := writeConfig(t, "log:\n  level: info\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Expected PORT override 4000, got %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("Expected anthropic to be picked from its key, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "sk-ant-test" {
		t.Errorf("Expected api key from env, got %q", cfg.LLM.APIKey)
	}
	if !cfg.LLMConfigured() {
		t.Error("Expected LLM to be configured")
	}
}

func TestLoadLocalProvider(t *testing.T) {
	clearLLMEnv(t)
	path := writeConfig(t, "llm:\n  provider: local\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("Unexpected local base url %s", cfg.LLM.BaseURL)
	}
	if !cfg.LLMConfigured() {
		t.Error("Expected local provider to need no key")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: yaml: content: [")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"threshold not above chunk size", func(c *Config) { c.Analysis.SingleShotThreshold = 40000 }, "single_shot_threshold"},
		{"ceiling below threshold", func(c *Config) { c.Analysis.MaxDocumentChars = 1000 }, "max_document_chars"},
		{"zero concurrency", func(c *Config) { c.Analysis.MaxConcurrentChunks = 0 }, "max_concurrent_chunks"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"mineru without minio", func(c *Config) { c.Extractor.Mode = "mineru" }, "requires storage.backend minio"},
		{"mineru with minio", func(c *Config) { c.Extractor.Mode = "mineru"; c.Storage.Backend = "minio" }, ""},
		{"unknown extractor", func(c *Config) { c.Extractor.Mode = "ocr" }, "extractor.mode"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "cohere" }, "llm.provider"},
		{"zero retries", func(c *Config) { c.LLM.Retry.MaxAttempts = 0 }, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAllowsExtension(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	tests := []struct {
		ext  string
		want bool
	}{
		{"pdf", true},
		{".PDF", true},
		{".docx", true},
		{"xlsx", true},
		{".doc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cfg.AllowsExtension(tt.ext); got != tt.want {
			t.Errorf("AllowsExtension(%q) = %v, want %v", tt.ext, got, tt.want)
		}
	}
}

func TestFindUser(t *testing.T) {
	cfg := &Config{
		Users: []User{
			{Username: "user1", Password: "pass1", Tenant: "tenant1"},
			{Username: "user2", Password: "pass2", Tenant: "tenant2"},
		},
	}

	user := cfg.FindUser("user1")
	if user == nil {
		t.Fatal("Expected to find user1")
	}
	if user.Tenant != "tenant1" {
		t.Errorf("Expected tenant1, got %s", user.Tenant)
	}

	if cfg.FindUser("nonexistent") != nil {
		t.Error("Expected nil for nonexistent user")
	}
}
