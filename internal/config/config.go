// Package config provides configuration management for the agent runtime,
// handling environment variables, .env files, and runtime defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the runtime.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	FileStore FileStoreConfig `json:"filestore" yaml:"filestore"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Docker    DockerConfig    `json:"docker" yaml:"docker"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// LLMConfig controls the chat model the Agent Loop drives. The API key
// itself is never read from config - only from the environment variable
// named here - so it never round-trips through a dumped config file.
type LLMConfig struct {
	Provider      string        `json:"provider" yaml:"provider"`
	Model         string        `json:"model" yaml:"model"`
	BaseURL       string        `json:"base_url" yaml:"base_url"`
	APIKeyEnvVar  string        `json:"api_key_env_var" yaml:"api_key_env_var"`
	MaxTokens     int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature   float64       `json:"temperature" yaml:"temperature"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	SystemPrompt  string        `json:"system_prompt" yaml:"system_prompt"`
}

// RateLimitConfig controls the sliding-window limiter in front of the chat
// endpoint.
type RateLimitConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	RedisAddr     string        `json:"redis_addr" yaml:"redis_addr"`
	MaxRequests   int           `json:"max_requests" yaml:"max_requests"`
	Window        time.Duration `json:"window" yaml:"window"`
}

// ServerConfig controls the chat HTTP surface.
type ServerConfig struct {
	Port         int    `json:"port" yaml:"port"`
	Host         string `json:"host" yaml:"host"`
	ReadTimeout  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// FileStoreConfig controls C1.
type FileStoreConfig struct {
	BaseDir              string                    `json:"base_dir" yaml:"base_dir"`
	MaxTotalSizeGB       float64                   `json:"max_total_size_gb" yaml:"max_total_size_gb"`
	CleanupIntervalHours float64                   `json:"cleanup_interval_hours" yaml:"cleanup_interval_hours"`
	CleanupThresholdPct  float64                   `json:"cleanup_threshold_percent" yaml:"cleanup_threshold_percent"`
	Categories           map[string]CategoryPolicy `json:"categories" yaml:"categories"`
}

// CategoryPolicy is a per-category override: size cap, TTL, whether the
// category is indexed, and whether files in it are session-scoped.
type CategoryPolicy struct {
	MaxSizeMB int     `json:"max_size_mb" yaml:"max_size_mb"`
	TTLHours  float64 `json:"ttl_hours" yaml:"ttl_hours"` // 0 means infinite
	Indexed   bool    `json:"indexed" yaml:"indexed"`
	Sessioned bool    `json:"session_scoped" yaml:"session_scoped"`
}

// MemoryConfig bundles C2/C3/C4 knobs.
type MemoryConfig struct {
	Flush    FlushConfig    `json:"flush" yaml:"flush"`
	Search   SearchConfig   `json:"search" yaml:"search"`
	Watcher  WatcherConfig  `json:"watcher" yaml:"watcher"`
	Rotation RotationConfig `json:"index_rotation" yaml:"index_rotation"`
}

// FlushConfig is C3's trigger/extraction configuration.
type FlushConfig struct {
	Enabled             bool          `json:"enabled" yaml:"enabled"`
	SoftThresholdTokens int           `json:"soft_threshold_tokens" yaml:"soft_threshold_tokens"`
	ReserveTokensFloor  int           `json:"reserve_tokens_floor" yaml:"reserve_tokens_floor"`
	MinMemoryCount      int           `json:"min_memory_count" yaml:"min_memory_count"`
	MaxMemoryAgeHours   float64       `json:"max_memory_age_hours" yaml:"max_memory_age_hours"`
	LLMModel            string        `json:"llm_model" yaml:"llm_model"`
	LLMTimeout          time.Duration `json:"llm_timeout" yaml:"llm_timeout"`
	ContextWindowTokens int           `json:"context_window_tokens" yaml:"context_window_tokens"`
}

// SearchConfig is C2's chunking/query/hybrid configuration.
type SearchConfig struct {
	Provider      string  `json:"provider" yaml:"provider"`
	Model         string  `json:"model" yaml:"model"`
	ChunkTokens   int     `json:"chunking_tokens" yaml:"chunking_tokens"`
	ChunkOverlap  int     `json:"chunking_overlap" yaml:"chunking_overlap"`
	MaxResults    int     `json:"query_max_results" yaml:"query_max_results"`
	MinScore      float64 `json:"query_min_score" yaml:"query_min_score"`
	VectorWeight  float64 `json:"hybrid_vector_weight" yaml:"hybrid_vector_weight"`
	TextWeight    float64 `json:"hybrid_text_weight" yaml:"hybrid_text_weight"`
	HybridEnabled bool    `json:"hybrid_enabled" yaml:"hybrid_enabled"`
	ContextLines  int     `json:"context_lines" yaml:"context_lines"`
	VectorBackend string  `json:"vector_backend" yaml:"vector_backend"` // "sqlite-vec" or "naive"
}

// WatcherConfig is C4's polling configuration.
type WatcherConfig struct {
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	WatchPaths          []string `json:"watch_paths" yaml:"watch_paths"`
	DebounceSeconds     float64  `json:"debounce_seconds" yaml:"debounce_seconds"`
	CheckIntervalSecond float64  `json:"check_interval_seconds" yaml:"check_interval_seconds"`
}

// RotationConfig is C2's index rotation configuration.
type RotationConfig struct {
	MaxSizeMB   int    `json:"max_size_mb" yaml:"max_size_mb"`
	IndexPrefix string `json:"index_prefix" yaml:"index_prefix"`
	IndexDir    string `json:"index_dir" yaml:"index_dir"`
}

// DockerConfig is C5's container launch configuration.
type DockerConfig struct {
	Image           string        `json:"image" yaml:"image"`
	CommandImage    string        `json:"command_image" yaml:"command_image"`
	MemoryLimitCode string        `json:"memory_limit_code" yaml:"memory_limit_code"`
	MemoryLimitCmd  string        `json:"memory_limit_command" yaml:"memory_limit_command"`
	CPULimit        string        `json:"cpu_limit" yaml:"cpu_limit"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	NetworkDisabled bool          `json:"network_disabled" yaml:"network_disabled"`
}

// SecurityConfig holds allow-lists consulted before any container starts.
type SecurityConfig struct {
	CommandWhitelist []string `json:"command_whitelist" yaml:"command_whitelist"`
	ModuleWhitelist  []string `json:"module_whitelist" yaml:"module_whitelist"`
}

// LoggingConfig holds the logging settings read from config and the
// environment. The agentcore binary does not pass them to its logger, which
// logs at INFO and picks JSON or text from the LOG_JSON environment variable.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
			ReadTimeout: 30,
			WriteTimeout: 30,
		},
		FileStore: FileStoreConfig{
			BaseDir: defaultBaseDir(),
			MaxTotalSizeGB: 10,
			CleanupIntervalHours: 1,
			CleanupThresholdPct: 90,
			Categories: map[string]CategoryPolicy{
				"artifact": {MaxSizeMB: 100, TTLHours: 24, Indexed: false, Sessioned: false},
				"upload": {MaxSizeMB: 50, TTLHours: 168, Indexed: true, Sessioned: true},
				"report": {MaxSizeMB: 50, TTLHours: 720, Indexed: true, Sessioned: true},
				"chart": {MaxSizeMB: 10, TTLHours: 168, Indexed: true, Sessioned: true},
				"cache": {MaxSizeMB: 10, TTLHours: 1, Indexed: true, Sessioned: true},
				"temp": {MaxSizeMB: 50, TTLHours: 24, Indexed: true, Sessioned: true},
				"memory": {MaxSizeMB: 0, TTLHours: 0, Indexed: false, Sessioned: false},
				"code": {MaxSizeMB: 0, TTLHours: 0, Indexed: true, Sessioned: false},
				"checkpoint": {MaxSizeMB: 0, TTLHours: 24, Indexed: false, Sessioned: true},
			},
		},
		Memory: MemoryConfig{
			Flush: FlushConfig{
				Enabled: true,
				SoftThresholdTokens: 6000,
				ReserveTokensFloor: 1500,
				MinMemoryCount: 1,
				MaxMemoryAgeHours: 48,
				LLMModel: "extractor-default",
				LLMTimeout: 20 * time.Second,
				ContextWindowTokens: 128000,
			},
			Search: SearchConfig{
				Provider: "none",
				Model: "",
				ChunkTokens: 400,
				ChunkOverlap: 80,
				MaxResults: 10,
				MinScore: 0.0,
				VectorWeight: 0.7,
				TextWeight: 0.3,
				HybridEnabled: true,
				ContextLines: 2,
				VectorBackend: "naive",
			},
			Watcher: WatcherConfig{
				Enabled: true,
				WatchPaths: nil,
				DebounceSeconds: 2,
				CheckIntervalSecond: 5,
			},
			Rotation: RotationConfig{
				MaxSizeMB: 512,
				IndexPrefix: "memory",
				IndexDir: ".index",
			},
		},
		Docker: DockerConfig{
			Image: "python:3.12-slim",
			CommandImage: "alpine:3.20",
			MemoryLimitCode: "512m",
			MemoryLimitCmd: "128m",
			CPULimit: "0.5",
			Timeout: 30 * time.Second,
			NetworkDisabled: true,
		},
		Security: SecurityConfig{
			CommandWhitelist: []string{"ls", "echo", "cat", "grep", "wc"},
			ModuleWhitelist: []string{"math", "json", "re", "datetime", "collections"},
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON: true,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Model: "claude-3-5-sonnet-20241022",
			BaseURL: "https://api.anthropic.com/v1",
			APIKeyEnvVar: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
			Temperature: 0.7,
			Timeout: 60 * time.Second,
			SystemPrompt: defaultSystemPrompt,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RedisAddr: "localhost:6379",
			MaxRequests: 30,
			Window: time.Minute,
		},
	}
}

// defaultSystemPrompt is the fallback instruction set for the chat model
// when no override is configured.
const defaultSystemPrompt = `You are a conversational assistant with access to tools for running
short sandboxed code, running allow-listed commands, and searching long-term
memory. Use tools when they would answer the question more reliably than
your own knowledge. Keep replies concise.`

// defaultBaseDir resolves the platform-appropriate application data directory.
func defaultBaseDir() string {
	if v := os.Getenv("BA_AGENT_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "ba-agent")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "ba-agent")
		}
		return filepath.Join(home, "AppData", "Roaming", "ba-agent")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "ba-agent")
		}
		return filepath.Join(home, ".local", "share", "ba-agent")
	}
}

// LoadConfig loads configuration from the environment, .env, and defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := DefaultConfig()
	if err := loadYAMLOverlay(cfg); err != nil {
		return nil, err
	}
	loadServerConfig(cfg)
	loadFileStoreConfig(cfg)
	loadFlushConfig(cfg)
	loadSearchConfig(cfg)
	loadWatcherConfig(cfg)
	loadDockerConfig(cfg)
	loadSecurityConfig(cfg)
	loadLoggingConfig(cfg)
	loadLLMConfig(cfg)
	loadRateLimitConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAMLOverlay merges an optional YAML file onto the defaults before any
// environment variable is applied, so env vars still win over the file and
// the file still wins over hardcoded defaults. Absence of the file is not an
// error - the overlay is opt-in, named by BA_AGENT_CONFIG_FILE or else
// ba-agent.yaml in the working directory.
func loadYAMLOverlay(cfg *Config) error {
	path := os.Getenv("BA_AGENT_CONFIG_FILE")
	if path == "" {
		path = "ba-agent.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config overlay %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config overlay %s: %w", path, err)
	}
	return nil
}

func loadServerConfig(cfg *Config) {
	setIntFromEnv("BA_AGENT_PORT", &cfg.Server.Port)
	if host := os.Getenv("BA_AGENT_HOST"); host != "" {
		cfg.Server.Host = host
	}
	setIntFromEnv("BA_AGENT_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout)
	setIntFromEnv("BA_AGENT_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout)
}

func loadFileStoreConfig(cfg *Config) {
	if dir := os.Getenv("BA_AGENT_DATA_DIR"); dir != "" {
		cfg.FileStore.BaseDir = dir
	}
	setFloatFromEnv("BA_AGENT_MAX_TOTAL_SIZE_GB", &cfg.FileStore.MaxTotalSizeGB)
	setFloatFromEnv("BA_AGENT_CLEANUP_INTERVAL_HOURS", &cfg.FileStore.CleanupIntervalHours)
	setFloatFromEnv("BA_AGENT_CLEANUP_THRESHOLD_PERCENT", &cfg.FileStore.CleanupThresholdPct)
}

func loadFlushConfig(cfg *Config) {
	setBoolFromEnv("BA_AGENT_FLUSH_ENABLED", &cfg.Memory.Flush.Enabled)
	setIntFromEnv("BA_AGENT_FLUSH_SOFT_THRESHOLD_TOKENS", &cfg.Memory.Flush.SoftThresholdTokens)
	setIntFromEnv("BA_AGENT_FLUSH_RESERVE_TOKENS", &cfg.Memory.Flush.ReserveTokensFloor)
	setIntFromEnv("BA_AGENT_FLUSH_MIN_MEMORY_COUNT", &cfg.Memory.Flush.MinMemoryCount)
	setFloatFromEnv("BA_AGENT_FLUSH_MAX_MEMORY_AGE_HOURS", &cfg.Memory.Flush.MaxMemoryAgeHours)
	if model := os.Getenv("BA_AGENT_FLUSH_LLM_MODEL"); model != "" {
		cfg.Memory.Flush.LLMModel = model
	}
	setIntFromEnv("BA_AGENT_CONTEXT_WINDOW_TOKENS", &cfg.Memory.Flush.ContextWindowTokens)
}

func loadSearchConfig(cfg *Config) {
	if p := os.Getenv("BA_AGENT_EMBEDDING_PROVIDER"); p != "" {
		cfg.Memory.Search.Provider = p
	}
	setIntFromEnv("BA_AGENT_CHUNK_TOKENS", &cfg.Memory.Search.ChunkTokens)
	setIntFromEnv("BA_AGENT_CHUNK_OVERLAP", &cfg.Memory.Search.ChunkOverlap)
	setIntFromEnv("BA_AGENT_QUERY_MAX_RESULTS", &cfg.Memory.Search.MaxResults)
	setFloatFromEnv("BA_AGENT_QUERY_MIN_SCORE", &cfg.Memory.Search.MinScore)
	setFloatFromEnv("BA_AGENT_HYBRID_VECTOR_WEIGHT", &cfg.Memory.Search.VectorWeight)
	setFloatFromEnv("BA_AGENT_HYBRID_TEXT_WEIGHT", &cfg.Memory.Search.TextWeight)
	setBoolFromEnv("BA_AGENT_HYBRID_ENABLED", &cfg.Memory.Search.HybridEnabled)
	if b := os.Getenv("BA_AGENT_VECTOR_BACKEND"); b != "" {
		cfg.Memory.Search.VectorBackend = b
	}
}

func loadWatcherConfig(cfg *Config) {
	setBoolFromEnv("BA_AGENT_WATCHER_ENABLED", &cfg.Memory.Watcher.Enabled)
	setFloatFromEnv("BA_AGENT_WATCHER_DEBOUNCE_SECONDS", &cfg.Memory.Watcher.DebounceSeconds)
	setFloatFromEnv("BA_AGENT_WATCHER_CHECK_INTERVAL_SECONDS", &cfg.Memory.Watcher.CheckIntervalSecond)
	if paths := os.Getenv("BA_AGENT_WATCHER_PATHS"); paths != "" {
		cfg.Memory.Watcher.WatchPaths = splitAndTrim(paths)
	}
}

func loadDockerConfig(cfg *Config) {
	if img := os.Getenv("BA_AGENT_DOCKER_IMAGE"); img != "" {
		cfg.Docker.Image = img
	}
	if img := os.Getenv("BA_AGENT_DOCKER_COMMAND_IMAGE"); img != "" {
		cfg.Docker.CommandImage = img
	}
	if v := os.Getenv("BA_AGENT_DOCKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Docker.Timeout = d
		}
	}
	setBoolFromEnv("BA_AGENT_DOCKER_NETWORK_DISABLED", &cfg.Docker.NetworkDisabled)
}

func loadSecurityConfig(cfg *Config) {
	if list := os.Getenv("BA_AGENT_COMMAND_WHITELIST"); list != "" {
		cfg.Security.CommandWhitelist = splitAndTrim(list)
	}
	if list := os.Getenv("BA_AGENT_MODULE_WHITELIST"); list != "" {
		cfg.Security.ModuleWhitelist = splitAndTrim(list)
	}
}

func loadLoggingConfig(cfg *Config) {
	if level := os.Getenv("BA_AGENT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	setBoolFromEnv("BA_AGENT_LOG_JSON", &cfg.Logging.JSON)
}

func loadLLMConfig(cfg *Config) {
	if p := os.Getenv("BA_AGENT_LLM_PROVIDER"); p != "" {
		cfg.LLM.Provider = p
	}
	if m := os.Getenv("BA_AGENT_LLM_MODEL"); m != "" {
		cfg.LLM.Model = m
	}
	if u := os.Getenv("BA_AGENT_LLM_BASE_URL"); u != "" {
		cfg.LLM.BaseURL = u
	}
	if v := os.Getenv("BA_AGENT_LLM_API_KEY_ENV_VAR"); v != "" {
		cfg.LLM.APIKeyEnvVar = v
	}
	setIntFromEnv("BA_AGENT_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	setFloatFromEnv("BA_AGENT_LLM_TEMPERATURE", &cfg.LLM.Temperature)
	if v := os.Getenv("BA_AGENT_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
}

func loadRateLimitConfig(cfg *Config) {
	setBoolFromEnv("BA_AGENT_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	if a := os.Getenv("BA_AGENT_REDIS_ADDR"); a != "" {
		cfg.RateLimit.RedisAddr = a
	}
	setIntFromEnv("BA_AGENT_RATE_LIMIT_MAX_REQUESTS", &cfg.RateLimit.MaxRequests)
	if v := os.Getenv("BA_AGENT_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Window = d
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func setIntFromEnv(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setFloatFromEnv(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setBoolFromEnv(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate checks invariants across sections.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.FileStore.BaseDir == "" {
		return errors.New("filestore base dir cannot be empty")
	}
	if c.Memory.Flush.SoftThresholdTokens <= 0 {
		return errors.New("flush soft threshold must be positive")
	}
	if c.Memory.Flush.ReserveTokensFloor <= 0 {
		return errors.New("flush reserve tokens floor must be positive")
	}
	if c.Memory.Search.ChunkTokens <= c.Memory.Search.ChunkOverlap {
		return errors.New("chunk size must exceed overlap")
	}
	w, t := c.Memory.Search.VectorWeight, c.Memory.Search.TextWeight
	if w < 0 || t < 0 {
		return errors.New("hybrid weights cannot be negative")
	}
	return nil
}

// CategoryPolicyFor returns the policy for a category, falling back to a
// 50 MB, 24-hour, unindexed, session-scoped policy for unknown categories.
func (c *Config) CategoryPolicyFor(category string) CategoryPolicy {
	if p, ok := c.FileStore.Categories[category]; ok {
		return p
	}
	return CategoryPolicy{MaxSizeMB: 50, TTLHours: 24, Indexed: false, Sessioned: true}
}
