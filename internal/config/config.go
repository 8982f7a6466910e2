// Package config provides configuration loading and structs for embedkit.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug" toml:"debug"`
	Cache       CacheConfig       `yaml:"cache" toml:"cache"`
	Worker      WorkerConfig      `yaml:"worker" toml:"worker"`
	Embedding   EmbeddingConfig   `yaml:"embedding" toml:"embedding"`
	Service     ServiceConfig     `yaml:"service" toml:"service"`
	Maintenance MaintenanceConfig `yaml:"maintenance" toml:"maintenance"`
}

// CacheConfig holds the persistent embedding cache settings.
type CacheConfig struct {
	DatabasePath string `yaml:"database_path" toml:"database_path"`
	TTLMs        int64  `yaml:"ttl_ms" toml:"ttl_ms"`
	MaxSize      int    `yaml:"max_size" toml:"max_size"`
	Dimensions   int    `yaml:"dimensions" toml:"dimensions"`
}

// TTL returns the cache TTL as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

// WorkerConfig holds embedding worker process settings.
type WorkerConfig struct {
	CacheDir         string   `yaml:"cache_dir" toml:"cache_dir"`
	RequestTimeoutMs int64    `yaml:"request_timeout_ms" toml:"request_timeout_ms"`
	ReadyTimeoutMs   int64    `yaml:"ready_timeout_ms" toml:"ready_timeout_ms"`
	ShutdownGraceMs  int64    `yaml:"shutdown_grace_ms" toml:"shutdown_grace_ms"`
	Concurrency      int      `yaml:"concurrency" toml:"concurrency"`
	// Command overrides the worker executable and arguments. Empty means
	// "re-exec the current binary with the worker subcommand".
	Command []string `yaml:"command,omitempty" toml:"command,omitempty"`
}

// RequestTimeout returns the per-request worker timeout.
func (w *WorkerConfig) RequestTimeout() time.Duration {
	return time.Duration(w.RequestTimeoutMs) * time.Millisecond
}

// ReadyTimeout returns how long to wait for the worker to report readiness.
func (w *WorkerConfig) ReadyTimeout() time.Duration {
	return time.Duration(w.ReadyTimeoutMs) * time.Millisecond
}

// ShutdownGrace returns how long shutdown waits before killing the worker.
func (w *WorkerConfig) ShutdownGrace() time.Duration {
	return time.Duration(w.ShutdownGraceMs) * time.Millisecond
}

// EmbeddingConfig holds generator settings used inside the worker.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" toml:"provider"`
	ModelFile string `yaml:"model_file" toml:"model_file"`
	ModelURL  string `yaml:"model_url" toml:"model_url"`
	// TokenizerFile is a Hugging Face tokenizer.json with a Unigram model. "none" selects
	// the built-in word tokenizer.
	TokenizerFile string `yaml:"tokenizer_file" toml:"tokenizer_file"`
	TokenizerURL  string `yaml:"tokenizer_url" toml:"tokenizer_url"`
	MaxTokens     int    `yaml:"max_tokens" toml:"max_tokens"`
}

// ServiceConfig holds facade settings.
type ServiceConfig struct {
	ShowProgress    bool `yaml:"show_progress" toml:"show_progress"`
	MemoryCacheSize int  `yaml:"memory_cache_size" toml:"memory_cache_size"`
}

// MaintenanceConfig holds the periodic expiry sweep schedule. Empty disables it.
type MaintenanceConfig struct {
	Schedule string `yaml:"schedule" toml:"schedule"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	expandPaths(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config with all defaults applied and paths expanded
// relative to the home directory. Used when no config file exists.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	expandPaths(&cfg, ".")
	return &cfg
}

// Save writes the config to path, using TOML for .toml paths and YAML otherwise.
func Save(path string, cfg *Config) error {
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Cache.DatabasePath = expandPath(cfg.Cache.DatabasePath, configDir)
	cfg.Worker.CacheDir = expandPath(cfg.Worker.CacheDir, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// Validate reports configuration errors that would make the service unusable.
func (c *Config) Validate() error {
	if c.Cache.Dimensions <= 0 {
		return fmt.Errorf("cache.dimensions must be positive, got %d", c.Cache.Dimensions)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize)
	}
	switch c.Embedding.Provider {
	case "onnx", "hash":
	default:
		return fmt.Errorf("embedding.provider must be onnx or hash, got %q", c.Embedding.Provider)
	}
	return nil
}
