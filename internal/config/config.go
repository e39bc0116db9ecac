// Package config loads opensrc's on-disk configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete opensrc configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Paths       PathsConfig       `yaml:"paths"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Performance PerformanceConfig `yaml:"performance"`
	Server      ServerConfig      `yaml:"server"`
	Vector      VectorConfig      `yaml:"vector"`
}

// PathsConfig configures which paths a Fetcher-created source tree
// excludes from enumeration and chunking.
type PathsConfig struct {
	Ignore []string `yaml:"ignore"`
}

// EmbeddingsConfig configures the Embedder.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"` // "ollama" or "static"
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	OllamaHost string `yaml:"ollama_host"`
	CacheSize  int    `yaml:"cache_size"`
}

// PerformanceConfig configures the IndexEngine's concurrency bounds.
type PerformanceConfig struct {
	MaxConcurrentIndex int `yaml:"max_concurrent_index"`
	BatchSize          int `yaml:"batch_size"`
	MaxFileSizeBytes   int `yaml:"max_file_size_bytes"`
}

// ServerConfig configures the Server's transport and log level.
type ServerConfig struct {
	Transport string `yaml:"transport"` // "stdio" only, for now
	LogLevel  string `yaml:"log_level"`
}

// VectorConfig configures the VectorStore.
type VectorConfig struct {
	Dimensions     int    `yaml:"dimensions"`
	Quantization   string `yaml:"quantization"` // "f16" or "i8"
	BusyTimeoutMS  int    `yaml:"busy_timeout_ms"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
}

var defaultIgnorePatterns = []string{
	"node_modules",
	".git",
	"dist",
	"build",
	"vendor",
	"__pycache__",
	"target",
}

// New returns the hardcoded defaults.
func New() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Ignore: defaultIgnorePatterns,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Performance: PerformanceConfig{
			MaxConcurrentIndex: 2,
			BatchSize:          50,
			MaxFileSizeBytes:   10 * 1024 * 1024,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Vector: VectorConfig{
			Dimensions:     768,
			Quantization:   "f16",
			BusyTimeoutMS:  5000,
			M:              32,
			EfConstruction: 128,
			EfSearch:       64,
		},
	}
}

// OpenSrcDir resolves the server's data directory: $OPENSRC_DIR if set,
// otherwise $XDG_DATA_HOME/opensrc, otherwise ~/.local/share/opensrc.
func OpenSrcDir() string {
	if dir := os.Getenv("OPENSRC_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "opensrc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "opensrc")
	}
	return filepath.Join(home, ".local", "share", "opensrc")
}

// Load reads config.yaml from dir (typically OpenSrcDir()) over the
// hardcoded defaults, then applies environment overrides. A missing file
// is not an error; it just means defaults apply.
func Load(dir string) (*Config, error) {
	cfg := New()

	path := filepath.Join(dir, "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENSRC_MAX_CONCURRENT_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.MaxConcurrentIndex = n
		}
	}
	if v := os.Getenv("OPENSRC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.BatchSize = n
		}
	}
	if v := os.Getenv("OPENSRC_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("OPENSRC_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("OPENSRC_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("OPENSRC_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate rejects a config that would put components in an invariant-
// violating state (e.g. MAX_CONCURRENT_INDEX below 1).
func (c *Config) Validate() error {
	if c.Performance.MaxConcurrentIndex < 1 {
		return fmt.Errorf("performance.max_concurrent_index must be >= 1")
	}
	if c.Performance.BatchSize < 1 {
		return fmt.Errorf("performance.batch_size must be >= 1")
	}
	if c.Vector.Dimensions != c.Embeddings.Dimensions {
		return fmt.Errorf("vector.dimensions (%d) must match embeddings.dimensions (%d)",
			c.Vector.Dimensions, c.Embeddings.Dimensions)
	}
	switch c.Vector.Quantization {
	case "f16", "i8":
	default:
		return fmt.Errorf("vector.quantization must be f16 or i8, got %q", c.Vector.Quantization)
	}
	if c.Performance.MaxConcurrentIndex > runtime.NumCPU()*4 {
		// Not fatal, just a hint a caller may want to log.
	}
	if c.Server.LogLevel != "" && !validLogLevel(c.Server.LogLevel) {
		return fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel)
	}
	return nil
}

// validLogLevel reports whether level is one of the strings logging.Setup
// recognizes. logging.LevelFromString maps anything it doesn't recognize
// to slog.LevelInfo, so a typo like "infro" would otherwise be silently
// downgraded instead of rejected; comparing against this whitelist first
// catches that case before the value ever reaches the parser.
func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// WriteYAML writes the config to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// DefaultRetryDelay is used by internal/fetch's registry clients when a
// server does not return a Retry-After header.
const DefaultRetryDelay = time.Second
