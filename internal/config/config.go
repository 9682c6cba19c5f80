// Package config loads server configuration from an optional YAML file,
// environment variables, and command-line flags, in that order of
// increasing precedence — generalizing the teacher's envOr(key, fallback)
// layering to a file-backed default plus flag overrides.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every operator-facing knob named in spec §6.
type Config struct {
	UpstreamRegistry string     `yaml:"upstreamRegistry"`
	ListenAddr       string     `yaml:"listenAddr"`
	LogLevel         slog.Level `yaml:"-"`
	LogLevelStr      string     `yaml:"logLevel"`

	StorageBackend   string `yaml:"storageBackend"`
	FSRoot           string `yaml:"fsRoot"`
	S3Bucket         string `yaml:"s3Bucket"`
	S3Prefix         string `yaml:"s3Prefix"`
	S3ForcePathStyle bool   `yaml:"s3ForcePathStyle"`

	PersistencePath string `yaml:"persistencePath"`

	EmbeddingBackendURL  string        `yaml:"embeddingBackendURL"`
	GenerationBackendURL string        `yaml:"generationBackendURL"`
	EmbeddingModel       string        `yaml:"embeddingModel"`
	GenerationModel      string        `yaml:"generationModel"`
	BackendTimeout       time.Duration `yaml:"backendTimeout"`

	EmbeddingTTL time.Duration `yaml:"embeddingTTL"`
	ResponseTTL  time.Duration `yaml:"responseTTL"`

	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`

	MinSimilarity float64 `yaml:"minSimilarity"`
	VectorWeight  float64 `yaml:"vectorWeight"`
	LexicalWeight float64 `yaml:"lexicalWeight"`

	MetricsEnabled bool `yaml:"metricsEnabled"`
}

// Defaults returns a Config populated with every spec-mandated default.
func Defaults() Config {
	return Config{
		ListenAddr:       ":8080",
		LogLevelStr:      "info",
		LogLevel:         slog.LevelInfo,
		StorageBackend:   "fs",
		FSRoot:           "/data/registry-cache",
		S3Bucket:         "registry-cache",
		S3ForcePathStyle: true,
		PersistencePath:  "/data/registry-cache/state.db",
		BackendTimeout:   30 * time.Second,
		EmbeddingTTL:     time.Hour,
		ResponseTTL:      24 * time.Hour,
		ChunkSize:        800,
		ChunkOverlap:     100,
		MinSimilarity:    0.3,
		VectorWeight:     0.7,
		LexicalWeight:    0.3,
		MetricsEnabled:   true,
	}
}

// Load builds a Config by layering, in increasing precedence: built-in
// defaults, an optional YAML file (path from REGISTRY_CONFIG or --config),
// environment variables, then command-line flags.
func Load(args []string) (Config, error) {
	cfg := Defaults()

	configPath := envOr("REGISTRY_CONFIG", "")
	fs := pflag.NewFlagSet("registryproxy", pflag.ContinueOnError)
	flagConfigPath := fs.String("config", configPath, "path to YAML config file")
	flagListen := fs.String("listen", "", "listen address override")
	flagLogLevel := fs.String("log-level", "", "log level override (debug|info|warn|error)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *flagConfigPath != "" {
		if err := applyYAMLFile(&cfg, *flagConfigPath); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if *flagListen != "" {
		cfg.ListenAddr = *flagListen
	}
	if *flagLogLevel != "" {
		cfg.LogLevelStr = *flagLogLevel
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelStr)

	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	cfg.UpstreamRegistry = envOr("UPSTREAM_REGISTRY", cfg.UpstreamRegistry)
	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevelStr = envOr("LOG_LEVEL", cfg.LogLevelStr)

	cfg.StorageBackend = envOr("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.FSRoot = envOr("FS_ROOT", cfg.FSRoot)
	cfg.S3Bucket = envOr("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Prefix = envOr("S3_PREFIX", cfg.S3Prefix)
	cfg.S3ForcePathStyle = envBoolOr("S3_FORCE_PATH_STYLE", cfg.S3ForcePathStyle)

	cfg.PersistencePath = envOr("PERSISTENCE_PATH", cfg.PersistencePath)

	cfg.EmbeddingBackendURL = envOr("EMBEDDING_BACKEND_URL", cfg.EmbeddingBackendURL)
	cfg.GenerationBackendURL = envOr("GENERATION_BACKEND_URL", cfg.GenerationBackendURL)
	cfg.EmbeddingModel = envOr("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.GenerationModel = envOr("GENERATION_MODEL", cfg.GenerationModel)
	cfg.BackendTimeout = envDurationOr("BACKEND_TIMEOUT", cfg.BackendTimeout)

	cfg.EmbeddingTTL = envDurationOr("EMBEDDING_TTL", cfg.EmbeddingTTL)
	cfg.ResponseTTL = envDurationOr("RESPONSE_TTL", cfg.ResponseTTL)

	cfg.ChunkSize = envIntOr("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = envIntOr("CHUNK_OVERLAP", cfg.ChunkOverlap)

	cfg.MinSimilarity = envFloatOr("MIN_SIMILARITY", cfg.MinSimilarity)
	cfg.VectorWeight = envFloatOr("VECTOR_WEIGHT", cfg.VectorWeight)
	cfg.LexicalWeight = envFloatOr("LEXICAL_WEIGHT", cfg.LexicalWeight)

	cfg.MetricsEnabled = envBoolOr("METRICS_ENABLED", cfg.MetricsEnabled)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	// Accept bare seconds (spec states TTLs "default 3600s") or a Go duration string.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
