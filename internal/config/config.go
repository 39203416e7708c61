package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for seriesd.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Cache   CacheConfig
	Import  ImportConfig
	Persist PersistConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	MaxPayloadSize int64 // max upload size in bytes (post-decompression)
}

type StorageConfig struct {
	Backend   string // "local" or "s3"
	LocalPath string
	// S3/MinIO configuration
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // custom endpoint for MinIO (e.g. "http://localhost:9000")
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool // path-style addressing (required for MinIO)
}

type CacheConfig struct {
	MaxSizeMB int
	// WarnThresholds are cache usage percentages that emit a warning on
	// the rising edge. Each fires at most once until usage drops back
	// below it or the cache is cleared.
	WarnThresholds []int
}

type ImportConfig struct {
	// DefaultEncoding is used when an upload declares no encoding.
	// "auto" enables charset detection.
	DefaultEncoding string
	// TieBreak selects the duplicate-sample policy for multi-file
	// merges: "filename-desc" or "import-order".
	TieBreak string
}

type PersistConfig struct {
	Enabled bool
	// Schedule is a cron expression for the auto-persist sweep.
	Schedule string
	// MinAgeSeconds is how long a reference must have been in memory
	// before the sweep persists it.
	MinAgeSeconds int
	Compression   string // parquet compression: snappy, gzip, zstd
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from defaults, an optional seriesd.toml, and
// SERIESD_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SERIESD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("seriesd")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/seriesd/")
	v.AddConfigPath("$HOME/.seriesd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	maxPayload, err := ParseSize(v.GetString("server.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.max_payload_size: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			ReadTimeout:    v.GetInt("server.read_timeout"),
			WriteTimeout:   v.GetInt("server.write_timeout"),
			MaxPayloadSize: maxPayload,
		},
		Storage: StorageConfig{
			Backend:     v.GetString("storage.backend"),
			LocalPath:   v.GetString("storage.local_path"),
			S3Bucket:    v.GetString("storage.s3_bucket"),
			S3Region:    v.GetString("storage.s3_region"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),
		},
		Cache: CacheConfig{
			MaxSizeMB:      v.GetInt("cache.max_size_mb"),
			WarnThresholds: v.GetIntSlice("cache.warn_thresholds"),
		},
		Import: ImportConfig{
			DefaultEncoding: v.GetString("import.default_encoding"),
			TieBreak:        v.GetString("import.tie_break"),
		},
		Persist: PersistConfig{
			Enabled:       v.GetBool("persist.enabled"),
			Schedule:      v.GetString("persist.schedule"),
			MinAgeSeconds: v.GetInt("persist.min_age_seconds"),
			Compression:   v.GetString("persist.compression"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown storage backend %q (expected local or s3)", c.Storage.Backend)
	}
	if c.Cache.MaxSizeMB <= 0 {
		return fmt.Errorf("cache.max_size_mb must be positive, got %d", c.Cache.MaxSizeMB)
	}
	for _, p := range c.Cache.WarnThresholds {
		if p <= 0 || p > 100 {
			return fmt.Errorf("cache.warn_thresholds entry %d out of range (1-100]", p)
		}
	}
	switch c.Import.TieBreak {
	case "filename-desc", "import-order":
	default:
		return fmt.Errorf("unknown import.tie_break %q (expected filename-desc or import-order)", c.Import.TieBreak)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8100)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.max_payload_size", "512MB")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_path", "./data/seriesd")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.s3_path_style", false)

	v.SetDefault("cache.max_size_mb", 512)
	v.SetDefault("cache.warn_thresholds", []int{50, 70, 85, 95})

	v.SetDefault("import.default_encoding", "auto")
	v.SetDefault("import.tie_break", "filename-desc")

	v.SetDefault("persist.enabled", false)
	v.SetDefault("persist.schedule", "*/10 * * * *")
	v.SetDefault("persist.min_age_seconds", 600)
	v.SetDefault("persist.compression", "snappy")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// ParseSize parses a human-readable size like "512MB" or "1GB" into bytes.
// A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("size must not be negative")
	}
	return n * multiplier, nil
}
