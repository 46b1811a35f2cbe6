// Package config loads runtime configuration from an optional YAML file
// with environment-variable overrides on top, so container deployments can
// tweak single values without shipping a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultServerAddr    = ":8080"
	defaultOutputDir     = "downloads"
	defaultMaxConcurrent = 3
	defaultMaxQueueItems = 1000
	defaultStaleClaim    = 60 * time.Second
	defaultYtdlpPath     = "yt-dlp"
	defaultMaxAttempts   = 3
)

// Duration wraps time.Duration to accept "90s"-style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DBConfig holds Postgres settings for the history store.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// RedisConfig holds settings for the progress pub/sub fan-out.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DownloadConfig tunes the retry loop of the direct HTTP engine and the
// per-job fetch options passed through to the extractor.
type DownloadConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	BackoffInitial Duration `yaml:"backoff_initial"`
	BackoffMax     Duration `yaml:"backoff_max"`
	Proxy          string   `yaml:"proxy"`
	RateLimit      string   `yaml:"rate_limit"`
	CookiesFile    string   `yaml:"cookies_file"`
}

// Config describes runtime configuration for the service.
type Config struct {
	ServerAddr        string         `yaml:"server_addr"`
	OutputDir         string         `yaml:"output_dir"`
	MaxConcurrent     int            `yaml:"max_concurrent"`
	MaxQueueItems     int            `yaml:"max_queue_items"`
	PauseTimeout      Duration       `yaml:"pause_timeout"`
	StaleClaimTimeout Duration       `yaml:"stale_claim_timeout"`
	YtdlpPath         string         `yaml:"ytdlp_path"`
	AllowedOrigins    []string       `yaml:"allowed_origins"`
	Download          DownloadConfig `yaml:"download"`
	DB                DBConfig       `yaml:"db"`
	Redis             RedisConfig    `yaml:"redis"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		ServerAddr:        defaultServerAddr,
		OutputDir:         defaultOutputDir,
		MaxConcurrent:     defaultMaxConcurrent,
		MaxQueueItems:     defaultMaxQueueItems,
		StaleClaimTimeout: Duration(defaultStaleClaim),
		YtdlpPath:         defaultYtdlpPath,
		AllowedOrigins:    []string{"*"},
		Download: DownloadConfig{
			MaxAttempts:    defaultMaxAttempts,
			BackoffInitial: Duration(time.Second),
			BackoffMax:     Duration(5 * time.Minute),
		},
		DB: DBConfig{
			Host: "localhost",
			Port: "5432",
			User: "postgres",
			Name: "downloads",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// Load reads YAML config from the provided path, applies environment
// overrides, and validates the result. A missing or empty file yields the
// defaults with no error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if len(fileData) > 0 {
			if err := yaml.Unmarshal(fileData, &cfg); err != nil {
				return cfg, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.ServerAddr == "" {
		cfg.ServerAddr = defaultServerAddr
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = defaultOutputDir
	}
	if cfg.MaxConcurrent < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent: %d (must be >= 1)", cfg.MaxConcurrent)
	}
	if cfg.MaxQueueItems < 1 {
		return cfg, fmt.Errorf("invalid max_queue_items: %d (must be >= 1)", cfg.MaxQueueItems)
	}
	if cfg.StaleClaimTimeout <= 0 {
		cfg.StaleClaimTimeout = Duration(defaultStaleClaim)
	}
	if cfg.Download.MaxAttempts < 1 {
		cfg.Download.MaxAttempts = defaultMaxAttempts
	}

	return cfg, nil
}

// applyEnv layers env-var overrides on top of whatever the file set.
func (c *Config) applyEnv() {
	setString(&c.ServerAddr, "SERVER_ADDR")
	setString(&c.OutputDir, "OUTPUT_DIR")
	setInt(&c.MaxConcurrent, "MAX_CONCURRENT")
	setInt(&c.MaxQueueItems, "MAX_QUEUE_ITEMS")
	setDuration(&c.PauseTimeout, "PAUSE_TIMEOUT")
	setDuration(&c.StaleClaimTimeout, "STALE_CLAIM_TIMEOUT")
	setString(&c.YtdlpPath, "YTDLP_PATH")
	setString(&c.Download.Proxy, "DOWNLOAD_PROXY")
	setString(&c.Download.RateLimit, "DOWNLOAD_RATE_LIMIT")
	setString(&c.Download.CookiesFile, "DOWNLOAD_COOKIES_FILE")

	setBool(&c.DB.Enabled, "DB_ENABLED")
	setString(&c.DB.Host, "DB_HOST")
	setString(&c.DB.Port, "DB_PORT")
	setString(&c.DB.User, "DB_USER")
	setString(&c.DB.Password, "DB_PASSWORD")
	setString(&c.DB.Name, "DB_NAME")

	setBool(&c.Redis.Enabled, "REDIS_ENABLED")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
