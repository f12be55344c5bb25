package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CacheDir        string `envconfig:"CACHE_DIR" required:"true"`
	PicturesDir     string `envconfig:"PICTURES_DIR" required:"true"`
	FullImagePrefix string `envconfig:"FULL_IMAGE_PREFIX" default:"ambience-"`
	ThumbnailWidth  int    `envconfig:"THUMBNAIL_WIDTH" default:"250"`
	ThumbnailHeight int    `envconfig:"THUMBNAIL_HEIGHT" default:"740"`
	ResizeBackend   string `envconfig:"RESIZE_BACKEND" default:"imaging"`

	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"60s"`
	MaxImageSize int64         `envconfig:"MAX_IMAGE_SIZE" default:"67108864"`
	EventBuffer  int           `envconfig:"EVENT_BUFFER" default:"64"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string `envconfig:"DB_PATH" default:"ambience.db"`

	Ambienced struct {
		Enabled bool   `default:"true"`
		Service string `default:"com.jolla.ambienced"`
		Path    string `default:"/com/jolla/ambienced"`
	}

	Telemetry struct {
		Enabled      bool   `default:"true"`
		ServiceName  string `split_words:"true" default:"ambience_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		Username        string
		Password        string
	}
}

// LoadConfig reads a local .env file, if any, and then environment variables
// into the Config struct. Variables already set in the environment win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ThumbnailWidth <= 0 || c.ThumbnailHeight <= 0 {
		return fmt.Errorf("invalid thumbnail size %dx%d", c.ThumbnailWidth, c.ThumbnailHeight)
	}

	switch c.ResizeBackend {
	case "imaging", "nfnt":
	default:
		return fmt.Errorf("invalid resize backend: %s", c.ResizeBackend)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
