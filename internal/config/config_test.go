package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CACHE_DIR", "/tmp/cache")
	t.Setenv("PICTURES_DIR", "/tmp/pictures")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ambience-", cfg.FullImagePrefix)
	assert.Equal(t, 250, cfg.ThumbnailWidth)
	assert.Equal(t, 740, cfg.ThumbnailHeight)
	assert.Equal(t, "imaging", cfg.ResizeBackend)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "com.jolla.ambienced", cfg.Ambienced.Service)
	assert.Equal(t, "/com/jolla/ambienced", cfg.Ambienced.Path)
	assert.True(t, cfg.Ambienced.Enabled)
	assert.Equal(t, "127.0.0.1:9092", cfg.Web.BindAddress)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	t.Setenv("CACHE_DIR", "")
	t.Setenv("PICTURES_DIR", "")
	os.Unsetenv("CACHE_DIR")
	os.Unsetenv("PICTURES_DIR")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_InvalidBackend(t *testing.T) {
	t.Setenv("CACHE_DIR", "/tmp/cache")
	t.Setenv("PICTURES_DIR", "/tmp/pictures")
	t.Setenv("RESIZE_BACKEND", "magick")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magick")
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CACHE_DIR=/from/dotenv\nPICTURES_DIR=/pics\nTHUMBNAIL_WIDTH=100\n"), 0o600))

	t.Chdir(dir)

	// godotenv never overrides, so the variables must start out unset.
	for _, key := range []string{"CACHE_DIR", "PICTURES_DIR", "THUMBNAIL_WIDTH"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", cfg.CacheDir)
	assert.Equal(t, 100, cfg.ThumbnailWidth)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c := &Config{LogLevel: tt.in}
			assert.Equal(t, tt.want, c.SlogLevel())
		})
	}
}
