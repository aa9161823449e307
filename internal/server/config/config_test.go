package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(16*1024*1024), cfg.MaxUploadSize)
	assert.Equal(t, 60, cfg.ImageQuality)
	assert.Equal(t, "zip", cfg.ArchiveFormat)
	assert.Equal(t, time.Hour, cfg.OrphanMaxAge)
	assert.Empty(t, cfg.DatabaseURL)
	assert.True(t, cfg.AllowsExtension(".PNG"))
	assert.True(t, cfg.AllowsExtension(".txt"))
	assert.False(t, cfg.AllowsExtension(".exe"))
	assert.False(t, cfg.AllowsExtension(""))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")
	t.Setenv("ALLOWED_EXTENSIONS", ".TXT, csv")
	t.Setenv("IMAGE_QUALITY", "85")
	t.Setenv("ARCHIVE_FORMAT", "gzip")
	t.Setenv("ORPHAN_MAX_AGE", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(1024), cfg.MaxUploadSize)
	assert.Equal(t, 85, cfg.ImageQuality)
	assert.Equal(t, "gzip", cfg.ArchiveFormat)
	assert.Equal(t, 30*time.Minute, cfg.OrphanMaxAge)
	assert.True(t, cfg.AllowsExtension(".txt"))
	assert.True(t, cfg.AllowsExtension(".csv"))
	assert.False(t, cfg.AllowsExtension(".png"))
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"IMAGE_QUALITY":      "0",
		"ARCHIVE_FORMAT":     "rar",
		"MAX_UPLOAD_SIZE":    "-1",
		"ALLOWED_EXTENSIONS": "tar.gz",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "./storage/uploads", cfg.StagingPath)
	assert.Equal(t, "./storage/compressed", cfg.OutputPath)
	assert.True(t, cfg.AllowsExtension(".jpg"))
}

func TestAllowsExtension_EmptyListAcceptsAll(t *testing.T) {
	cfg := Default()
	cfg.AllowedExtensions = nil
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AllowsExtension(".anything"))
}
