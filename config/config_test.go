package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 2000, cfg.MaxPages)
	assert.Equal(t, 2000, cfg.MaxImages)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 180*time.Second, cfg.TotalTimeout)
	assert.Equal(t, 20, cfg.DownloadConcurrency)
	assert.Equal(t, 4, cfg.MaxTasks)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)

	assert.Contains(t, cfg.AllowedHosts, "iteach-cloudedit.xdf.cn")
	assert.Contains(t, cfg.AllowedHosts, "iteachcdn.xdf.cn")
	assert.Contains(t, cfg.AllowedImageHosts, "iteachcdn.xdf.cn")
	assert.NotContains(t, cfg.AllowedImageHosts, "iteach-cloudedit.xdf.cn")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_TASKS", "2")
	t.Setenv("DOWNLOAD_CONCURRENCY", "5")
	t.Setenv("REQUEST_TIMEOUT", "1.5")
	t.Setenv("TOTAL_TIMEOUT", "60")
	t.Setenv("ALLOWED_HOSTS", "a.example, b.example")

	cfg := Load()

	assert.Equal(t, 2, cfg.MaxTasks)
	assert.Equal(t, 5, cfg.DownloadConcurrency)
	assert.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, time.Minute, cfg.TotalTimeout)
	assert.Equal(t, map[string]struct{}{"a.example": {}, "b.example": {}}, cfg.AllowedHosts)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_TASKS", "many")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 4, cfg.MaxTasks)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}
