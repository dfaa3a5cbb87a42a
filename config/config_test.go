package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8000", cfg.Address())
	assert.Equal(t, DefaultSketchbookDir, filepath.Base(cfg.Sketchbook.Dir))
	assert.Equal(t, "/demos/code/index.html", cfg.Assets.RootRedirect)
	assert.Equal(t, "@@@", cfg.Forms.Placeholder)
	assert.Len(t, cfg.Build.CodePlaceholder, 35)
	assert.Equal(t, DefaultManifest, cfg.Build.Manifest)
	assert.Equal(t, int64(1<<20), cfg.Build.MaxOutput.Value())
	assert.Equal(t, 2*time.Minute, cfg.Build.Timeout.Duration)
	assert.False(t, cfg.Sketchbook.RejectOverwriteOnNew)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	t.Setenv("SKETCHBOOK_PORT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
server:
  port: 9100
sketchbook:
  dir: /tmp/sketches
  rejectOverwriteOnNew: true
assets:
  mimeTypes:
    .svg: image/svg+xml
build:
  timeout: 30s
  maxOutput: 64Ki
  command: ["sh", "build.sh"]
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/tmp/sketches", cfg.Sketchbook.Dir)
	assert.True(t, cfg.Sketchbook.RejectOverwriteOnNew)
	assert.Equal(t, 30*time.Second, cfg.Build.Timeout.Duration)
	assert.Equal(t, int64(64*1024), cfg.Build.MaxOutput.Value())
	assert.Equal(t, []string{"sh", "build.sh"}, cfg.Build.Command)
	// untouched keys keep their defaults
	assert.Equal(t, "blockly", cfg.Assets.Root)
	assert.Equal(t, map[string]string{".svg": "image/svg+xml"}, cfg.Assets.MimeTypes)
	assert.Equal(t, DefaultManifest, cfg.Build.Manifest)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SKETCHBOOK_PORT", "8123")
	t.Setenv("SKETCHBOOK_DIR", "/srv/sketches")
	t.Setenv("SKETCHBOOK_BUILD_TIMEOUT", "10s")
	t.Setenv("SKETCHBOOK_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "/srv/sketches", cfg.Sketchbook.Dir)
	assert.Equal(t, 10*time.Second, cfg.Build.Timeout.Duration)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("SKETCHBOOK_PORT", "eighty")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"random port", func(c *Config) { c.Server.Port = 0 }},
		{"negative port", func(c *Config) { c.Server.Port = -1 }},
		{"command", func(c *Config) { c.Build.Command = nil }},
		{"timeout", func(c *Config) { c.Build.Timeout.Duration = 0 }},
		{"sketchbook", func(c *Config) { c.Sketchbook.Dir = "" }},
		{"placeholder", func(c *Config) { c.Forms.Placeholder = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
