package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
printer:
  address: 10.0.0.5
  uploads_dir: /srv/gcode
  ack_timeout: 30s
scheduler:
  poll_interval: 10s
logging:
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "10.0.0.5", cfg.Printer.Address)
	assert.Equal(t, 9100, cfg.Printer.Port)
	assert.Equal(t, "/srv/gcode", cfg.Printer.UploadsDir)
	assert.Equal(t, 30*time.Second, cfg.Printer.AckTimeout)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PLAYLIST_PORT", "7000")
	t.Setenv("PLAYLIST_DB_PATH", "/tmp/x.db")
	t.Setenv("PLAYLIST_PRINTER_ADDRESS", "printer.local")
	t.Setenv("PLAYLIST_PRINTER_PORT", "not-a-number")
	t.Setenv("PLAYLIST_LOG_LEVEL", "debug")

	cfg := LoadFromEnv()
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "printer.local", cfg.Printer.Address)
	assert.Equal(t, 9100, cfg.Printer.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }, true},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, true},
		{"empty printer address", func(c *Config) { c.Printer.Address = "" }, true},
		{"bad printer port", func(c *Config) { c.Printer.Port = 70000 }, true},
		{"empty uploads dir", func(c *Config) { c.Printer.UploadsDir = "" }, true},
		{"negative ack timeout", func(c *Config) { c.Printer.AckTimeout = -time.Second }, true},
		{"negative poll interval", func(c *Config) { c.Scheduler.PollInterval = -time.Second }, true},
		{"no webhook workers", func(c *Config) { c.Webhooks.WorkerCount = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"metrics without path", func(c *Config) { c.Metrics.Path = "" }, true},
		{"archive without path", func(c *Config) { c.Archive.Path = "" }, true},
		{"archive zero days", func(c *Config) { c.Archive.Days = 0 }, true},
		{"archive disabled", func(c *Config) {
			c.Archive.Enabled = false
			c.Archive.Days = 0
		}, false},
		{"metrics disabled without path", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Path = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
