package clconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleConfigRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "littletrack.yaml")

	written, err := CreateExampleConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, filename, written)

	config, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", config.Listen.Website)
	assert.Equal(t, 5*time.Minute, config.Tracking.ViewWindow)
	assert.Equal(t, time.Minute, config.Tracking.StealthWindow)
	assert.True(t, config.GeoIP.External.Enabled)
	assert.Equal(t, 2*time.Second, config.GeoIP.External.Timeout)
}

func TestLoadConfigDurations(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen:
  website: "127.0.0.1:9000"
tracking:
  viewwindow: 10m
  stealthwindow: 30s
geoip:
  external:
    enabled: true
    timeout: 500ms
`)
	require.NoError(t, os.WriteFile(filename, data, 0644))

	config, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, config.Tracking.ViewWindow)
	assert.Equal(t, 30*time.Second, config.Tracking.StealthWindow)
	assert.Equal(t, 500*time.Millisecond, config.GeoIP.External.Timeout)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	filename := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("listen: [oops"), 0644))
	_, err = LoadConfig(filename)
	assert.Error(t, err)
}

func TestValidateDefaults(t *testing.T) {
	config := &Config{Listen: ListenConfig{Website: "127.0.0.1:8080"}}
	require.NoError(t, config.Validate())

	assert.Equal(t, DefaultViewWindow, config.Tracking.ViewWindow)
	assert.Equal(t, DefaultStealthWindow, config.Tracking.StealthWindow)
	assert.Equal(t, int64(DefaultMaxUploadSize), config.MaxUploadSize)
	assert.Equal(t, DefaultGeoTimeout, config.GeoIP.External.Timeout)
	assert.Equal(t, "http://127.0.0.1:8080", config.PublicURL)
	assert.Equal(t, "./uploads", config.UploadPath)
}

func TestValidateErrors(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())

	config := &Config{
		Listen: ListenConfig{Website: "127.0.0.1:8080"},
		Stats:  StatsConfig{Enabled: true},
	}
	assert.Error(t, config.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("PUBLIC_URL", "https://track.example.com")
	t.Setenv("GEOIP_TOKEN", "secret")

	config := &Config{Listen: ListenConfig{Website: "127.0.0.1:8080"}}
	ApplyEnv(config, filepath.Join(t.TempDir(), "absent.env"))

	assert.Equal(t, "127.0.0.1:9999", config.Listen.Website)
	assert.Equal(t, "https://track.example.com", config.PublicURL)
	assert.Equal(t, "secret", config.GeoIP.External.Token)
}

func TestApplyEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PUBLIC_URL=https://from-file.example.com\n"), 0644))
	t.Setenv("PUBLIC_URL", "")
	os.Unsetenv("PUBLIC_URL")

	config := &Config{Listen: ListenConfig{Website: "127.0.0.1:8080"}}
	ApplyEnv(config, envFile)
	assert.Equal(t, "https://from-file.example.com", config.PublicURL)
}
