package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/streekomroep/voxcap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "config.json"))
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(cfg.filePath)
	require.NoError(t, err)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, DefaultSensitivity, snap.Sensitivity)
	assert.Equal(t, int64(DefaultSilenceTimeoutMs), snap.SilenceTimeoutMs)
	assert.Equal(t, types.CodecWAV, snap.Codec)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := New(path)
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetSensitivity(60))
	require.NoError(t, cfg.SetSilenceTimeoutMs(2500))
	require.NoError(t, cfg.SetAudioInput("hw:1,0"))
	require.NoError(t, cfg.SetCodec(types.CodecMP3))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())

	settings := reloaded.CaptureSettings()
	assert.Equal(t, 60, settings.Sensitivity)
	assert.Equal(t, 2500*time.Millisecond, settings.SilenceTimeout)
	assert.Equal(t, "hw:1,0", reloaded.AudioInput())
	assert.Equal(t, types.CodecMP3, reloaded.Codec())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"sensitivity above range", `{"capture":{"sensitivity":101}}`},
		{"sensitivity below range", `{"capture":{"sensitivity":-1}}`},
		{"negative silence timeout", `{"capture":{"silence_timeout_ms":-5}}`},
		{"unknown codec", `{"audio":{"codec":"flac"}}`},
		{"port out of range", `{"system":{"port":70000}}`},
		{"malformed json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			cfg := New(path)
			assert.Error(t, cfg.Load())
		})
	}
}

func TestSettersValidate(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.Load())

	assert.Error(t, cfg.SetSensitivity(101))
	assert.Error(t, cfg.SetSensitivity(-1))
	assert.Error(t, cfg.SetSilenceTimeoutMs(-1))
	assert.Error(t, cfg.SetCodec("flac"))

	// Rejected values must not leak into live settings.
	settings := cfg.CaptureSettings()
	assert.Equal(t, DefaultSensitivity, settings.Sensitivity)
}

func TestCaptureSettingsReflectLiveUpdates(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.Load())

	before := cfg.CaptureSettings()
	require.NoError(t, cfg.SetSensitivity(80))
	after := cfg.CaptureSettings()

	assert.NotEqual(t, before.Sensitivity, after.Sensitivity)
	assert.Equal(t, 80, after.Sensitivity)
}

func TestSnapshotWebhookHelpers(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.False(t, snap.HasWebhook())
	assert.False(t, snap.HasOAuth())

	require.NoError(t, cfg.SetWebhook("https://example.com/hook", "https://example.com/token", "id", "secret"))

	snap = cfg.Snapshot()
	assert.True(t, snap.HasWebhook())
	assert.True(t, snap.HasOAuth())
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}
