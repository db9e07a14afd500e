// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/streekomroep/voxcap/internal/types"
	"github.com/streekomroep/voxcap/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort          = 8080
	DefaultSensitivity      = 25
	DefaultSilenceTimeoutMs = 1500
	DefaultCodec            = types.CodecWAV
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port"`        // HTTP server port
	APIKey     string `json:"api_key"`     // API key for REST and WebSocket access
}

// AudioConfig holds audio input and encoding settings.
type AudioConfig struct {
	Input string      `json:"input"` // Audio input device identifier
	Codec types.Codec `json:"codec"` // Segment encoding codec
}

// CaptureConfig holds voice-activity detection parameters. These are read
// live on every analysis tick, so changes apply to an in-flight session.
type CaptureConfig struct {
	Sensitivity      int   `json:"sensitivity"`        // Voice threshold, 0-100
	SilenceTimeoutMs int64 `json:"silence_timeout_ms"` // Continuous silence before a segment closes
	AutoStart        bool  `json:"auto_start"`         // Start a continuous session on boot
}

// WebhookConfig holds webhook forwarding settings for finished recordings.
type WebhookConfig struct {
	URL          string `json:"url"`           // Webhook URL for finished recordings
	TokenURL     string `json:"token_url"`     // OAuth2 token endpoint (empty = unauthenticated)
	ClientID     string `json:"client_id"`     // OAuth2 client credentials ID
	ClientSecret string `json:"client_secret"` // OAuth2 client credentials secret
}

// LogConfig holds event log settings.
type LogConfig struct {
	Path string `json:"path"` // Log file path for capture events
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"` // Webhook settings
	Log     LogConfig     `json:"log"`     // Event log settings
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Audio         AudioConfig         `json:"audio"`
	Capture       CaptureConfig       `json:"capture"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Audio: AudioConfig{
			Codec: DefaultCodec,
		},
		Capture: CaptureConfig{
			Sensitivity:      DefaultSensitivity,
			SilenceTimeoutMs: DefaultSilenceTimeoutMs,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return err
	}

	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	if c.Capture.Sensitivity < 0 || c.Capture.Sensitivity > 100 {
		return fmt.Errorf("invalid sensitivity %d: must be 0-100", c.Capture.Sensitivity)
	}
	if c.Capture.SilenceTimeoutMs < 0 {
		return fmt.Errorf("invalid silence_timeout_ms %d: must be >= 0", c.Capture.SilenceTimeoutMs)
	}
	if _, ok := types.CodecPresets[c.Audio.Codec]; !ok {
		return fmt.Errorf("invalid codec %q", c.Audio.Codec)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.Audio.Codec == "" {
		c.Audio.Codec = DefaultCodec
	}
	if c.Capture.SilenceTimeoutMs == 0 {
		c.Capture.SilenceTimeoutMs = DefaultSilenceTimeoutMs
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters for individual settings ---

// CaptureSettings is the tuple of detection parameters the engine reads on
// every tick.
type CaptureSettings struct {
	Sensitivity    int
	SilenceTimeout time.Duration
}

// CaptureSettings returns the current detection parameters.
func (c *Config) CaptureSettings() CaptureSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CaptureSettings{
		Sensitivity:    c.Capture.Sensitivity,
		SilenceTimeout: time.Duration(c.Capture.SilenceTimeoutMs) * time.Millisecond,
	}
}

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// Codec returns the configured segment codec.
func (c *Config) Codec() types.Codec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.Audio.Codec, DefaultCodec)
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// GetAPIKey returns the API key for REST and WebSocket access.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// AutoStart reports whether a continuous session starts on boot.
func (c *Config) AutoStart() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.AutoStart
}

// LogPath returns the configured event log path.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.Log.Path
}

// WebhookSettings returns a copy of the webhook forwarding configuration.
func (c *Config) WebhookSettings() WebhookConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.Webhook
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetCodec updates the segment codec and saves the configuration.
func (c *Config) SetCodec(codec types.Codec) error {
	if _, ok := types.CodecPresets[codec]; !ok {
		return fmt.Errorf("invalid codec %q", codec)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Codec = codec
	return c.saveLocked()
}

// SetSensitivity updates the voice threshold and saves the configuration.
// An in-flight session picks the new value up on its next tick.
func (c *Config) SetSensitivity(sensitivity int) error {
	if sensitivity < 0 || sensitivity > 100 {
		return fmt.Errorf("invalid sensitivity %d: must be 0-100", sensitivity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.Sensitivity = sensitivity
	return c.saveLocked()
}

// SetSilenceTimeoutMs updates the silence timeout and saves the configuration.
func (c *Config) SetSilenceTimeoutMs(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("invalid silence_timeout_ms %d: must be >= 0", ms)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.SilenceTimeoutMs = ms
	return c.saveLocked()
}

// SetAutoStart updates the boot behavior and saves the configuration.
func (c *Config) SetAutoStart(autoStart bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.AutoStart = autoStart
	return c.saveLocked()
}

// SetWebhook updates all webhook forwarding fields and saves the configuration.
func (c *Config) SetWebhook(url, tokenURL, clientID, clientSecret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook = WebhookConfig{
		URL:          url,
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
	return c.saveLocked()
}

// SetLogPath updates the event log path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort    int
	APIKey     string
	FFmpegPath string

	// Audio
	AudioInput string
	Codec      types.Codec

	// Capture
	Sensitivity      int
	SilenceTimeoutMs int64
	AutoStart        bool

	// Notifications
	WebhookURL          string
	WebhookTokenURL     string
	WebhookClientID     string
	WebhookClientSecret string
	LogPath             string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:    c.System.Port,
		APIKey:     c.System.APIKey,
		FFmpegPath: c.System.FFmpegPath,

		AudioInput: c.Audio.Input,
		Codec:      cmp.Or(c.Audio.Codec, DefaultCodec),

		Sensitivity:      c.Capture.Sensitivity,
		SilenceTimeoutMs: c.Capture.SilenceTimeoutMs,
		AutoStart:        c.Capture.AutoStart,

		WebhookURL:          c.Notifications.Webhook.URL,
		WebhookTokenURL:     c.Notifications.Webhook.TokenURL,
		WebhookClientID:     c.Notifications.Webhook.ClientID,
		WebhookClientSecret: c.Notifications.Webhook.ClientSecret,
		LogPath:             c.Notifications.Log.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasOAuth reports whether the webhook uses OAuth2 client credentials.
func (s *Snapshot) HasOAuth() bool {
	return util.IsConfigured(s.WebhookTokenURL, s.WebhookClientID, s.WebhookClientSecret)
}

// HasLogPath reports whether an event log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
