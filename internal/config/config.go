package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Audio   AudioConfig   `yaml:"audio"`
	VAD     VADConfig     `yaml:"vad"`
	Session SessionConfig `yaml:"session"`
	TTS     TTSConfig     `yaml:"tts"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// WebhookConfig contains upload endpoint configuration
type WebhookConfig struct {
	URL              string `yaml:"url"`
	Timeout          int    `yaml:"timeout"` // seconds per attempt
	MaxRetries       int    `yaml:"max_retries"`
	BaseBackoffMs    int    `yaml:"base_backoff_ms"`
	MaxResponseBytes int64  `yaml:"max_response_bytes"`
}

// AudioConfig contains microphone capture parameters
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
	ChunkBuffer     int `yaml:"chunk_buffer"`
}

// VADConfig contains silence detection configuration
type VADConfig struct {
	Threshold       float64 `yaml:"threshold"`        // RMS
	SilenceDuration float64 `yaml:"silence_duration"` // seconds
	FrameIntervalMs int     `yaml:"frame_interval_ms"`
	FrameSize       int     `yaml:"frame_size"` // samples
}

// SessionConfig contains recording session configuration
type SessionConfig struct {
	ConversationMode bool `yaml:"conversation_mode"`
	RestartDelayMs   int  `yaml:"restart_delay_ms"`
}

// TTSConfig contains narration configuration. APIKey, VoiceID and Endpoint
// seed the user settings when none have been saved.
type TTSConfig struct {
	APIKey          string   `yaml:"api_key"`
	VoiceID         string   `yaml:"voice_id"`
	Endpoint        string   `yaml:"endpoint"`
	ModelID         string   `yaml:"model_id"`
	Stability       float64  `yaml:"stability"`
	SimilarityBoost float64  `yaml:"similarity_boost"`
	Timeout         int      `yaml:"timeout"` // seconds
	PlayerCommand   []string `yaml:"player_command"`
	SpeakerCommand  []string `yaml:"speaker_command"`
}

// StoreConfig contains persistence configuration
type StoreConfig struct {
	Driver   string `yaml:"driver"` // sqlite or memory
	Path     string `yaml:"path"`
	MaxBlobs int    `yaml:"max_blobs"`
}

// HTTPConfig contains status API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Webhook: WebhookConfig{
			Timeout:          60,
			MaxRetries:       3,
			BaseBackoffMs:    600,
			MaxResponseBytes: 32 << 20,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
			ChunkBuffer:     64,
		},
		VAD: VADConfig{
			Threshold:       0.02,
			SilenceDuration: 2.5,
			FrameIntervalMs: 16,
			FrameSize:       2048,
		},
		Session: SessionConfig{
			RestartDelayMs: 400,
		},
		TTS: TTSConfig{
			Endpoint:        "https://api.elevenlabs.io/v1/text-to-speech",
			ModelID:         "eleven_monolingual_v1",
			Stability:       0.5,
			SimilarityBoost: 0.5,
			Timeout:         30,
			PlayerCommand:   []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"},
			SpeakerCommand:  []string{"espeak"},
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			Path:     "./data/voicechat.db",
			MaxBlobs: 256,
		},
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides endpoints, secrets and a few switches from environment
// variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	setString("VOICECHAT_WEBHOOK_URL", &c.Webhook.URL)
	setString("VOICECHAT_TTS_API_KEY", &c.TTS.APIKey)
	setString("VOICECHAT_TTS_VOICE_ID", &c.TTS.VoiceID)
	setString("VOICECHAT_TTS_ENDPOINT", &c.TTS.Endpoint)
	setString("VOICECHAT_STORE_PATH", &c.Store.Path)
	setString("VOICECHAT_LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("VOICECHAT_HTTP_ENABLED"); ok {
		c.HTTP.Enabled = parseBool(v, c.HTTP.Enabled)
	}
	if v, ok := lookup("VOICECHAT_HTTP_PORT"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.HTTP.Port = n
		}
	}
	if v, ok := lookup("VOICECHAT_CONVERSATION_MODE"); ok {
		c.Session.ConversationMode = parseBool(v, c.Session.ConversationMode)
	}
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	if w.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
		return fmt.Errorf("url must be http or https, got '%s'", w.URL)
	}

	if w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}

	if w.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", w.MaxRetries)
	}

	if w.BaseBackoffMs < 1 {
		return fmt.Errorf("base_backoff_ms must be positive, got %d", w.BaseBackoffMs)
	}

	if w.MaxResponseBytes < 1024 {
		return fmt.Errorf("max_response_bytes must be at least 1024, got %d", w.MaxResponseBytes)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", a.FramesPerBuffer)
	}

	if a.ChunkBuffer < 1 {
		return fmt.Errorf("chunk_buffer must be at least 1, got %d", a.ChunkBuffer)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold <= 0 || v.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", v.Threshold)
	}

	if v.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", v.SilenceDuration)
	}

	if v.FrameIntervalMs < 1 {
		return fmt.Errorf("frame_interval_ms must be at least 1, got %d", v.FrameIntervalMs)
	}

	if v.FrameSize < 256 || v.FrameSize > 32768 {
		return fmt.Errorf("frame_size must be between 256 and 32768 samples, got %d", v.FrameSize)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.RestartDelayMs < 0 {
		return fmt.Errorf("restart_delay_ms cannot be negative, got %d", s.RestartDelayMs)
	}
	return nil
}

// Validate validates narration configuration
func (t *TTSConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Stability < 0 || t.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", t.Stability)
	}

	if t.SimilarityBoost < 0 || t.SimilarityBoost > 1 {
		return fmt.Errorf("similarity_boost must be between 0 and 1, got %f", t.SimilarityBoost)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("driver must be 'sqlite' or 'memory', got '%s'", s.Driver)
	}

	if s.MaxBlobs < 0 {
		return fmt.Errorf("max_blobs cannot be negative, got %d", s.MaxBlobs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the per-attempt timeout as a time.Duration
func (w *WebhookConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// GetBaseBackoff returns the first retry delay as a time.Duration
func (w *WebhookConfig) GetBaseBackoff() time.Duration {
	return time.Duration(w.BaseBackoffMs) * time.Millisecond
}

// GetSilenceDuration returns the silence duration as a time.Duration
func (v *VADConfig) GetSilenceDuration() time.Duration {
	return time.Duration(v.SilenceDuration * float64(time.Second))
}

// GetFrameInterval returns the sampling interval as a time.Duration
func (v *VADConfig) GetFrameInterval() time.Duration {
	return time.Duration(v.FrameIntervalMs) * time.Millisecond
}

// GetRestartDelay returns the conversation restart delay as a time.Duration
func (s *SessionConfig) GetRestartDelay() time.Duration {
	return time.Duration(s.RestartDelayMs) * time.Millisecond
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (t *TTSConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
