package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultEndpoint        = "https://api.elevenlabs.io/v1/text-to-speech"
	DefaultModelID         = "eleven_monolingual_v1"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.5
	DefaultTimeout         = 30 * time.Second

	apiKeyHeader    = "xi-api-key"
	defaultMimeType = "audio/mpeg"
	maxSpeechBytes  = 16 << 20
)

// ErrConfiguration is returned when credentials for the speech API are missing.
var ErrConfiguration = errors.New("text-to-speech credentials not configured")

// Voice selects the account and voice used for synthesis. It comes from user
// settings and may change between calls.
type Voice struct {
	APIKey   string
	VoiceID  string
	Endpoint string
}

// Configured reports whether both credentials are present
func (v Voice) Configured() bool {
	return v.APIKey != "" && v.VoiceID != ""
}

// Speech is synthesized audio
type Speech struct {
	MimeType string
	Data     []byte
}

// Config contains synthesis parameters
type Config struct {
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabs is a client for the text-to-speech API
type ElevenLabs struct {
	config     Config
	httpClient *http.Client
}

// NewElevenLabs creates a synthesis client. A nil httpClient uses a client
// bounded by the configured timeout.
func NewElevenLabs(config Config, httpClient *http.Client) *ElevenLabs {
	if config.ModelID == "" {
		config.ModelID = DefaultModelID
	}
	if config.Stability <= 0 {
		config.Stability = DefaultStability
	}
	if config.SimilarityBoost <= 0 {
		config.SimilarityBoost = DefaultSimilarityBoost
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &ElevenLabs{config: config, httpClient: httpClient}
}

// Synthesize converts text to speech. Missing credentials yield ErrConfiguration.
func (e *ElevenLabs) Synthesize(ctx context.Context, voice Voice, text string) (*Speech, error) {
	if !voice.Configured() {
		return nil, ErrConfiguration
	}

	endpoint := voice.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	target := strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(voice.VoiceID)

	payload, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Accept", defaultMimeType)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, voice.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("text-to-speech API error: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	return &Speech{MimeType: mimeType, Data: data}, nil
}
