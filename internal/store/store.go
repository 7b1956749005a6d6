// Package store persists chat history and user settings.
package store

import (
	"context"
	"time"
)

// Keys under which the two JSON documents are stored.
const (
	HistoryKey  = "chatHistory"
	SettingsKey = "chatSettings"
)

// Sender values
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Status values of a history record
const (
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
	StatusError    = "error"
)

// Message is one chat history record.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	MimeType  string    `json:"mimeType,omitempty"`
	Status    string    `json:"status,omitempty"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Settings are the user preferences.
type Settings struct {
	APIKey           string `json:"apiKey"`
	VoiceID          string `json:"voiceId"`
	TTSEndpoint      string `json:"elevenEndpoint"`
	AutoPlay         bool   `json:"autoPlay"`
	ConversationMode bool   `json:"conversationMode"`
	VoiceOutput      bool   `json:"voiceOutputEnabled"`
}

// DefaultTTSEndpoint is used when no endpoint has been saved.
const DefaultTTSEndpoint = "https://api.elevenlabs.io/v1/text-to-speech"

// DefaultSettings returns the settings used before anything is saved.
func DefaultSettings() Settings {
	return Settings{TTSEndpoint: DefaultTTSEndpoint}
}

// Store defines persistence for history and settings. Both are opaque JSON
// documents with no schema version.
type Store interface {
	// LoadHistory returns the saved history, or nil when none exists.
	LoadHistory(ctx context.Context) ([]Message, error)

	// SaveHistory replaces the saved history.
	SaveHistory(ctx context.Context, messages []Message) error

	// LoadSettings returns saved settings merged over DefaultSettings.
	LoadSettings(ctx context.Context) (Settings, error)

	// SaveSettings replaces the saved settings.
	SaveSettings(ctx context.Context, settings Settings) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}
