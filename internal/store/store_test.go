package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "data", "chat.db"))
	if err != nil {
		t.Fatalf("Failed to open SQLite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemory(),
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			history, err := s.LoadHistory(ctx)
			if err != nil {
				t.Fatalf("LoadHistory failed: %v", err)
			}
			if history != nil {
				t.Errorf("Expected no history, got %v", history)
			}

			messages := []Message{
				{ID: "a", Sender: SenderUser, Type: "text", Content: "hi", Status: StatusSent, Timestamp: ts},
				{ID: "a-reply", Sender: SenderBot, Type: "image", Content: "blob:1", MimeType: "image/png",
					Status: StatusReceived, ReplyTo: "a", Timestamp: ts.Add(time.Second)},
			}
			if err := s.SaveHistory(ctx, messages); err != nil {
				t.Fatalf("SaveHistory failed: %v", err)
			}

			// Saving again overwrites.
			messages = append(messages, Message{ID: "b", Sender: SenderUser, Type: "text", Content: "again", Timestamp: ts})
			if err := s.SaveHistory(ctx, messages); err != nil {
				t.Fatalf("SaveHistory failed: %v", err)
			}

			loaded, err := s.LoadHistory(ctx)
			if err != nil {
				t.Fatalf("LoadHistory failed: %v", err)
			}
			if len(loaded) != 3 {
				t.Fatalf("Expected 3 messages, got %d", len(loaded))
			}
			if loaded[1] != messages[1] {
				t.Errorf("Expected %+v, got %+v", messages[1], loaded[1])
			}
			if !loaded[0].Timestamp.Equal(ts) {
				t.Errorf("Expected timestamp %s, got %s", ts, loaded[0].Timestamp)
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			settings, err := s.LoadSettings(ctx)
			if err != nil {
				t.Fatalf("LoadSettings failed: %v", err)
			}
			if settings != DefaultSettings() {
				t.Errorf("Expected defaults, got %+v", settings)
			}

			want := Settings{
				APIKey:           "key",
				VoiceID:          "voice",
				AutoPlay:         true,
				ConversationMode: true,
				VoiceOutput:      true,
			}
			if err := s.SaveSettings(ctx, want); err != nil {
				t.Fatalf("SaveSettings failed: %v", err)
			}

			got, err := s.LoadSettings(ctx)
			if err != nil {
				t.Fatalf("LoadSettings failed: %v", err)
			}
			want.TTSEndpoint = DefaultTTSEndpoint
			if got != want {
				t.Errorf("Expected %+v, got %+v", want, got)
			}

			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping failed: %v", err)
			}
		})
	}
}

func TestSettingsJSONNames(t *testing.T) {
	raw := []byte(`{"apiKey":"k","voiceId":"v","elevenEndpoint":"http://tts","autoPlay":true,"conversationMode":true,"voiceOutputEnabled":true}`)

	settings, err := decodeSettings(raw)
	if err != nil {
		t.Fatalf("decodeSettings failed: %v", err)
	}

	want := Settings{APIKey: "k", VoiceID: "v", TTSEndpoint: "http://tts", AutoPlay: true, ConversationMode: true, VoiceOutput: true}
	if settings != want {
		t.Errorf("Expected %+v, got %+v", want, settings)
	}

	if _, err := decodeSettings([]byte("{")); err == nil {
		t.Error("Expected error for malformed settings")
	}
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := s.SaveHistory(ctx, []Message{{ID: "x", Sender: SenderBot, Type: "text", Content: "persisted"}}); err != nil {
		t.Fatalf("SaveHistory failed: %v", err)
	}
	s.Close()

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	history, err := reopened.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "persisted" {
		t.Errorf("Expected persisted history, got %+v", history)
	}
}
