package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skypro1111/voice-relay/internal/config"
	"github.com/skypro1111/voice-relay/internal/dispatch"
	"github.com/skypro1111/voice-relay/internal/tts"
)

func TestSynthesizerHonoursConfiguredTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	synth := newSynthesizer(config.TTSConfig{Timeout: 1})
	voice := tts.Voice{APIKey: "key", VoiceID: "voice", Endpoint: server.URL}

	start := time.Now()
	_, err := synth.Synthesize(context.Background(), voice, "hello")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Expected a timeout error from a stalled synthesis endpoint")
	}
	if elapsed > 5*time.Second {
		t.Errorf("Expected the request to give up after about 1s, took %v", elapsed)
	}
}

func TestDispatchConfig(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		want       int
	}{
		{"retries disabled", 0, dispatch.NoRetries},
		{"two retries", 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := dispatchConfig(config.WebhookConfig{
				URL:        "http://localhost/hook",
				Timeout:    30,
				MaxRetries: tt.configured,
			})
			if cfg.MaxRetries != tt.want {
				t.Errorf("Expected MaxRetries %d, got %d", tt.want, cfg.MaxRetries)
			}
			if cfg.Timeout != 30*time.Second {
				t.Errorf("Expected 30s timeout, got %v", cfg.Timeout)
			}
		})
	}
}
