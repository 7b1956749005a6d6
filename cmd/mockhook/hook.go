package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/skypro1111/voice-relay/internal/audio"
	"github.com/skypro1111/voice-relay/internal/dispatch"
)

const maxUploadBytes = 32 << 20

type hook struct {
	delay  time.Duration
	status int
	logger *slog.Logger
}

type reply struct {
	Output string `json:"output"`
	Type   string `json:"type,omitempty"`
}

func (h *hook) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Post("/webhook", h.handleUpload)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (h *hook) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	clientID := r.Header.Get(dispatch.HeaderClientMessageID)
	formID := r.FormValue("clientMessageId")
	kind := r.FormValue("type")
	message := r.FormValue("message")

	var (
		data     []byte
		filename string
		mimeType string
	)
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading file", http.StatusInternalServerError)
			return
		}
		filename = header.Filename
		mimeType = header.Header.Get("Content-Type")
	}

	h.logger.Info("Upload received",
		slog.String("client_message_id", clientID),
		slog.Bool("id_matches", clientID == formID),
		slog.String("type", kind),
		slog.String("message", message),
		slog.String("filename", filename),
		slog.String("mime_type", mimeType),
		slog.Int("size_bytes", len(data)),
	)

	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-r.Context().Done():
			return
		}
	}

	if h.status != 0 {
		http.Error(w, http.StatusText(h.status), h.status)
		return
	}

	switch {
	case kind == "audio":
		writeReply(w, reply{Output: describeVoice(data)})
	case kind == "image" && len(data) > 0:
		// Echo images back as a binary reply.
		w.Header().Set("Content-Type", mimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case filename != "":
		writeReply(w, reply{Output: fmt.Sprintf("Received %s (%s, %d bytes)", filename, mimeType, len(data))})
	case strings.HasPrefix(message, "#"):
		writeReply(w, reply{Output: message, Type: "markdown"})
	default:
		writeReply(w, reply{Output: "You said: " + message})
	}
}

func describeVoice(data []byte) string {
	info, err := audio.ReadWAVInfo(data)
	if err != nil {
		return fmt.Sprintf("Received %d bytes of audio that is not a WAV file: %v", len(data), err)
	}
	return fmt.Sprintf("Received %.1f seconds of audio at %d Hz", info.Duration, info.SampleRate)
}

func writeReply(w http.ResponseWriter, v reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
