package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-relay/internal/blob"
	"github.com/skypro1111/voice-relay/internal/chat"
	"github.com/skypro1111/voice-relay/internal/dispatch"
	"github.com/skypro1111/voice-relay/internal/metrics"
	"github.com/skypro1111/voice-relay/internal/session"
	"github.com/skypro1111/voice-relay/internal/store"
)

const (
	serviceName    = "voice-relay"
	serviceVersion = "1.0.0"
	maxTextBody    = 64 << 10
)

// Chat is the part of the chat service exposed over HTTP
type Chat interface {
	History() []store.Message
	Busy() bool
	SendText(ctx context.Context, text string) (*store.Message, error)
}

// Recorder is the part of the session controller exposed over HTTP
type Recorder interface {
	GetStats() session.Stats
	Start(ctx context.Context) error
}

// DispatchStats reports upload statistics
type DispatchStats interface {
	GetStats() dispatch.ClientStats
}

// Config contains HTTP server configuration
type Config struct {
	Port    int
	Address string
}

// Dependencies holds the collaborators served by the API
type Dependencies struct {
	Chat     Chat
	Recorder Recorder
	Dispatch DispatchStats
	Blobs    *blob.Store
	Feed     *Feed
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// HTTPServer provides HTTP API endpoints for monitoring the client
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	deps    Dependencies
	logger  *slog.Logger

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg Config, deps Dependencies) *HTTPServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
	}
	h.handler = h.routes()

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

func (h *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/history", h.withMetrics("/history", h.handleHistory))
	r.Get("/blobs/{id}", h.withMetrics("/blobs/{id}", h.handleBlob))
	r.With(chiMiddleware.AllowContentType("application/json")).
		Post("/messages", h.withMetrics("/messages", h.handleSendText))
	r.Post("/recording/toggle", h.withMetrics("/recording/toggle", h.handleToggleRecording))

	// Upgraded connections need the raw writer
	if h.deps.Feed != nil {
		r.Get("/ws", h.deps.Feed.ServeHTTP)
	}

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.deps.Feed.Close()
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
	}
	if h.deps.Recorder != nil {
		health["recorder"] = h.deps.Recorder.GetStats().State
	}
	if h.deps.Chat != nil {
		health["busy"] = h.deps.Chat.Busy()
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	if h.deps.Recorder != nil {
		stats["session"] = h.deps.Recorder.GetStats()
	}
	if h.deps.Dispatch != nil {
		stats["dispatch"] = h.deps.Dispatch.GetStats()
	}
	if h.deps.Blobs != nil {
		stats["blobs"] = h.deps.Blobs.Len()
	}
	if h.deps.Chat != nil {
		stats["history_messages"] = len(h.deps.Chat.History())
	}
	if h.deps.Feed != nil {
		stats["feed_subscribers"] = h.deps.Feed.Subscribers()
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.Chat == nil {
		http.Error(w, "Chat not available", http.StatusServiceUnavailable)
		return
	}

	history := h.deps.Chat.History()
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(history),
		"messages": history,
	})
}

func (h *HTTPServer) handleBlob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Blobs == nil {
		http.Error(w, "Blob store not available", http.StatusServiceUnavailable)
		return
	}

	b, ok := h.deps.Blobs.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Blob not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", b.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Data)
}

type sendTextRequest struct {
	Text string `json:"text"`
}

func (h *HTTPServer) handleSendText(w http.ResponseWriter, r *http.Request) {
	if h.deps.Chat == nil {
		http.Error(w, "Chat not available", http.StatusServiceUnavailable)
		return
	}

	var req sendTextRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Text required", http.StatusBadRequest)
		return
	}

	// A disconnecting caller does not abort the upload.
	msg, err := h.deps.Chat.SendText(context.WithoutCancel(r.Context()), req.Text)
	switch {
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, "A message is already being sent", http.StatusConflict)
	case errors.Is(err, dispatch.ErrDispatch):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, msg)
	}
}

func (h *HTTPServer) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	if h.deps.Recorder == nil {
		http.Error(w, "Recorder not available", http.StatusServiceUnavailable)
		return
	}

	if err := h.deps.Recorder.Start(context.WithoutCancel(r.Context())); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrBusy):
			status = http.StatusConflict
		case errors.Is(err, session.ErrPermission):
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Recorder.GetStats())
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET /health":            "Client health check",
			"GET /stats":             "Session and dispatch statistics",
			"GET /history":           "Chat history (optional ?limit=N)",
			"GET /blobs/{id}":        "Stored reply media",
			"POST /messages":         "Send a text message",
			"POST /recording/toggle": "Start or stop voice recording",
			"GET /ws":                "Live feed of chat messages and recording events",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
