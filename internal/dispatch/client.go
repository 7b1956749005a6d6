package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/skypro1111/voice-relay/internal/blob"
	"github.com/skypro1111/voice-relay/internal/metrics"
)

const (
	DefaultTimeout          = 60 * time.Second
	DefaultMaxRetries       = 3
	DefaultBaseBackoff      = 600 * time.Millisecond
	DefaultMaxResponseBytes = 32 << 20

	// NoRetries disables retrying; a zero MaxRetries means DefaultMaxRetries.
	NoRetries = -1

	HeaderClientMessageID = "X-Client-Message-Id"
	acceptHeader          = "application/json, text/plain, */*"
	maxErrorBodyBytes     = 4 << 10
)

// Config contains dispatch client configuration
type Config struct {
	Endpoint         string
	Timeout          time.Duration // per attempt
	MaxRetries       int
	BaseBackoff      time.Duration // doubled after every retry
	MaxResponseBytes int64
	UserAgent        string
}

// Dependencies groups optional collaborators of a Client.
type Dependencies struct {
	HTTPClient *http.Client
	Clock      clock.Clock
	Blobs      *blob.Store
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Client uploads messages to the webhook
type Client struct {
	config     Config
	httpClient *http.Client
	clock      clock.Clock
	blobs      *blob.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalAttempts   uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalAttempts   uint64        `json:"total_attempts"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a new dispatch client
func NewClient(config Config, deps Dependencies) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = DefaultMaxRetries
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}

	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultBaseBackoff
	}

	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = DefaultMaxResponseBytes
	}

	if config.UserAgent == "" {
		config.UserAgent = "voice-relay/1.0"
	}

	if deps.HTTPClient == nil {
		// Attempt timeouts come from the request context.
		deps.HTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewStore(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: deps.HTTPClient,
		clock:      deps.Clock,
		blobs:      deps.Blobs,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}, nil
}

// Blobs returns the store holding binary replies
func (c *Client) Blobs() *blob.Store {
	return c.blobs
}

// Send uploads msg and returns the normalized reply. Transport failures are
// retried up to MaxRetries times, waiting BaseBackoff, 2×BaseBackoff, ...
// between attempts. Every failure is a *DispatchError.
func (c *Client) Send(ctx context.Context, msg *OutboundMessage) (*InboundResponse, error) {
	if msg == nil {
		return nil, &DispatchError{Cause: errors.New("nil message")}
	}
	if msg.ClientID == "" {
		msg.ClientID = NewClientID()
	}

	msgType := msg.TypeField()
	logger := c.logger.With("client_message_id", msg.ClientID, "type", string(msgType))

	body, contentType, err := c.createMultipartRequest(msg)
	if err != nil {
		return nil, &DispatchError{ClientID: msg.ClientID, Cause: fmt.Errorf("failed to create multipart request: %w", err)}
	}

	startTime := c.clock.Now()
	c.incrementTotalRequests()
	c.metrics.RecordDispatchRequest(string(msgType))

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.BaseBackoff << (attempt - 1)
			timer := c.clock.Timer(backoff)
			c.incrementTotalRetries()
			c.metrics.RecordDispatchRetry()

			logger.Warn("Retrying dispatch after transport error",
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr)

			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				return nil, c.fail(msg.ClientID, attempts, lastErr, startTime)
			}
		}

		attempts++
		c.incrementTotalAttempts()

		response, err := c.doRequest(ctx, msg.ClientID, body, contentType)
		if err == nil {
			elapsed := c.clock.Since(startTime)
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(elapsed)
			c.metrics.RecordDispatchSuccess(string(response.Kind), elapsed.Seconds())

			logger.Info("Message dispatched",
				"attempts", attempts,
				"reply_kind", string(response.Kind),
				"duration", elapsed)
			return response, nil
		}

		lastErr = err

		if !IsTransport(err) || ctx.Err() != nil {
			break
		}
	}

	return nil, c.fail(msg.ClientID, attempts, lastErr, startTime)
}

func (c *Client) fail(clientID string, attempts int, cause error, startTime time.Time) error {
	elapsed := c.clock.Since(startTime)
	c.incrementFailedRequests()
	c.metrics.RecordDispatchFailure(failureReason(cause), elapsed.Seconds())

	dispatchErr := &DispatchError{ClientID: clientID, Attempts: attempts, Cause: cause}
	var se *StatusError
	if errors.As(cause, &se) {
		dispatchErr.StatusCode = se.StatusCode
	}

	c.logger.Error("Dispatch failed",
		"client_message_id", clientID,
		"attempts", attempts,
		"error", cause)
	return dispatchErr
}

// doRequest performs a single attempt bounded by the attempt timeout
func (c *Client) doRequest(ctx context.Context, clientID string, body []byte, contentType string) (*InboundResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set(HeaderClientMessageID, clientID)
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	// A completed non-2xx response is final even if its body is cut short.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if int64(len(respBody)) > c.config.MaxResponseBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", c.config.MaxResponseBytes)
	}

	return Normalize(resp.Header.Get("Content-Type"), respBody, c.blobs, clientID)
}

// createMultipartRequest builds the form body once so every attempt sends
// identical bytes.
func (c *Client) createMultipartRequest(msg *OutboundMessage) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := []struct{ key, value string }{
		{"clientMessageId", msg.ClientID},
		{"type", string(msg.TypeField())},
		{"message", msg.MessageField()},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.key, err)
		}
	}

	if att := msg.Attachment; att != nil && msg.Kind != KindText {
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", multipart.FileContentDisposition("file", att.Name))
		h.Set("Content-Type", mimeType)

		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write attachment: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalAttempts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalAttempts++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalAttempts:   c.totalAttempts,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
	}
}
