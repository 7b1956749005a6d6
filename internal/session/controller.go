package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/skypro1111/voice-relay/internal/audio"
	"github.com/skypro1111/voice-relay/internal/capture"
	"github.com/skypro1111/voice-relay/internal/metrics"
	"github.com/skypro1111/voice-relay/internal/vad"
)

// DefaultRestartDelay is the pause between a completed send and the next
// conversation mode session.
const DefaultRestartDelay = 400 * time.Millisecond

var (
	// ErrPermission is returned when the microphone cannot be acquired.
	ErrPermission = errors.New("microphone access failed")
	// ErrBusy is returned when a session is being finalized.
	ErrBusy = errors.New("recording session is stopping")
	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("no active recording")
	// ErrClosed is returned after the controller has been closed.
	ErrClosed = errors.New("session controller closed")
)

// State is the controller state
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// VoiceSender delivers an encoded recording.
type VoiceSender interface {
	SendVoice(ctx context.Context, recording *audio.EncodedAudio) error
}

// Config contains controller configuration
type Config struct {
	RestartDelay     time.Duration
	ConversationMode bool
	VAD              vad.Config
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		RestartDelay: DefaultRestartDelay,
		VAD:          vad.DefaultConfig(),
	}
}

// Validate checks the controller configuration
func (c Config) Validate() error {
	if c.RestartDelay < 0 {
		return fmt.Errorf("restart delay must not be negative, got %s", c.RestartDelay)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	return nil
}

// Dependencies groups the collaborators of a Controller. Microphone and
// Sender are required.
type Dependencies struct {
	Microphone capture.Microphone
	Sender     VoiceSender
	Decoders   audio.Decoders
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	OnEvent    func(Event)
}

// Session is one microphone acquisition. It is never reused.
type Session struct {
	ID        string
	StartedAt time.Time

	capture     capture.Capture
	buffer      *audio.Buffer
	handle      *vad.Handle
	readerDone  chan struct{}
	auto        bool
	releaseOnce sync.Once
}

// Stats represents controller statistics
type Stats struct {
	State            string    `json:"state"`
	ConversationMode bool      `json:"conversation_mode"`
	SessionID        string    `json:"session_id,omitempty"`
	SessionsStarted  uint64    `json:"sessions_started"`
	SessionsSent     uint64    `json:"sessions_sent"`
	SessionsFailed   uint64    `json:"sessions_failed"`
	AutoStops        uint64    `json:"auto_stops"`
	Restarts         uint64    `json:"restarts"`
	PermissionErrors uint64    `json:"permission_errors"`
	RestartPending   bool      `json:"restart_pending"`
	LastError        string    `json:"last_error,omitempty"`
	LastActivity     time.Time `json:"last_activity"`
}

// Controller runs recording sessions
type Controller struct {
	config   Config
	mic      capture.Microphone
	sender   VoiceSender
	decoders audio.Decoders
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	onEvent  func(Event)

	// Lifetime of background stops and restarts
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Session state
	state        State
	conversation bool
	current      *Session
	restart      *clock.Timer
	restartGen   uint64
	closed       bool

	// Statistics
	sessionsStarted  uint64
	sessionsSent     uint64
	sessionsFailed   uint64
	autoStops        uint64
	restarts         uint64
	permissionErrors uint64
	lastError        error
	lastActivity     time.Time

	mu sync.Mutex
}

// NewController creates a session controller
func NewController(config Config, deps Dependencies) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if deps.Microphone == nil {
		return nil, errors.New("microphone is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("voice sender is required")
	}
	if deps.Decoders == nil {
		deps.Decoders = audio.DefaultDecoders()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		config:       config,
		mic:          deps.Microphone,
		sender:       deps.Sender,
		decoders:     deps.Decoders,
		clock:        deps.Clock,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		onEvent:      deps.OnEvent,
		ctx:          ctx,
		cancel:       cancel,
		conversation: config.ConversationMode,
		lastActivity: deps.Clock.Now(),
	}, nil
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationMode reports whether conversation mode is enabled
func (c *Controller) ConversationMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversation
}

// SetConversationMode toggles conversation mode. Disabling it cancels a
// pending restart; it does not stop a session that is already recording.
func (c *Controller) SetConversationMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conversation == enabled {
		return
	}
	c.conversation = enabled
	if !enabled {
		c.cancelRestartLocked()
	}

	c.logger.Info("Conversation mode changed", "enabled", enabled)
}

// Start acquires the microphone and begins recording. Calling Start while
// recording stops the session instead and returns the send result.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == StateRecording:
		c.mu.Unlock()
		return c.Stop(ctx)
	case c.state == StateStopping:
		c.mu.Unlock()
		return ErrBusy
	}
	defer c.mu.Unlock()

	c.cancelRestartLocked()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	capt, err := c.mic.Open(ctx)
	if err != nil {
		c.permissionErrors++
		c.lastError = err
		c.metrics.RecordPermissionDenied()
		c.logger.Error("Failed to acquire microphone", "error", err)

		c.setStateLocked(StateError, err)
		c.setStateLocked(StateIdle, nil)
		return fmt.Errorf("%w: %w", ErrPermission, err)
	}

	now := c.clock.Now()
	s := &Session{
		ID:         uuid.NewString(),
		StartedAt:  now,
		capture:    capt,
		buffer:     audio.NewBuffer(capt.MimeType()),
		readerDone: make(chan struct{}),
	}

	go func() {
		defer close(s.readerDone)
		for chunk := range capt.Chunks() {
			s.buffer.Append(chunk)
		}
	}()

	if c.conversation {
		detector, err := vad.NewDetector(c.config.VAD, c.clock, func() { c.autoStop(s) })
		if err != nil {
			// Config was validated in NewController.
			c.logger.Error("Failed to create silence detector", "error", err)
		} else {
			s.handle = detector.Start(c.ctx, capt.Analyser())
		}
	}

	c.current = s
	c.sessionsStarted++
	c.lastActivity = now
	c.metrics.RecordSessionStarted()
	c.setStateLocked(StateRecording, nil)

	c.logger.Info("Recording started",
		"session_id", s.ID,
		"mime_type", capt.MimeType(),
		"silence_detection", s.handle != nil)

	return nil
}

// Stop finalizes the active session, encodes it and sends it. It returns
// the encode or send error. An explicit stop ends the conversation loop
// for this session.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return ErrNotRecording
	}
	return c.finish(ctx, s)
}

func (c *Controller) autoStop(s *Session) {
	c.mu.Lock()
	if c.current != s || c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	s.auto = true
	c.autoStops++
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.RecordAutoStop()
	c.logger.Info("Silence detected, stopping recording", "session_id", s.ID)
	c.emit(Event{Type: EventAutoStop, SessionID: s.ID})

	// The detector callback runs on a timer goroutine; finishing joins the
	// detector loop, so hand off.
	go func() {
		defer c.wg.Done()
		_ = c.finish(c.ctx, s)
	}()
}

func (c *Controller) finish(ctx context.Context, s *Session) error {
	c.mu.Lock()
	if c.current != s || c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		if state == StateStopping {
			return ErrBusy
		}
		return ErrNotRecording
	}
	auto := s.auto
	c.setStateLocked(StateStopping, nil)
	c.mu.Unlock()

	err := c.encodeAndSend(ctx, s)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	c.lastActivity = c.clock.Now()
	duration := c.lastActivity.Sub(s.StartedAt).Seconds()

	if err != nil {
		c.sessionsFailed++
		c.lastError = err
		c.metrics.RecordSessionFinished(outcome(err), duration)
		c.logger.Error("Voice message failed", "session_id", s.ID, "error", err)
		c.emitLocked(Event{Type: EventSendFailed, SessionID: s.ID, Err: err})
	} else {
		c.sessionsSent++
		c.metrics.RecordSessionFinished("sent", duration)
		c.logger.Info("Voice message sent", "session_id", s.ID, "duration_seconds", duration)
	}

	c.setStateLocked(StateIdle, nil)

	if auto && c.conversation && !c.closed {
		c.scheduleRestartLocked()
	}

	return err
}

func outcome(err error) string {
	if errors.Is(err, audio.ErrDecode) {
		return "encode_failed"
	}
	return "send_failed"
}

// encodeAndSend releases the capture, then encodes and sends the recording.
func (c *Controller) encodeAndSend(ctx context.Context, s *Session) error {
	c.release(s)

	blob := s.buffer.Finalize()
	stats := s.buffer.GetStats()
	c.logger.Debug("Recording finalized",
		"session_id", s.ID,
		"bytes", len(blob.Data),
		"chunks", stats.TotalChunks)

	encoded, err := audio.Transcode(ctx, c.decoders, blob)
	if err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	c.metrics.RecordEncoded(len(encoded.Data))

	if err := c.sender.SendVoice(ctx, encoded); err != nil {
		return fmt.Errorf("send recording: %w", err)
	}
	return nil
}

// release stops the detector, closes the capture and waits for the chunk
// reader. It runs once per session.
func (c *Controller) release(s *Session) {
	s.releaseOnce.Do(func() {
		if s.handle != nil {
			s.handle.Stop()
		}
		if err := s.capture.Close(); err != nil {
			c.logger.Warn("Failed to close capture", "session_id", s.ID, "error", err)
		}
		<-s.readerDone
	})
}

func (c *Controller) scheduleRestartLocked() {
	c.cancelRestartLocked()

	c.restartGen++
	gen := c.restartGen
	delay := c.config.RestartDelay
	c.restart = c.clock.AfterFunc(delay, func() { c.fireRestart(gen) })

	c.logger.Debug("Conversation restart scheduled", "delay", delay)
	c.emitLocked(Event{Type: EventRestartScheduled})
}

func (c *Controller) cancelRestartLocked() {
	if c.restart == nil {
		return
	}
	c.restart.Stop()
	c.restart = nil
	c.restartGen++
	c.emitLocked(Event{Type: EventRestartCancelled})
}

func (c *Controller) fireRestart(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.restartGen || c.restart == nil {
		return
	}
	c.restart = nil
	if c.closed || !c.conversation || c.state != StateIdle {
		return
	}

	c.restarts++
	c.metrics.RecordRestart()
	if err := c.startLocked(c.ctx); err != nil {
		c.logger.Warn("Conversation restart failed", "error", err)
	}
}

func (c *Controller) setStateLocked(state State, err error) {
	if c.state == state {
		return
	}
	c.state = state
	c.emitLocked(Event{Type: EventStateChanged, State: state, Err: err})
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(ev)
}

// emitLocked calls the event hook with the controller lock held; hooks must
// not call back into the controller synchronously.
func (c *Controller) emitLocked(ev Event) {
	if c.onEvent == nil {
		return
	}
	ev.Time = c.clock.Now()
	if ev.Type != EventStateChanged {
		ev.State = c.state
	}
	c.onEvent(ev)
}

// GetStats returns current controller statistics
func (c *Controller) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		State:            c.state.String(),
		ConversationMode: c.conversation,
		SessionsStarted:  c.sessionsStarted,
		SessionsSent:     c.sessionsSent,
		SessionsFailed:   c.sessionsFailed,
		AutoStops:        c.autoStops,
		Restarts:         c.restarts,
		PermissionErrors: c.permissionErrors,
		RestartPending:   c.restart != nil,
		LastActivity:     c.lastActivity,
	}
	if c.current != nil {
		stats.SessionID = c.current.ID
	}
	if c.lastError != nil {
		stats.LastError = c.lastError.Error()
	}
	return stats
}

// Close cancels a pending restart, discards an active recording without
// sending it and waits for background stops to finish.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelRestartLocked()
	s := c.current
	if s != nil && c.state == StateRecording {
		c.current = nil
		c.setStateLocked(StateIdle, nil)
		c.metrics.RecordSessionFinished("discarded", c.clock.Now().Sub(s.StartedAt).Seconds())
	} else {
		s = nil
	}
	c.mu.Unlock()

	if s != nil {
		c.release(s)
		c.logger.Info("Recording discarded on shutdown", "session_id", s.ID)
	}

	c.cancel()
	c.wg.Wait()
	return nil
}
