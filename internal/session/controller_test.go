package session

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/skypro1111/voice-relay/internal/audio"
	"github.com/skypro1111/voice-relay/internal/capture"
	"github.com/skypro1111/voice-relay/internal/vad"
)

const testRate = 16000

type fakeAnalyser struct {
	level atomic.Uint32
}

func (a *fakeAnalyser) set(v float32) { a.level.Store(math.Float32bits(v)) }

func (a *fakeAnalyser) TimeDomain(dst []float32) int {
	v := math.Float32frombits(a.level.Load())
	for i := range dst {
		if i%2 == 0 {
			dst[i] = v
		} else {
			dst[i] = -v
		}
	}
	return len(dst)
}

type fakeCapture struct {
	chunks   chan []byte
	analyser *fakeAnalyser
	closed   atomic.Bool
	once     sync.Once
}

func (c *fakeCapture) MimeType() string       { return audio.PCMContentType(testRate, 1) }
func (c *fakeCapture) Chunks() <-chan []byte  { return c.chunks }
func (c *fakeCapture) Analyser() vad.Analyser { return c.analyser }

func (c *fakeCapture) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.chunks)
	})
	return nil
}

type fakeMic struct {
	err    error
	level  float32
	opened chan *fakeCapture
	opens  atomic.Int32
}

func newFakeMic(level float32) *fakeMic {
	return &fakeMic{level: level, opened: make(chan *fakeCapture, 16)}
}

func (m *fakeMic) Open(ctx context.Context) (capture.Capture, error) {
	m.opens.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	c := &fakeCapture{
		chunks:   make(chan []byte, 16),
		analyser: &fakeAnalyser{},
	}
	c.analyser.set(m.level)
	m.opened <- c
	return c, nil
}

type fakeSender struct {
	err  error
	sent chan *audio.EncodedAudio
	// gate, when set, holds SendVoice until the test lets it return.
	gate chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan *audio.EncodedAudio, 16)}
}

func newGatedSender() *fakeSender {
	s := newFakeSender()
	s.gate = make(chan struct{})
	return s
}

func (s *fakeSender) SendVoice(ctx context.Context, recording *audio.EncodedAudio) error {
	s.sent <- recording
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(t EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, ev := range l.events {
		if ev.Type == EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func pcmChunk(samples int, amplitude int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func receiveCapture(t *testing.T, mic *fakeMic) *fakeCapture {
	t.Helper()
	select {
	case c := <-mic.opened:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("Expected microphone to be opened")
		return nil
	}
}

func newTestController(t *testing.T, cfg Config, mic *fakeMic, sender *fakeSender, clk clock.Clock) (*Controller, *eventLog) {
	t.Helper()
	events := &eventLog{}
	ctrl, err := NewController(cfg, Dependencies{
		Microphone: mic,
		Sender:     sender,
		Clock:      clk,
		OnEvent:    events.record,
	})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, events
}

func TestStartStopSendsWAV(t *testing.T) {
	mic := newFakeMic(0.5)
	sender := newFakeSender()
	ctrl, events := newTestController(t, DefaultConfig(), mic, sender, clock.New())

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if ctrl.State() != StateRecording {
		t.Fatalf("Expected recording state, got %s", ctrl.State())
	}

	c := receiveCapture(t, mic)
	c.chunks <- pcmChunk(800, 8000)
	c.chunks <- pcmChunk(800, 8000)

	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}

	recording := <-sender.sent
	if recording.Frames != 1600 {
		t.Errorf("Expected 1600 frames, got %d", recording.Frames)
	}
	if recording.SampleRate != testRate || recording.Channels != 1 || recording.BitDepth != 16 {
		t.Errorf("Unexpected format: rate=%d channels=%d bits=%d",
			recording.SampleRate, recording.Channels, recording.BitDepth)
	}
	if err := audio.ValidateWAV(recording.Data); err != nil {
		t.Errorf("Expected valid WAV: %v", err)
	}

	if !c.closed.Load() {
		t.Error("Expected capture to be released")
	}
	if ctrl.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", ctrl.State())
	}

	expected := []State{StateRecording, StateStopping, StateIdle}
	got := events.states()
	if len(got) != len(expected) {
		t.Fatalf("Expected states %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("State %d: expected %s, got %s", i, expected[i], got[i])
		}
	}

	stats := ctrl.GetStats()
	if stats.SessionsStarted != 1 || stats.SessionsSent != 1 {
		t.Errorf("Expected 1 started and 1 sent, got %d and %d", stats.SessionsStarted, stats.SessionsSent)
	}
}

func TestPermissionDenied(t *testing.T) {
	mic := newFakeMic(0)
	mic.err = capture.ErrPermissionDenied
	ctrl, events := newTestController(t, DefaultConfig(), mic, newFakeSender(), clock.New())

	err := ctrl.Start(context.Background())
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("Expected ErrPermission, got %v", err)
	}
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Errorf("Expected underlying cause to be preserved, got %v", err)
	}
	if ctrl.State() != StateIdle {
		t.Errorf("Expected idle state after denial, got %s", ctrl.State())
	}

	states := events.states()
	if len(states) != 2 || states[0] != StateError || states[1] != StateIdle {
		t.Errorf("Expected error then idle, got %v", states)
	}

	// No retry happens on its own.
	time.Sleep(20 * time.Millisecond)
	if n := mic.opens.Load(); n != 1 {
		t.Errorf("Expected exactly 1 open attempt, got %d", n)
	}
}

func TestStartWhileRecordingStops(t *testing.T) {
	mic := newFakeMic(0.5)
	sender := newFakeSender()
	ctrl, _ := newTestController(t, DefaultConfig(), mic, sender, clock.New())

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	c := receiveCapture(t, mic)
	c.chunks <- pcmChunk(160, 1000)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Expected toggle to stop and send, got %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("Expected 1 recording sent, got %d", len(sender.sent))
	}
	if n := mic.opens.Load(); n != 1 {
		t.Errorf("Expected no second open, got %d opens", n)
	}
}

func TestStopWithoutSession(t *testing.T) {
	ctrl, _ := newTestController(t, DefaultConfig(), newFakeMic(0), newFakeSender(), clock.New())

	if err := ctrl.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
}

func TestSendFailureReleasesSession(t *testing.T) {
	mic := newFakeMic(0.5)
	sender := newFakeSender()
	sender.err = errors.New("webhook unreachable")
	ctrl, events := newTestController(t, DefaultConfig(), mic, sender, clock.New())

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	c := receiveCapture(t, mic)
	c.chunks <- pcmChunk(160, 1000)

	err := ctrl.Stop(context.Background())
	if !errors.Is(err, sender.err) {
		t.Fatalf("Expected send error, got %v", err)
	}
	if !c.closed.Load() {
		t.Error("Expected capture to be released after failed send")
	}
	if ctrl.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", ctrl.State())
	}
	if !events.has(EventSendFailed) {
		t.Error("Expected send failure event")
	}

	// A new session can start after the failure.
	if err := ctrl.Start(context.Background()); err != nil {
		t.Errorf("Expected restart after failure to succeed, got %v", err)
	}
}

func TestEmptyRecordingFailsToEncode(t *testing.T) {
	mic := newFakeMic(0.5)
	sender := newFakeSender()
	ctrl, _ := newTestController(t, DefaultConfig(), mic, sender, clock.New())

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	c := receiveCapture(t, mic)

	err := ctrl.Stop(context.Background())
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}
	if !c.closed.Load() {
		t.Error("Expected capture to be released")
	}
	if len(sender.sent) != 0 {
		t.Error("Expected nothing to be sent")
	}
}

// runUntilSent advances the mock clock until the sender receives a recording.
// A gated sender is released only after the clock stops moving, so anything
// scheduled once the send returns starts from a fixed mock time.
func runUntilSent(t *testing.T, mock *clock.Mock, sender *fakeSender) *audio.EncodedAudio {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case rec := <-sender.sent:
			if sender.gate != nil {
				sender.gate <- struct{}{}
			}
			return rec
		default:
		}
		mock.Add(50 * time.Millisecond)
	}
	t.Fatal("Expected a recording to be sent after sustained silence")
	return nil
}

func conversationConfig() Config {
	cfg := DefaultConfig()
	cfg.ConversationMode = true
	return cfg
}

func TestConversationModeRestartsAfterAutoStop(t *testing.T) {
	mock := clock.NewMock()
	mic := newFakeMic(0)
	sender := newGatedSender()
	ctrl, events := newTestController(t, conversationConfig(), mic, sender, mock)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	first := receiveCapture(t, mic)
	first.chunks <- pcmChunk(1600, 100)

	runUntilSent(t, mock, sender)
	waitFor(t, "restart to be scheduled", func() bool { return ctrl.GetStats().RestartPending })

	if !first.closed.Load() {
		t.Error("Expected first capture to be released")
	}
	if !events.has(EventAutoStop) {
		t.Error("Expected auto-stop event")
	}

	mock.Add(DefaultRestartDelay - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if n := mic.opens.Load(); n != 1 {
		t.Fatalf("Expected restart to wait for the full delay, got %d opens", n)
	}

	mock.Add(time.Millisecond)
	receiveCapture(t, mic)
	waitFor(t, "second session to record", func() bool { return ctrl.State() == StateRecording })

	stats := ctrl.GetStats()
	if stats.Restarts != 1 || stats.AutoStops != 1 {
		t.Errorf("Expected 1 restart and 1 auto-stop, got %d and %d", stats.Restarts, stats.AutoStops)
	}
}

func TestDisablingConversationModeCancelsRestart(t *testing.T) {
	mock := clock.NewMock()
	mic := newFakeMic(0)
	sender := newGatedSender()
	ctrl, events := newTestController(t, conversationConfig(), mic, sender, mock)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	receiveCapture(t, mic).chunks <- pcmChunk(1600, 100)

	runUntilSent(t, mock, sender)
	waitFor(t, "restart to be scheduled", func() bool { return ctrl.GetStats().RestartPending })

	ctrl.SetConversationMode(false)
	if !events.has(EventRestartCancelled) {
		t.Error("Expected restart cancelled event")
	}

	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := mic.opens.Load(); n != 1 {
		t.Errorf("Expected no restart after disabling conversation mode, got %d opens", n)
	}
	if ctrl.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", ctrl.State())
	}
}

func TestExplicitStopEndsConversationLoop(t *testing.T) {
	mock := clock.NewMock()
	mic := newFakeMic(0.5)
	sender := newFakeSender()
	ctrl, _ := newTestController(t, conversationConfig(), mic, sender, mock)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	receiveCapture(t, mic).chunks <- pcmChunk(1600, 8000)

	// Loud input keeps the detector from firing.
	mock.Add(5 * time.Second)

	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	if ctrl.GetStats().RestartPending {
		t.Error("Expected no restart after explicit stop")
	}

	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := mic.opens.Load(); n != 1 {
		t.Errorf("Expected 1 open, got %d", n)
	}
}

func TestCloseDiscardsActiveRecording(t *testing.T) {
	mic := newFakeMic(0.5)
	sender := newFakeSender()
	ctrl, _ := newTestController(t, DefaultConfig(), mic, sender, clock.New())

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	c := receiveCapture(t, mic)
	c.chunks <- pcmChunk(160, 1000)

	if err := ctrl.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if !c.closed.Load() {
		t.Error("Expected capture to be released on close")
	}
	if len(sender.sent) != 0 {
		t.Error("Expected discarded recording not to be sent")
	}
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to be valid, got %v", err)
	}

	cfg.RestartDelay = -time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("Expected negative restart delay to be rejected")
	}

	cfg = DefaultConfig()
	cfg.VAD.Threshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected invalid detector config to be rejected")
	}

	if _, err := NewController(DefaultConfig(), Dependencies{Sender: newFakeSender()}); err == nil {
		t.Error("Expected missing microphone to be rejected")
	}
}
