package vad

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

const frameStep = 16 * time.Millisecond

func silentFrame() []float32 {
	return make([]float32, 256)
}

func loudFrame() []float32 {
	frame := make([]float32, 256)
	for i := range frame {
		frame[i] = float32(0.3 * math.Sin(float64(i)/4))
	}
	return frame
}

type counter struct {
	n  atomic.Int32
	ch chan struct{}
}

func newCounter() *counter {
	return &counter{ch: make(chan struct{}, 16)}
}

func (c *counter) fn() {
	c.n.Add(1)
	c.ch <- struct{}{}
}

func (c *counter) waitFire(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected auto-stop to fire")
	}
}

func (c *counter) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
		t.Fatal("Auto-stop fired unexpectedly")
	case <-time.After(30 * time.Millisecond):
	}
}

func newTestDetector(t *testing.T) (*Detector, *clock.Mock, *counter) {
	t.Helper()
	mock := clock.NewMock()
	c := newCounter()
	d, err := NewDetector(DefaultConfig(), mock, c.fn)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return d, mock, c
}

// feed observes one frame per step for the given span of mock time.
func feed(d *Detector, mock *clock.Mock, frame []float32, span time.Duration) {
	for elapsed := time.Duration(0); elapsed < span; elapsed += frameStep {
		d.Observe(frame)
		mock.Add(frameStep)
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("Expected RMS of empty frame to be 0")
	}

	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected RMS 0.5, got %f", got)
	}

	if got := RMS([]float32{0.01, -0.01}); got >= DefaultThreshold {
		t.Errorf("Expected quiet frame below threshold, got %f", got)
	}
}

func TestSustainedSilenceFiresExactlyOnce(t *testing.T) {
	d, mock, c := newTestDetector(t)

	feed(d, mock, silentFrame(), 2400*time.Millisecond)
	c.expectQuiet(t)

	feed(d, mock, silentFrame(), 200*time.Millisecond)
	c.waitFire(t)

	// Silence keeps going but the detector is one-shot.
	feed(d, mock, silentFrame(), 6*time.Second)
	c.expectQuiet(t)

	if n := c.n.Load(); n != 1 {
		t.Errorf("Expected exactly 1 auto-stop, got %d", n)
	}

	stats := d.GetStats()
	if stats.AutoStops != 1 {
		t.Errorf("Expected stats to report 1 auto-stop, got %d", stats.AutoStops)
	}
	if stats.SilentFrames != stats.TotalFrames {
		t.Errorf("Expected all frames silent, got %d of %d", stats.SilentFrames, stats.TotalFrames)
	}
}

func TestLoudFrameCancelsAndRestartsTimer(t *testing.T) {
	d, mock, c := newTestDetector(t)

	d.Observe(silentFrame())
	mock.Add(2400 * time.Millisecond)
	c.expectQuiet(t)

	// A single loud frame at 2.4s cancels the pending timer.
	if d.Observe(loudFrame()) {
		t.Fatal("Expected loud frame to be reported as not silent")
	}
	if d.GetStats().TimerArmed {
		t.Fatal("Expected timer to be cancelled by loud frame")
	}

	mock.Add(200 * time.Millisecond)
	c.expectQuiet(t)

	// The next silent frame starts the countdown from zero.
	d.Observe(silentFrame())
	mock.Add(2499 * time.Millisecond)
	c.expectQuiet(t)

	mock.Add(time.Millisecond)
	c.waitFire(t)

	if n := c.n.Load(); n != 1 {
		t.Errorf("Expected exactly 1 auto-stop, got %d", n)
	}
}

func TestSilentFramesDoNotRestartRunningTimer(t *testing.T) {
	d, mock, c := newTestDetector(t)

	d.Observe(silentFrame())
	mock.Add(1 * time.Second)
	d.Observe(silentFrame())
	mock.Add(1 * time.Second)
	d.Observe(silentFrame())
	mock.Add(500 * time.Millisecond)

	c.waitFire(t)
}

func TestHaltCancelsPendingTimer(t *testing.T) {
	d, mock, c := newTestDetector(t)

	d.Observe(silentFrame())
	d.Halt()
	mock.Add(5 * time.Second)
	c.expectQuiet(t)

	d.Observe(silentFrame())
	mock.Add(5 * time.Second)
	c.expectQuiet(t)
}

type constantAnalyser struct {
	value float32
	calls atomic.Int32
}

func (a *constantAnalyser) TimeDomain(dst []float32) int {
	a.calls.Add(1)
	for i := range dst {
		dst[i] = a.value
	}
	return len(dst)
}

func TestHandleSamplesUntilStopped(t *testing.T) {
	d, mock, c := newTestDetector(t)
	src := &constantAnalyser{}

	h := d.Start(context.Background(), src)

	deadline := time.Now().Add(2 * time.Second)
	for c.n.Load() == 0 && time.Now().Before(deadline) {
		mock.Add(50 * time.Millisecond)
	}
	c.waitFire(t)

	h.Stop()
	select {
	case <-h.Done():
	default:
		t.Fatal("Expected sampling loop to have exited")
	}

	calls := src.calls.Load()
	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	if src.calls.Load() != calls {
		t.Error("Analyser sampled after handle was stopped")
	}

	// Stopping twice is harmless.
	h.Stop()
}

func TestHandleStopsOnContextCancel(t *testing.T) {
	d, _, _ := newTestDetector(t)

	ctx, cancel := context.WithCancel(context.Background())
	h := d.Start(ctx, &constantAnalyser{value: 0.5})
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected loop to exit on context cancel")
	}
	h.Stop()
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero threshold", mutate: func(c *Config) { c.Threshold = 0 }, expectErr: true},
		{name: "threshold of one", mutate: func(c *Config) { c.Threshold = 1 }, expectErr: true},
		{name: "zero silence duration", mutate: func(c *Config) { c.SilenceDuration = 0 }, expectErr: true},
		{name: "zero frame interval", mutate: func(c *Config) { c.FrameInterval = 0 }, expectErr: true},
		{name: "zero frame size", mutate: func(c *Config) { c.FrameSize = 0 }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewDetector(cfg, clock.NewMock(), nil)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}
