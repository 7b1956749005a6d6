package vad

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultThreshold       = 0.02
	DefaultSilenceDuration = 2500 * time.Millisecond
	DefaultFrameInterval   = 16 * time.Millisecond // roughly one display refresh
	DefaultFrameSize       = 2048
)

// Config contains silence detection parameters
type Config struct {
	Threshold       float64
	SilenceDuration time.Duration
	FrameInterval   time.Duration
	FrameSize       int
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		SilenceDuration: DefaultSilenceDuration,
		FrameInterval:   DefaultFrameInterval,
		FrameSize:       DefaultFrameSize,
	}
}

// Validate checks the detector parameters
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", c.Threshold)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %s", c.SilenceDuration)
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive, got %s", c.FrameInterval)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	return nil
}

// Analyser exposes the most recent time-domain samples of a live stream.
type Analyser interface {
	// TimeDomain copies up to len(dst) samples in [-1, 1] into dst and
	// returns the number written.
	TimeDomain(dst []float32) int
}

// Detector tracks silence on a live stream and fires a single auto-stop
// once the stream has been silent for the configured duration.
type Detector struct {
	config     Config
	clock      clock.Clock
	onAutoStop func()

	// Silence state
	silent  bool
	timer   *clock.Timer
	timerID uint64
	fired   bool
	halted  bool
	lastRMS float64

	// Statistics
	totalFrames  uint64
	silentFrames uint64
	autoStops    uint64

	mu sync.Mutex
}

// Stats represents detector statistics
type Stats struct {
	TotalFrames  uint64  `json:"total_frames"`
	SilentFrames uint64  `json:"silent_frames"`
	AutoStops    uint64  `json:"auto_stops"`
	LastRMS      float64 `json:"last_rms"`
	Silent       bool    `json:"silent"`
	TimerArmed   bool    `json:"timer_armed"`
}

// NewDetector creates a detector that calls onAutoStop at most once.
func NewDetector(config Config, clk clock.Clock, onAutoStop func()) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if onAutoStop == nil {
		onAutoStop = func() {}
	}

	return &Detector{
		config:     config,
		clock:      clk,
		onAutoStop: onAutoStop,
	}, nil
}

// RMS returns the root-mean-square amplitude of a frame
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}

	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Observe evaluates one frame and reports whether it is silent.
// Entering silence arms the timer, a loud frame cancels it, and further
// silent frames leave a running timer untouched.
func (d *Detector) Observe(frame []float32) bool {
	if len(frame) == 0 {
		return d.Silent()
	}

	rms := RMS(frame)
	silent := rms < d.config.Threshold

	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalFrames++
	d.lastRMS = rms
	d.silent = silent
	if silent {
		d.silentFrames++
	}

	if d.halted || d.fired {
		return silent
	}

	if silent {
		if d.timer == nil {
			d.timerID++
			id := d.timerID
			d.timer = d.clock.AfterFunc(d.config.SilenceDuration, func() { d.fire(id) })
		}
	} else {
		d.cancelTimerLocked()
	}

	return silent
}

func (d *Detector) fire(id uint64) {
	d.mu.Lock()
	if d.halted || d.fired || d.timer == nil || id != d.timerID {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.fired = true
	d.autoStops++
	cb := d.onAutoStop
	d.mu.Unlock()

	cb()
}

func (d *Detector) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		// A timer that already fired but has not taken the lock yet sees a stale id.
		d.timerID++
	}
}

// Halt cancels any pending timer and ignores later frames.
func (d *Detector) Halt() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.halted = true
	d.cancelTimerLocked()
}

// Silent reports whether the most recent frame was silent
func (d *Detector) Silent() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silent
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		TotalFrames:  d.totalFrames,
		SilentFrames: d.silentFrames,
		AutoStops:    d.autoStops,
		LastRMS:      d.lastRMS,
		Silent:       d.silent,
		TimerArmed:   d.timer != nil,
	}
}

// Handle controls a running sampling loop started by Start.
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	detector *Detector
	once     sync.Once
}

// Start samples the analyser once per frame interval until the context is
// cancelled or the returned handle is stopped.
func (d *Detector) Start(ctx context.Context, src Analyser) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel:   cancel,
		done:     make(chan struct{}),
		detector: d,
	}

	ticker := d.clock.Ticker(d.config.FrameInterval)
	frame := make([]float32, d.config.FrameSize)

	go func() {
		defer close(h.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := src.TimeDomain(frame); n > 0 {
					d.Observe(frame[:n])
				}
			}
		}
	}()

	return h
}

// Stop ends sampling, waits for the loop to exit and cancels a pending
// auto-stop. It is safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
		h.detector.Halt()
	})
}

// Done is closed when the sampling loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
