package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/skypro1111/voice-relay/internal/vad"
)

var (
	// ErrPermissionDenied is returned when the input device refuses access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnavailable is returned when no usable input device exists.
	ErrUnavailable = errors.New("microphone unavailable")
)

// Microphone opens capture streams.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture is a live input stream. Chunks is closed after Close returns.
type Capture interface {
	// MimeType describes the chunk format, e.g. "audio/pcm; channels=1; rate=16000".
	MimeType() string
	Chunks() <-chan []byte
	Analyser() vad.Analyser
	Close() error
}

// Config contains capture stream parameters
type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	ChunkBuffer     int // chunks queued before the callback starts dropping
	AnalyserSize    int // samples kept for the analyser
}

// DefaultConfig returns mono 16 kHz capture settings.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		Channels:        1,
		FramesPerBuffer: 1024,
		ChunkBuffer:     64,
		AnalyserSize:    vad.DefaultFrameSize,
	}
}

// Validate checks the capture parameters
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames per buffer must be positive, got %d", c.FramesPerBuffer)
	}
	if c.ChunkBuffer <= 0 {
		return fmt.Errorf("chunk buffer must be positive, got %d", c.ChunkBuffer)
	}
	if c.AnalyserSize <= 0 {
		return fmt.Errorf("analyser size must be positive, got %d", c.AnalyserSize)
	}
	return nil
}
