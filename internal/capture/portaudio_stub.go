//go:build !portaudio

package capture

import (
	"context"
	"fmt"
	"log/slog"
)

// PortAudio is unavailable in builds without the "portaudio" tag.
type PortAudio struct {
	config Config
	logger *slog.Logger
}

// NewPortAudio creates a microphone that always reports ErrUnavailable.
func NewPortAudio(config Config, logger *slog.Logger) *PortAudio {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudio{config: config, logger: logger}
}

// Open always fails; rebuild with -tags portaudio for microphone input.
func (p *PortAudio) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: built without portaudio support", ErrUnavailable)
}
