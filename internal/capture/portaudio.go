//go:build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/voice-relay/internal/audio"
	"github.com/skypro1111/voice-relay/internal/vad"
)

// PortAudio opens the default input device through PortAudio.
type PortAudio struct {
	config Config
	logger *slog.Logger
}

// NewPortAudio creates a PortAudio microphone
func NewPortAudio(config Config, logger *slog.Logger) *PortAudio {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudio{config: config, logger: logger}
}

// Open initializes PortAudio and starts a stream on the default input device.
func (p *PortAudio) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", ErrUnavailable, err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: no default input device: %v", ErrUnavailable, err)
	}

	if device.DefaultSampleRate != float64(p.config.SampleRate) {
		p.logger.Debug("Input device rate differs from capture rate",
			"device", device.Name,
			"device_rate", device.DefaultSampleRate,
			"capture_rate", p.config.SampleRate)
	}

	c := &paCapture{
		chunks:   make(chan []byte, p.config.ChunkBuffer),
		ring:     NewRing(p.config.AnalyserSize),
		mimeType: audio.PCMContentType(p.config.SampleRate, p.config.Channels),
		logger:   p.logger,
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: p.config.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.config.SampleRate),
		FramesPerBuffer: p.config.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, c.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream on %s: %v", ErrPermissionDenied, device.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: start stream on %s: %v", ErrPermissionDenied, device.Name, err)
	}
	c.stream = stream

	p.logger.Info("Microphone opened",
		"device", device.Name,
		"sample_rate", p.config.SampleRate,
		"channels", p.config.Channels)

	return c, nil
}

type paCapture struct {
	stream   *portaudio.Stream
	chunks   chan []byte
	ring     *Ring
	mimeType string
	logger   *slog.Logger

	dropped atomic.Uint64
	closed  bool
	mu      sync.Mutex
	once    sync.Once
}

// process runs on the PortAudio callback thread and must not block.
func (c *paCapture) process(in []int16) {
	if len(in) == 0 {
		return
	}

	c.ring.WriteInt16(in)

	buf := make([]byte, len(in)*2)
	for i, s := range in {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.chunks <- buf:
	default:
		c.dropped.Add(1)
	}
}

func (c *paCapture) MimeType() string       { return c.mimeType }
func (c *paCapture) Chunks() <-chan []byte  { return c.chunks }
func (c *paCapture) Analyser() vad.Analyser { return c.ring }

// Close stops the stream, releases PortAudio and closes the chunk channel.
func (c *paCapture) Close() error {
	var err error
	c.once.Do(func() {
		if stopErr := c.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("stop stream: %w", stopErr)
		}
		if closeErr := c.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close stream: %w", closeErr)
		}
		portaudio.Terminate()

		c.mu.Lock()
		c.closed = true
		close(c.chunks)
		c.mu.Unlock()

		if dropped := c.dropped.Load(); dropped > 0 {
			c.logger.Warn("Capture dropped chunks", "dropped", dropped)
		}
	})
	return err
}
