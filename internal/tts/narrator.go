package tts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/skypro1111/voice-relay/internal/metrics"
)

const (
	engineElevenLabs = "elevenlabs"
	engineLocal      = "local"
)

// Narrator speaks replies aloud
type Narrator struct {
	synth    *ElevenLabs
	player   Player
	fallback Speaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewNarrator creates a narrator. fallback may be nil, in which case
// narration without credentials is skipped.
func NewNarrator(synth *ElevenLabs, player Player, fallback Speaker, logger *slog.Logger, m *metrics.Metrics) *Narrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{
		synth:    synth,
		player:   player,
		fallback: fallback,
		logger:   logger,
		metrics:  m,
	}
}

// Narrate synthesizes and plays text. Missing credentials are not an error:
// the local speaker is used instead.
func (n *Narrator) Narrate(ctx context.Context, voice Voice, text string) error {
	speech, err := n.synth.Synthesize(ctx, voice, text)
	if errors.Is(err, ErrConfiguration) {
		return n.speakLocally(ctx, text)
	}
	if err != nil {
		n.metrics.RecordNarration(engineElevenLabs, "error")
		return err
	}

	if err := n.Play(ctx, speech.MimeType, speech.Data); err != nil {
		n.metrics.RecordNarration(engineElevenLabs, "error")
		return err
	}

	n.metrics.RecordNarration(engineElevenLabs, "ok")
	return nil
}

// Play plays audio through the configured player
func (n *Narrator) Play(ctx context.Context, mimeType string, data []byte) error {
	if n.player == nil {
		return errNoCommand
	}
	return n.player.Play(ctx, mimeType, data)
}

func (n *Narrator) speakLocally(ctx context.Context, text string) error {
	if n.fallback == nil {
		n.logger.Debug("Narration skipped, no speech credentials or local speaker")
		n.metrics.RecordNarration(engineLocal, "skipped")
		return nil
	}

	if err := n.fallback.Speak(ctx, text); err != nil {
		n.metrics.RecordNarration(engineLocal, "error")
		return err
	}
	n.metrics.RecordNarration(engineLocal, "ok")
	return nil
}
