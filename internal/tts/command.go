package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Player plays encoded audio
type Player interface {
	Play(ctx context.Context, mimeType string, data []byte) error
}

// Speaker speaks text with a local synthesizer
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

var errNoCommand = errors.New("no command configured")

// CommandPlayer pipes audio into an external player, e.g.
// ["ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"].
type CommandPlayer struct {
	Command []string
}

// Play runs the player with the audio on stdin and waits for it to exit.
func (p CommandPlayer) Play(ctx context.Context, mimeType string, data []byte) error {
	if len(p.Command) == 0 {
		return errNoCommand
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	return run(cmd, "player")
}

// CommandSpeaker runs a speech synthesizer with the text as its last
// argument, e.g. ["espeak"] or ["say"]. The text follows a "--" so a reply
// that starts with a dash is never parsed as an option.
type CommandSpeaker struct {
	Command []string
}

// Speak runs the synthesizer and waits for it to exit.
func (s CommandSpeaker) Speak(ctx context.Context, text string) error {
	if len(s.Command) == 0 {
		return errNoCommand
	}

	args := append(append([]string(nil), s.Command[1:]...), "--", text)
	cmd := exec.CommandContext(ctx, s.Command[0], args...)
	return run(cmd, "speaker")
}

func run(cmd *exec.Cmd, role string) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", role, cmd.Path, err, msg)
		}
		return fmt.Errorf("%s %s: %w", role, cmd.Path, err)
	}
	return nil
}
