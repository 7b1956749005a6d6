package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skypro1111/voice-relay/internal/chat"
	"github.com/skypro1111/voice-relay/internal/dispatch"
	"github.com/skypro1111/voice-relay/internal/store"
)

const maxFileBytes = 25 << 20

// chatService is the part of chat.Service driven by the command loop
type chatService interface {
	History() []store.Message
	UpdateSettings(ctx context.Context, fn func(*store.Settings)) (store.Settings, error)
	SendText(ctx context.Context, text string) (*store.Message, error)
	SendFile(ctx context.Context, name, mimeType string, data []byte) (*store.Message, error)
}

// recorder is the part of session.Controller driven by the command loop
type recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetConversationMode(enabled bool)
}

type repl struct {
	chat     chatService
	recorder recorder
	out      *console
	logger   *slog.Logger

	wg sync.WaitGroup
}

// run reads commands until the input ends, ctx is cancelled or /quit is
// entered.
func (r *repl) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if quit := r.handle(ctx, strings.TrimSpace(scanner.Text())); quit {
			return
		}
	}
}

// wait blocks until in-flight sends return
func (r *repl) wait() {
	r.wg.Wait()
}

func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.async(func() error {
			_, err := r.chat.SendText(ctx, line)
			return err
		})
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.out.printHelp()
	case "/history":
		for _, m := range r.chat.History() {
			r.out.printMessage(m)
		}
	case "/rec":
		// Toggling off waits for the upload.
		r.async(func() error { return r.recorder.Start(ctx) })
	case "/stop":
		r.async(func() error { return r.recorder.Stop(ctx) })
	case "/file":
		r.sendFile(ctx, arg)
	case "/conv":
		r.toggle(ctx, arg, func(s *store.Settings, on bool) {
			s.ConversationMode = on
			r.recorder.SetConversationMode(on)
		})
	case "/voice":
		r.toggle(ctx, arg, func(s *store.Settings, on bool) { s.VoiceOutput = on })
	case "/autoplay":
		r.toggle(ctx, arg, func(s *store.Settings, on bool) { s.AutoPlay = on })
	case "/tts":
		r.setVoice(ctx, strings.Fields(arg))
	default:
		r.out.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func (r *repl) async(fn func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := fn(); err != nil {
			r.report(err)
		}
	}()
}

// report prints failures that are not already part of the chat history
func (r *repl) report(err error) {
	switch {
	case errors.Is(err, dispatch.ErrDispatch), errors.Is(err, context.Canceled):
		r.logger.Debug("Send finished with error", "error", err)
	case errors.Is(err, chat.ErrBusy):
		r.out.printf("still waiting for the previous reply\n")
	default:
		r.out.printf("error: %v\n", err)
	}
}

func (r *repl) sendFile(ctx context.Context, path string) {
	if path == "" {
		r.out.printf("usage: /file <path>\n")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		r.out.printf("error: %v\n", err)
		return
	}
	if info.Size() > maxFileBytes {
		r.out.printf("error: %s is larger than %d bytes\n", path, maxFileBytes)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.out.printf("error: %v\n", err)
		return
	}

	name := filepath.Base(path)
	mimeType := detectMimeType(name, data)
	r.async(func() error {
		_, err := r.chat.SendFile(ctx, name, mimeType, data)
		return err
	})
}

func (r *repl) toggle(ctx context.Context, arg string, apply func(*store.Settings, bool)) {
	on, ok := parseSwitch(arg)
	if !ok {
		r.out.printf("expected on or off\n")
		return
	}
	if _, err := r.chat.UpdateSettings(ctx, func(s *store.Settings) { apply(s, on) }); err != nil {
		r.out.printf("error: %v\n", err)
	}
}

func (r *repl) setVoice(ctx context.Context, fields []string) {
	if len(fields) < 2 || len(fields) > 3 {
		r.out.printf("usage: /tts <api-key> <voice-id> [endpoint]\n")
		return
	}
	_, err := r.chat.UpdateSettings(ctx, func(s *store.Settings) {
		s.APIKey = fields[0]
		s.VoiceID = fields[1]
		if len(fields) == 3 {
			s.TTSEndpoint = fields[2]
		}
	})
	if err != nil {
		r.out.printf("error: %v\n", err)
	}
}

func parseSwitch(arg string) (bool, bool) {
	switch strings.ToLower(arg) {
	case "on", "true", "1", "yes":
		return true, true
	case "off", "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// detectMimeType prefers the extension and falls back to content sniffing.
func detectMimeType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
		return t
	}
	t := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}
