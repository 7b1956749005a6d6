package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/skypro1111/voice-relay/internal/blob"
	"github.com/skypro1111/voice-relay/internal/session"
	"github.com/skypro1111/voice-relay/internal/store"
)

// console prints the chat transcript. Writes are serialized because messages
// arrive from dispatch, narration and session goroutines.
type console struct {
	w  io.Writer
	mu sync.Mutex
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) printMessage(m store.Message) {
	c.printf("%s\n", formatMessage(m))
}

func (c *console) printEvent(ev session.Event) {
	switch ev.Type {
	case session.EventStateChanged:
		c.printf("[mic] %s\n", ev.State)
	case session.EventAutoStop:
		c.printf("[mic] silence detected, sending\n")
	case session.EventRestartScheduled:
		c.printf("[mic] listening again shortly\n")
	case session.EventSendFailed:
		if ev.Err != nil {
			c.printf("[mic] recording not delivered: %v\n", ev.Err)
		}
	}
}

func (c *console) printHelp() {
	c.printf(`Commands:
  <text>                 send a text message
  /file <path>           send a file
  /rec                   start or stop recording
  /stop                  stop recording
  /conv on|off           conversation mode
  /voice on|off          narrate text replies
  /autoplay on|off       play audio replies
  /tts <key> <voice> [endpoint]
  /history               print the chat history
  /quit                  exit
`)
}

func formatMessage(m store.Message) string {
	who := "you"
	if m.Sender == store.SenderBot {
		who = "bot"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", m.Timestamp.Format("15:04:05"), who)
	if m.Status != "" && m.Status != store.StatusReceived {
		fmt.Fprintf(&b, " (%s)", m.Status)
	}
	b.WriteString(": ")

	switch {
	case blob.IsRef(m.Content):
		fmt.Fprintf(&b, "<%s %s %s>", m.Type, m.MimeType, blob.ID(m.Content))
	default:
		b.WriteString(m.Content)
	}
	return b.String()
}
