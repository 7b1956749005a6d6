package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-relay/internal/audio"
	"github.com/skypro1111/voice-relay/internal/blob"
	"github.com/skypro1111/voice-relay/internal/dispatch"
	"github.com/skypro1111/voice-relay/internal/metrics"
	"github.com/skypro1111/voice-relay/internal/store"
	"github.com/skypro1111/voice-relay/internal/tts"
)

const (
	greeting     = "Hello! I am your AI Assistant. How can I help you today?"
	genericError = "Sorry, I encountered an error connecting to the server."
	greetingID   = "greeting"
)

// ErrBusy is returned when a send is attempted while another is in flight.
var ErrBusy = errors.New("a message is already being sent")

// Sender uploads an outbound message and returns the normalized reply.
type Sender interface {
	Send(ctx context.Context, msg *dispatch.OutboundMessage) (*dispatch.InboundResponse, error)
}

// Narrator speaks text and plays audio replies.
type Narrator interface {
	Narrate(ctx context.Context, voice tts.Voice, text string) error
	Play(ctx context.Context, mimeType string, data []byte) error
}

// Dependencies groups the collaborators of a Service. Sender and Store are
// required.
type Dependencies struct {
	Sender    Sender
	Store     store.Store
	Narrator  Narrator
	Blobs     *blob.Store
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	OnMessage func(store.Message)
}

// Service holds the chat history and sends user messages
type Service struct {
	sender    Sender
	store     store.Store
	narrator  Narrator
	blobs     *blob.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onMessage func(store.Message)
	now       func() time.Time

	// Background narration
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	history  []store.Message
	settings store.Settings
	busy     bool
	closed   bool

	mu sync.Mutex
}

// NewService creates a chat service
func NewService(deps Dependencies) (*Service, error) {
	if deps.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewStore(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		sender:    deps.Sender,
		store:     deps.Store,
		narrator:  deps.Narrator,
		blobs:     deps.Blobs,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		onMessage: deps.OnMessage,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		settings:  store.DefaultSettings(),
	}, nil
}

// Load restores history and settings. An empty history is seeded with a
// greeting from the bot.
func (s *Service) Load(ctx context.Context) error {
	history, err := s.store.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	settings, err := s.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if len(history) == 0 {
		history = []store.Message{{
			ID:        greetingID,
			Sender:    store.SenderBot,
			Type:      string(dispatch.ReplyText),
			Content:   greeting,
			Timestamp: s.now(),
		}}
	}

	s.mu.Lock()
	s.history = history
	s.settings = settings
	s.metrics.SetHistoryMessages(len(history))
	s.mu.Unlock()

	s.logger.Info("Chat state loaded",
		"messages", len(history),
		"conversation_mode", settings.ConversationMode,
		"voice_output", settings.VoiceOutput)
	return nil
}

// Save persists history and settings
func (s *Service) Save(ctx context.Context) error {
	s.mu.Lock()
	history := append([]store.Message(nil), s.history...)
	settings := s.settings
	s.mu.Unlock()

	if err := s.store.SaveHistory(ctx, history); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// History returns a copy of the chat history
func (s *Service) History() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.history...)
}

// Settings returns the current settings
func (s *Service) Settings() store.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies fn to the settings and persists the result.
func (s *Service) UpdateSettings(ctx context.Context, fn func(*store.Settings)) (store.Settings, error) {
	s.mu.Lock()
	fn(&s.settings)
	settings := s.settings
	s.mu.Unlock()

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return settings, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

// Busy reports whether a send is in flight
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// SendText sends a text message and returns the bot reply entry.
func (s *Service) SendText(ctx context.Context, text string) (*store.Message, error) {
	msg := dispatch.NewTextMessage(text)
	return s.send(ctx, msg, text, "")
}

// SendFile sends a file attachment and returns the bot reply entry.
func (s *Service) SendFile(ctx context.Context, name, mimeType string, data []byte) (*store.Message, error) {
	msg := dispatch.NewFileMessage(name, mimeType, data)
	ref := s.blobs.Put(mimeType, data)
	return s.send(ctx, msg, ref, mimeType)
}

// SendVoice sends an encoded recording. It lets the Service act as the
// voice sender of a recording session controller.
func (s *Service) SendVoice(ctx context.Context, recording *audio.EncodedAudio) error {
	msg := dispatch.NewVoiceMessage(recording)
	ref := s.blobs.Put(recording.MimeType(), recording.Data)
	_, err := s.send(ctx, msg, ref, recording.MimeType())
	return err
}

// ReportError appends a bot error entry for a failure that happened before
// anything was sent, such as a recording that could not be encoded.
func (s *Service) ReportError(ctx context.Context, err error) {
	entry := store.Message{
		ID:        dispatch.NewClientID(),
		Sender:    store.SenderBot,
		Type:      string(dispatch.ReplyText),
		Content:   errorContent(err),
		Status:    store.StatusError,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	s.history = append(s.history, entry)
	s.mu.Unlock()

	s.persist(ctx)
	s.notify(entry)
}

func (s *Service) send(ctx context.Context, msg *dispatch.OutboundMessage, content, mimeType string) (*store.Message, error) {
	userEntry := store.Message{
		ID:        msg.ClientID,
		Sender:    store.SenderUser,
		Type:      string(msg.TypeField()),
		Content:   content,
		MimeType:  mimeType,
		Status:    store.StatusSending,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	s.history = append(s.history, userEntry)
	s.mu.Unlock()

	s.persist(ctx)
	s.notify(userEntry)

	resp, err := s.sender.Send(ctx, msg)

	s.mu.Lock()
	s.busy = false

	if err != nil {
		failed := s.setStatusLocked(msg.ClientID, store.StatusFailed)
		errEntry := store.Message{
			ID:        msg.ClientID + "-error",
			Sender:    store.SenderBot,
			Type:      string(dispatch.ReplyText),
			Content:   errorContent(err),
			Status:    store.StatusError,
			ReplyTo:   msg.ClientID,
			Timestamp: s.now(),
		}
		s.history = append(s.history, errEntry)
		s.mu.Unlock()

		s.logger.Error("Message failed", "client_message_id", msg.ClientID, "error", err)
		s.persist(ctx)
		s.notify(failed, errEntry)
		return nil, err
	}

	if existing, ok := s.replyLocked(msg.ClientID); ok {
		s.mu.Unlock()
		s.logger.Warn("Duplicate reply ignored", "client_message_id", msg.ClientID)
		return &existing, nil
	}

	sent := s.setStatusLocked(msg.ClientID, store.StatusSent)
	reply := store.Message{
		ID:        msg.ClientID + "-reply",
		Sender:    store.SenderBot,
		Type:      string(resp.Kind),
		Content:   resp.Content,
		MimeType:  resp.MimeType,
		Status:    store.StatusReceived,
		ReplyTo:   msg.ClientID,
		Timestamp: s.now(),
	}
	s.history = append(s.history, reply)
	settings := s.settings
	s.mu.Unlock()

	s.persist(ctx)
	s.notify(sent, reply)
	s.react(settings, reply)

	return &reply, nil
}

// react narrates text replies and autoplays audio replies in the background.
func (s *Service) react(settings store.Settings, reply store.Message) {
	if s.narrator == nil {
		return
	}

	switch {
	case settings.VoiceOutput && reply.Type == string(dispatch.ReplyText):
		voice := tts.Voice{
			APIKey:   settings.APIKey,
			VoiceID:  settings.VoiceID,
			Endpoint: settings.TTSEndpoint,
		}
		s.background(func(ctx context.Context) error {
			return s.narrator.Narrate(ctx, voice, reply.Content)
		})

	case settings.AutoPlay && reply.Type == string(dispatch.ReplyAudio) && blob.IsRef(reply.Content):
		b, ok := s.blobs.Get(reply.Content)
		if !ok {
			return
		}
		s.background(func(ctx context.Context) error {
			return s.narrator.Play(ctx, b.MimeType, b.Data)
		})
	}
}

// background runs fn until it returns or the service closes. Work started
// after Close is dropped.
func (s *Service) background(fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Playback failed", "error", err)
		}
	}()
}

func (s *Service) setStatusLocked(id, status string) store.Message {
	for i := range s.history {
		if s.history[i].ID == id {
			s.history[i].Status = status
			return s.history[i]
		}
	}
	return store.Message{}
}

func (s *Service) replyLocked(clientID string) (store.Message, bool) {
	for _, m := range s.history {
		if m.Sender == store.SenderBot && m.ReplyTo == clientID && m.Status == store.StatusReceived {
			return m, true
		}
	}
	return store.Message{}, false
}

func (s *Service) persist(ctx context.Context) {
	s.mu.Lock()
	history := append([]store.Message(nil), s.history...)
	s.mu.Unlock()

	s.metrics.SetHistoryMessages(len(history))
	if err := s.store.SaveHistory(ctx, history); err != nil {
		s.logger.Error("Failed to save history", "error", err)
	}
}

func (s *Service) notify(messages ...store.Message) {
	if s.onMessage == nil {
		return
	}
	for _, m := range messages {
		if m.ID != "" {
			s.onMessage(m)
		}
	}
}

// errorContent renders a failure for the history. Dispatch failures show
// their cause.
func errorContent(err error) string {
	var de *dispatch.DispatchError
	if errors.As(err, &de) && de.Cause != nil {
		err = de.Cause
	}
	if err == nil || err.Error() == "" {
		return genericError
	}
	return "Error: " + err.Error()
}

// Close waits for background playback and saves state.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.Save(ctx)
}
