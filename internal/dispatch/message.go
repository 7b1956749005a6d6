package dispatch

import (
	"mime"
	"strings"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-relay/internal/audio"
)

// MessageKind is the kind of an outbound message
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindFile  MessageKind = "file"
	KindVoice MessageKind = "voice"
)

// ReplyKind is the kind of a normalized reply and of the multipart type field
type ReplyKind string

const (
	ReplyText  ReplyKind = "text"
	ReplyImage ReplyKind = "image"
	ReplyAudio ReplyKind = "audio"
	ReplyVideo ReplyKind = "video"
	ReplyFile  ReplyKind = "file"
)

const (
	voiceFileName = "recording.wav"
	voiceMessage  = "Voice message"
	fileMessage   = "File attachment"
)

// Attachment is a binary payload sent as the multipart file field
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// OutboundMessage is one logical user message. ClientID must stay the same
// for every attempt of the same message.
type OutboundMessage struct {
	ClientID   string
	Kind       MessageKind
	Text       string
	Attachment *Attachment
}

// InboundResponse is a normalized webhook reply. For binary media Content is
// a blob reference.
type InboundResponse struct {
	Kind          ReplyKind `json:"kind"`
	Content       string    `json:"content"`
	MimeType      string    `json:"mime_type,omitempty"`
	CorrelationID string    `json:"correlation_id"`
}

// NewClientID mints a fresh client message id
func NewClientID() string {
	return uuid.NewString()
}

// NewTextMessage creates a text message with a fresh client id
func NewTextMessage(text string) *OutboundMessage {
	return &OutboundMessage{
		ClientID: NewClientID(),
		Kind:     KindText,
		Text:     text,
	}
}

// NewFileMessage creates a file message with a fresh client id
func NewFileMessage(name, mimeType string, data []byte) *OutboundMessage {
	return &OutboundMessage{
		ClientID: NewClientID(),
		Kind:     KindFile,
		Attachment: &Attachment{
			Name:     name,
			MimeType: mimeType,
			Data:     data,
		},
	}
}

// NewVoiceMessage creates a voice message from an encoded recording
func NewVoiceMessage(recording *audio.EncodedAudio) *OutboundMessage {
	return &OutboundMessage{
		ClientID: NewClientID(),
		Kind:     KindVoice,
		Attachment: &Attachment{
			Name:     voiceFileName,
			MimeType: recording.MimeType(),
			Data:     recording.Data,
		},
	}
}

// TypeField returns the multipart type discriminator for the message
func (m *OutboundMessage) TypeField() ReplyKind {
	switch m.Kind {
	case KindVoice:
		return ReplyAudio
	case KindFile:
		if m.Attachment == nil {
			return ReplyFile
		}
		return mediaKind(m.Attachment.MimeType)
	default:
		return ReplyText
	}
}

// MessageField returns the multipart message field for the message
func (m *OutboundMessage) MessageField() string {
	switch m.Kind {
	case KindVoice:
		return voiceMessage
	case KindFile:
		return fileMessage
	default:
		return m.Text
	}
}

// mediaKind maps a MIME type to its top-level media kind; anything that is
// not image, audio or video is a file.
func mediaKind(mimeType string) ReplyKind {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}

	top, _, _ := strings.Cut(mediaType, "/")
	switch ReplyKind(top) {
	case ReplyImage, ReplyAudio, ReplyVideo:
		return ReplyKind(top)
	default:
		return ReplyFile
	}
}

// knownReplyKind reports whether a server-provided type names a reply kind.
// Markdown replies are rendered as text.
func knownReplyKind(t string) (ReplyKind, bool) {
	switch k := ReplyKind(strings.ToLower(t)); k {
	case ReplyText, ReplyImage, ReplyAudio, ReplyVideo, ReplyFile:
		return k, true
	case "markdown":
		return ReplyText, true
	default:
		return "", false
	}
}
