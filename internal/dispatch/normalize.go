package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skypro1111/voice-relay/internal/blob"
)

// replyFields are tried in order for the reply text of a JSON body. The
// order is a heuristic carried over for compatibility with existing webhooks.
var replyFields = []string{"output", "text", "message", "reply", "response", "content"}

// Normalize turns a successful webhook response into an InboundResponse.
// Binary media bodies are stored in blobs and referenced by id.
func Normalize(contentType string, body []byte, blobs *blob.Store, clientID string) (*InboundResponse, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case strings.Contains(ct, "application/json"):
		resp, err := normalizeJSON(body)
		if err != nil {
			return nil, err
		}
		resp.CorrelationID = clientID
		return resp, nil

	case strings.HasPrefix(ct, "image/"), strings.HasPrefix(ct, "audio/"), strings.HasPrefix(ct, "video/"):
		if blobs == nil {
			return nil, fmt.Errorf("no blob store for %s reply", contentType)
		}
		top, _, _ := strings.Cut(ct, "/")
		return &InboundResponse{
			Kind:          ReplyKind(top),
			Content:       blobs.Put(contentType, body),
			MimeType:      contentType,
			CorrelationID: clientID,
		}, nil

	default:
		return &InboundResponse{
			Kind:          ReplyText,
			Content:       string(body),
			CorrelationID: clientID,
		}, nil
	}
}

func normalizeJSON(body []byte) (*InboundResponse, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("invalid JSON reply: %w", err)
	}

	resp := &InboundResponse{Kind: ReplyText}

	obj, ok := data.(map[string]any)
	if !ok {
		if s, isString := data.(string); isString {
			resp.Content = s
			return resp, nil
		}
		resp.Content = compact(body)
		return resp, nil
	}

	resp.Content = compact(body)
	for _, field := range replyFields {
		if v, present := obj[field]; present && truthy(v) {
			resp.Content = stringify(v)
			break
		}
	}

	if t, ok := obj["type"].(string); ok {
		if kind, known := knownReplyKind(t); known {
			resp.Kind = kind
		}
	}
	if m, ok := obj["mimeType"].(string); ok {
		resp.MimeType = m
	}

	return resp, nil
}

// truthy follows JavaScript truthiness for decoded JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

func compact(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return string(body)
	}
	return buf.String()
}
