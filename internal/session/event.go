package session

import "time"

// EventType identifies a controller event
type EventType int

const (
	EventStateChanged EventType = iota
	EventAutoStop
	EventSendFailed
	EventRestartScheduled
	EventRestartCancelled
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventAutoStop:
		return "auto_stop"
	case EventSendFailed:
		return "send_failed"
	case EventRestartScheduled:
		return "restart_scheduled"
	case EventRestartCancelled:
		return "restart_cancelled"
	default:
		return "unknown"
	}
}

// Event reports a controller transition to the chat surface.
type Event struct {
	Type      EventType
	State     State
	SessionID string
	Err       error
	Time      time.Time
}
