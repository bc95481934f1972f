package session

import (
	"strings"

	"github.com/rbright/reelnote/internal/fsm"
)

// EventType names a client-originated voice event.
type EventType string

const (
	EventSpeechStart        EventType = "speech_start"
	EventSpeechEnd          EventType = "speech_end"
	EventMetrics            EventType = "metrics"
	EventError              EventType = "error"
	EventUpdateVideoContext EventType = "update_video_context"
)

// Event is one decoded client message routed to a session actor.
type Event struct {
	Type     EventType
	Data     map[string]any
	Sequence *uint64
	VideoID  string
}

// Seq is a convenience for building events with a sequence number.
func Seq(n uint64) *uint64 {
	return &n
}

// Validate rejects events missing required fields.
func (e Event) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return &MalformedEventError{Field: "type"}
	}
	if e.Type == EventUpdateVideoContext && strings.TrimSpace(e.VideoID) == "" {
		return &MalformedEventError{Type: e.Type, Field: "video_id"}
	}
	return nil
}

// Known reports whether the actor understands this event type.
func (t EventType) Known() bool {
	_, ok := t.fsmEvent()
	return ok
}

func (t EventType) fsmEvent() (fsm.Event, bool) {
	switch t {
	case EventSpeechStart:
		return fsm.EventSpeechStart, true
	case EventSpeechEnd:
		return fsm.EventSpeechEnd, true
	case EventMetrics:
		return fsm.EventMetrics, true
	case EventError:
		return fsm.EventError, true
	case EventUpdateVideoContext:
		return fsm.EventUpdateContext, true
	default:
		return "", false
	}
}
