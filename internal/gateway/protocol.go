package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/reelnote/internal/session"
)

// Inbound frame types.
const (
	TypeStartSession       = "start_session"
	TypeSpeechStart        = "speech_start"
	TypeSpeechEnd          = "speech_end"
	TypeMetrics            = "metrics"
	TypeError              = "error"
	TypeUpdateVideoContext = "update_video_context"
	TypeReconcile          = "reconcile"
	TypeGetState           = "get_state"
	TypeStopSession        = "stop_session"
)

// Outbound event names.
const (
	EventSessionStarted = "session_started"
	EventStatusChanged  = "status_changed"
	EventSpeechIgnored  = "speech_ignored"
	EventReconciled     = "reconciled"
	EventResetSession   = "reset_session"
	EventState          = "state"
	EventSessionStopped = "session_stopped"
	EventError          = "error"
)

// Error codes carried by outbound error events.
const (
	CodeBadFrame      = "bad_frame"
	CodeMalformed     = "malformed_event"
	CodeNotFound      = "session_not_found"
	CodeQueueFull     = "queue_full"
	CodeAlreadyExists = "session_already_started"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

// Inbound is one decoded client frame.
type Inbound struct {
	Type    string         `json:"type"`
	Seq     *uint64        `json:"seq,omitempty"`
	VideoID string         `json:"video_id,omitempty"`
	LastSeq *uint64        `json:"last_seq,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Outbound is one server frame.
type Outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload accompanies EventError frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// ResetPayload tells the client to discard local state and start over.
type ResetPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Gap       int64  `json:"gap,omitempty"`
}

// StatusPayload accompanies status_changed and speech_ignored frames.
type StatusPayload struct {
	SessionID string            `json:"session_id"`
	Status    string            `json:"status"`
	Telemetry session.Telemetry `json:"telemetry"`
	Data      map[string]any    `json:"data,omitempty"`
}

func decodeInbound(raw []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return Inbound{}, errors.New("decode frame: missing type")
	}
	return msg, nil
}

// sessionEvent maps voice frames onto actor events; ok is false for
// control frames handled by the gateway itself.
func (m Inbound) sessionEvent() (session.Event, bool) {
	var eventType session.EventType
	switch m.Type {
	case TypeSpeechStart:
		eventType = session.EventSpeechStart
	case TypeSpeechEnd:
		eventType = session.EventSpeechEnd
	case TypeMetrics:
		eventType = session.EventMetrics
	case TypeError:
		eventType = session.EventError
	case TypeUpdateVideoContext:
		eventType = session.EventUpdateVideoContext
	default:
		return session.Event{}, false
	}
	return session.Event{
		Type:     eventType,
		Data:     m.Data,
		Sequence: m.Seq,
		VideoID:  strings.TrimSpace(m.VideoID),
	}, true
}

func notificationFrame(n session.Notification) Outbound {
	payload := StatusPayload{
		SessionID: n.SessionID,
		Status:    string(n.Status),
		Telemetry: n.Telemetry,
	}
	switch n.Kind {
	case session.NotifySpeechIgnored:
		payload.Data = n.Data
		return Outbound{Event: EventSpeechIgnored, Payload: payload}
	default:
		return Outbound{Event: EventStatusChanged, Payload: payload}
	}
}

func errorFrame(code string, frameType string, err error) Outbound {
	return Outbound{Event: EventError, Payload: ErrorPayload{Code: code, Message: err.Error(), Type: frameType}}
}

// errorCode maps session errors onto wire codes.
func errorCode(err error) string {
	switch {
	case session.IsMalformed(err):
		return CodeMalformed
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, session.ErrQueueFull):
		return CodeQueueFull
	case errors.Is(err, session.ErrAlreadyStarted):
		return CodeAlreadyExists
	case errors.Is(err, session.ErrSupervisorClosed):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
