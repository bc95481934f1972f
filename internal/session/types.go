// Package session runs one voice session actor per connection and supervises them.
package session

import (
	"time"

	"github.com/rbright/reelnote/internal/fsm"
)

// Config holds per-session tunables.
type Config struct {
	Cooldown              time.Duration
	ReconcileGapThreshold int64
	QueueSize             int
}

// DefaultConfig returns the tunables used when none are configured.
func DefaultConfig() Config {
	return Config{
		Cooldown:              1500 * time.Millisecond,
		ReconcileGapThreshold: 100,
		QueueSize:             64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.ReconcileGapThreshold <= 0 {
		c.ReconcileGapThreshold = def.ReconcileGapThreshold
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}

// Telemetry counts how speech events were classified.
type Telemetry struct {
	SpeechDetections uint64     `json:"speech_detections"`
	IgnoredCooldown  uint64     `json:"ignored_cooldown"`
	IgnoredNoContext uint64     `json:"ignored_no_context"`
	LastHeartbeatAt  *time.Time `json:"last_heartbeat_at,omitempty"`
}

// Snapshot is a consistent copy of one session's state.
type Snapshot struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	Status         fsm.State `json:"status"`
	VideoID        string    `json:"video_id,omitempty"`
	SequenceNumber uint64    `json:"sequence_number"`
	Telemetry      Telemetry `json:"telemetry"`
	StartedAt      time.Time `json:"started_at"`
}

// HasVideoContext reports whether the session is anchored to a video.
func (s Snapshot) HasVideoContext() bool {
	return s.VideoID != ""
}

// ReconcileResult is the accepted outcome of a reconcile request.
type ReconcileResult struct {
	Gap int64 `json:"gap"`
}

// NotificationKind names an outward notification.
type NotificationKind string

const (
	NotifyStatusChanged NotificationKind = "status_changed"
	NotifySpeechIgnored NotificationKind = "speech_ignored"
)

// Notification is emitted by an actor for relay to subscribers.
type Notification struct {
	Kind      NotificationKind
	SessionID string
	Status    fsm.State
	Telemetry Telemetry
	Data      map[string]any
	At        time.Time
}

// Notifier receives actor notifications. Implementations must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(Notification) {}

// StartRequest identifies the session an actor serves.
type StartRequest struct {
	SessionID string
	UserID    string
	VideoID   string
}
