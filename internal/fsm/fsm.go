// Package fsm holds the voice session transition table.
package fsm

import (
	"errors"
	"fmt"
)

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateObserving State = "observing"
	StateRecording State = "recording"
	StateCooldown  State = "cooldown"
	StateError     State = "error"
)

const (
	EventSessionStarted  Event = "session_started"
	EventSpeechStart     Event = "speech_start"
	EventSpeechEnd       Event = "speech_end"
	EventCooldownElapsed Event = "cooldown_elapsed"
	EventMetrics         Event = "metrics"
	EventError           Event = "error"
	EventStop            Event = "stop"
	EventUpdateContext   Event = "update_video_context"
)

var (
	// ErrNoVideoContext marks a speech start ignored because no video is anchored.
	ErrNoVideoContext = errors.New("speech ignored: no video context")
	// ErrInCooldown marks a speech start ignored during the refractory period.
	ErrInCooldown = errors.New("speech ignored: cooldown active")
)

// Guard carries the session facts transitions depend on.
type Guard struct {
	HasVideoContext bool
}

// Transition returns the next state for event. Guard failures return the
// current state with ErrNoVideoContext or ErrInCooldown; the video-context
// check runs first.
func Transition(current State, event Event, guard Guard) (State, error) {
	if !known(current) {
		return current, fmt.Errorf("unknown state %q", current)
	}

	switch event {
	case EventError:
		return StateError, nil
	case EventStop:
		return StateIdle, nil
	case EventMetrics, EventUpdateContext:
		return current, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventSessionStarted:
			if guard.HasVideoContext {
				return StateObserving, nil
			}
			return current, nil
		case EventSpeechStart:
			return speechStart(current, guard)
		default:
			return current, invalidTransition(current, event)
		}
	case StateObserving:
		switch event {
		case EventSpeechStart:
			return speechStart(current, guard)
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventSpeechEnd:
			return StateCooldown, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCooldown:
		switch event {
		case EventSpeechStart:
			if !guard.HasVideoContext {
				return current, ErrNoVideoContext
			}
			return current, ErrInCooldown
		case EventCooldownElapsed:
			return StateObserving, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, invalidTransition(current, event)
	}
}

// IsIgnored reports whether err is a guard failure rather than a bad transition.
func IsIgnored(err error) bool {
	return errors.Is(err, ErrNoVideoContext) || errors.Is(err, ErrInCooldown)
}

func speechStart(current State, guard Guard) (State, error) {
	if !guard.HasVideoContext {
		return current, ErrNoVideoContext
	}
	return StateRecording, nil
}

func known(state State) bool {
	switch state {
	case StateIdle, StateObserving, StateRecording, StateCooldown, StateError:
		return true
	default:
		return false
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
