package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SupervisorConfig controls actor tunables and the crash restart budget.
type SupervisorConfig struct {
	Session       Config
	MaxRestarts   int
	RestartWindow time.Duration
}

// DefaultSupervisorConfig allows three restarts per session in five seconds.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Session:       DefaultConfig(),
		MaxRestarts:   3,
		RestartWindow: 5 * time.Second,
	}
}

// Supervisor creates actors on demand, restarts crashed ones with fresh state,
// and tears them down on explicit stop.
type Supervisor struct {
	logger   *slog.Logger
	cfg      SupervisorConfig
	registry Registry
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	restarts map[string][]time.Time
	starts   map[string]StartRequest
}

// NewSupervisor constructs a supervisor with safe default fallbacks.
func NewSupervisor(logger *slog.Logger, cfg SupervisorConfig, registry Registry, notifier Notifier) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = DefaultSupervisorConfig().RestartWindow
	}
	cfg.Session = cfg.Session.withDefaults()

	return &Supervisor{
		logger:   logger,
		cfg:      cfg,
		registry: registry,
		notifier: notifier,
		now:      time.Now,
		restarts: make(map[string][]time.Time),
		starts:   make(map[string]StartRequest),
	}
}

// Start creates the actor for req.SessionID.
func (s *Supervisor) Start(_ context.Context, req StartRequest) (*Actor, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return nil, &MalformedEventError{Field: "session_id"}
	}
	a, created, err := s.spawn(req)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("start %s: %w", req.SessionID, ErrAlreadyStarted)
	}
	return a, nil
}

// Stop terminates the session and removes its registry entry.
func (s *Supervisor) Stop(ctx context.Context, sessionID string) error {
	a, ok := s.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("stop %s: %w", sessionID, ErrSessionNotFound)
	}
	if err := a.Stop(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", sessionID, err)
	}
	return nil
}

// HandleEvent routes ev to the session actor, creating it when absent.
func (s *Supervisor) HandleEvent(_ context.Context, sessionID string, ev Event) error {
	if strings.TrimSpace(sessionID) == "" {
		return &MalformedEventError{Type: ev.Type, Field: "session_id"}
	}
	if err := ev.Validate(); err != nil {
		s.logger.Warn("malformed event rejected", "session_id", sessionID, "error", err.Error())
		return err
	}
	if !ev.Type.Known() {
		s.logger.Debug("unknown event dropped", "session_id", sessionID, "type", string(ev.Type))
		return nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		a, _, err := s.spawn(StartRequest{SessionID: sessionID})
		if err != nil {
			return err
		}
		err = a.Send(ev)
		if errors.Is(err, errActorExited) {
			continue
		}
		if errors.Is(err, ErrQueueFull) {
			s.logger.Warn("session inbox full; event rejected", "session_id", sessionID, "type", string(ev.Type))
		}
		return err
	}
	return fmt.Errorf("handle event %s: %w", sessionID, ErrSessionNotFound)
}

// UpdateVideoContext replaces the video the session is anchored to.
func (s *Supervisor) UpdateVideoContext(ctx context.Context, sessionID, videoID string) error {
	return s.HandleEvent(ctx, sessionID, Event{Type: EventUpdateVideoContext, VideoID: videoID})
}

// State returns a consistent snapshot of the session.
func (s *Supervisor) State(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := s.withActor(sessionID, func(a *Actor) error {
		var err error
		snap, err = a.Snapshot(ctx)
		return err
	})
	return snap, err
}

// Reconcile reports the sequence gap or ErrResetRequired past the threshold.
func (s *Supervisor) Reconcile(ctx context.Context, sessionID string, lastKnown uint64) (ReconcileResult, error) {
	var result ReconcileResult
	err := s.withActor(sessionID, func(a *Actor) error {
		var err error
		result, err = a.Reconcile(ctx, lastKnown)
		return err
	})
	return result, err
}

// List returns the ids of all live sessions.
func (s *Supervisor) List() []string {
	return s.registry.IDs()
}

// Shutdown stops every live session and refuses new ones.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, id := range s.registry.IDs() {
		if err := s.Stop(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withActor runs fn against the live actor, retrying once if the handle
// exited between lookup and delivery.
func (s *Supervisor) withActor(sessionID string, fn func(*Actor) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		a, ok := s.registry.Get(sessionID)
		if !ok {
			return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
		}
		err := fn(a)
		if errors.Is(err, errActorExited) {
			continue
		}
		return err
	}
	return fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
}

// spawn returns the live actor for req.SessionID, starting one when absent.
func (s *Supervisor) spawn(req StartRequest) (*Actor, bool, error) {
	if a, ok := s.registry.Get(req.SessionID); ok {
		return a, false, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrSupervisorClosed
	}
	a := newActor(req, s.cfg.Session, s.logger, s.notifier, s.now)
	if !s.registry.Put(req.SessionID, a) {
		s.mu.Unlock()
		existing, ok := s.registry.Get(req.SessionID)
		if !ok {
			return nil, false, fmt.Errorf("%s: %w", req.SessionID, ErrSessionNotFound)
		}
		return existing, false, nil
	}
	s.starts[req.SessionID] = req
	s.mu.Unlock()

	s.logger.Info("session started", "session_id", req.SessionID, "user_id", req.UserID, "video_id", req.VideoID, "status", a.state.status)
	a.start(s.onExit)
	recordSessionStarted()
	return a, true, nil
}

// onExit runs on the exiting actor goroutine before its Done channel closes.
func (s *Supervisor) onExit(a *Actor, crash any) {
	if crash == nil {
		s.forget(a)
		return
	}
	if a.stopping() {
		s.logger.Warn("session crashed while stopping; not restarted", "session_id", a.id)
		s.forget(a)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.forget(a)
		return
	}
	now := s.now()
	window := s.restarts[a.id][:0]
	for _, at := range s.restarts[a.id] {
		if now.Sub(at) < s.cfg.RestartWindow {
			window = append(window, at)
		}
	}
	if len(window) >= s.cfg.MaxRestarts {
		s.restarts[a.id] = window
		s.mu.Unlock()
		s.logger.Error("session restart budget exhausted", "session_id", a.id, "restarts", len(window))
		s.forget(a)
		return
	}
	s.restarts[a.id] = append(window, now)
	req := s.starts[a.id]
	fresh := newActor(req, s.cfg.Session, s.logger, s.notifier, s.now)
	replaced := s.registry.Replace(a.id, a, fresh)
	s.mu.Unlock()

	if !replaced {
		return
	}
	fresh.start(s.onExit)
	recordSessionRestarted()
	s.logger.Warn("session restarted with fresh state", "session_id", a.id)
}

func (s *Supervisor) forget(a *Actor) {
	if !s.registry.Remove(a.id, a) {
		return
	}
	s.mu.Lock()
	delete(s.starts, a.id)
	delete(s.restarts, a.id)
	s.mu.Unlock()
}
