package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rbright/reelnote/internal/fsm"
)

type message interface{ isMessage() }

type eventMsg struct{ event Event }

type stateMsg struct{ reply chan Snapshot }

type reconcileMsg struct {
	lastKnown uint64
	reply     chan reconcileReply
}

type reconcileReply struct {
	result ReconcileResult
	err    error
}

func (eventMsg) isMessage()     {}
func (stateMsg) isMessage()     {}
func (reconcileMsg) isMessage() {}

// sessionState is owned exclusively by the actor goroutine.
type sessionState struct {
	status    fsm.State
	videoID   string
	sequence  uint64
	telemetry Telemetry
}

// Actor owns one session's state and processes its events sequentially.
type Actor struct {
	id        string
	userID    string
	cfg       Config
	logger    *slog.Logger
	notifier  Notifier
	now       func() time.Time
	startedAt time.Time

	inbox    chan message
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	state     sessionState
	cooldown  *time.Timer
	cooldownC <-chan time.Time
}

func newActor(req StartRequest, cfg Config, logger *slog.Logger, notifier Notifier, now func() time.Time) *Actor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if now == nil {
		now = time.Now
	}

	a := &Actor{
		id:        req.SessionID,
		userID:    req.UserID,
		cfg:       cfg,
		logger:    logger.With("session_id", req.SessionID),
		notifier:  notifier,
		now:       now,
		startedAt: now(),
		inbox:     make(chan message, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		state: sessionState{
			status:  fsm.StateIdle,
			videoID: req.VideoID,
		},
	}

	next, err := fsm.Transition(a.state.status, fsm.EventSessionStarted, a.guard())
	if err == nil {
		a.state.status = next
	}
	return a
}

// ID returns the session id this actor serves.
func (a *Actor) ID() string {
	return a.id
}

// Done is closed once the actor goroutine has terminated.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// start launches the event loop. onExit runs on the actor goroutine before
// Done closes; crash is the recovered panic value or nil.
func (a *Actor) start(onExit func(a *Actor, crash any)) {
	go a.run(onExit)
}

func (a *Actor) run(onExit func(*Actor, any)) {
	var crash any
	defer func() {
		if r := recover(); r != nil {
			crash = r
			a.logger.Error("session actor crashed", "panic", fmt.Sprint(r), "status", a.state.status)
		}
		a.stopTimer()
		if onExit != nil {
			onExit(a, crash)
		}
		close(a.done)
	}()

	for {
		select {
		case <-a.stopCh:
			a.setStatus(fsm.StateIdle)
			a.logger.Info("session stopped", "sequence", a.state.sequence)
			return
		case msg := <-a.inbox:
			a.handle(msg)
		case <-a.cooldownC:
			a.cooldown = nil
			a.cooldownC = nil
			a.onCooldownElapsed()
		}
	}
}

// Send enqueues an event without blocking.
func (a *Actor) Send(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return a.enqueue(eventMsg{event: ev})
}

// Snapshot returns the state as seen after every previously enqueued message.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := a.enqueue(stateMsg{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-a.done:
		return Snapshot{}, errActorExited
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Reconcile compares the client's last known sequence with the actor's.
func (a *Actor) Reconcile(ctx context.Context, lastKnown uint64) (ReconcileResult, error) {
	reply := make(chan reconcileReply, 1)
	if err := a.enqueue(reconcileMsg{lastKnown: lastKnown, reply: reply}); err != nil {
		return ReconcileResult{}, err
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-a.done:
		return ReconcileResult{}, errActorExited
	case <-ctx.Done():
		return ReconcileResult{}, ctx.Err()
	}
}

// Stop signals termination and waits for the goroutine to exit.
func (a *Actor) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopping reports whether Stop has been requested.
func (a *Actor) stopping() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

func (a *Actor) enqueue(msg message) error {
	select {
	case <-a.done:
		return errActorExited
	case <-a.stopCh:
		return errActorExited
	default:
	}

	select {
	case a.inbox <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Actor) handle(msg message) {
	switch m := msg.(type) {
	case eventMsg:
		a.handleEvent(m.event)
	case stateMsg:
		m.reply <- a.snapshot()
	case reconcileMsg:
		result, err := a.reconcile(m.lastKnown)
		m.reply <- reconcileReply{result: result, err: err}
	}
}

func (a *Actor) handleEvent(ev Event) {
	if err := ev.Validate(); err != nil {
		a.logger.Warn("malformed event rejected", "error", err.Error())
		return
	}
	fsmEvent, ok := ev.Type.fsmEvent()
	if !ok {
		a.logger.Debug("unknown event dropped", "type", string(ev.Type))
		return
	}

	if ev.Sequence != nil {
		a.state.sequence = *ev.Sequence
	}

	next, err := fsm.Transition(a.state.status, fsmEvent, a.guard())
	switch {
	case errors.Is(err, fsm.ErrNoVideoContext):
		a.state.telemetry.IgnoredNoContext++
		recordIgnored("no_context")
		a.emit(NotifySpeechIgnored, ev.Data)
		return
	case errors.Is(err, fsm.ErrInCooldown):
		a.state.telemetry.IgnoredCooldown++
		recordIgnored("cooldown")
		a.emit(NotifySpeechIgnored, ev.Data)
		return
	case err != nil:
		a.logger.Debug("event has no effect", "type", string(ev.Type), "status", a.state.status, "error", err.Error())
		return
	}

	switch ev.Type {
	case EventMetrics:
		at := a.now()
		a.state.telemetry.LastHeartbeatAt = &at
		return
	case EventUpdateVideoContext:
		a.state.videoID = ev.VideoID
		a.logger.Info("video context updated", "video_id", ev.VideoID)
		return
	}

	prev := a.state.status
	a.setStatus(next)

	switch {
	case ev.Type == EventSpeechStart && next == fsm.StateRecording:
		a.state.telemetry.SpeechDetections++
		recordSpeechDetection()
	case ev.Type == EventSpeechEnd && next == fsm.StateCooldown:
		a.armCooldown()
	case ev.Type == EventError:
		a.logger.Warn("session entered error state", "from", prev, "data", ev.Data)
	}

	a.logger.Debug("status changed", "from", prev, "to", next, "event", string(ev.Type))
	a.emit(NotifyStatusChanged, nil)
}

func (a *Actor) onCooldownElapsed() {
	next, err := fsm.Transition(a.state.status, fsm.EventCooldownElapsed, a.guard())
	if err != nil {
		a.logger.Debug("stale cooldown timer ignored", "status", a.state.status)
		return
	}
	a.setStatus(next)
	a.emit(NotifyStatusChanged, nil)
}

func (a *Actor) reconcile(lastKnown uint64) (ReconcileResult, error) {
	gap := sequenceGap(a.state.sequence, lastKnown)
	if gap > a.cfg.ReconcileGapThreshold {
		a.logger.Info("reconcile requires reset", "gap", gap, "sequence", a.state.sequence, "last_known", lastKnown)
		return ReconcileResult{Gap: gap}, ErrResetRequired
	}
	return ReconcileResult{Gap: gap}, nil
}

// setStatus applies next and cancels the cooldown timer when leaving cooldown.
func (a *Actor) setStatus(next fsm.State) {
	if a.state.status == fsm.StateCooldown && next != fsm.StateCooldown {
		a.stopTimer()
	}
	a.state.status = next
}

func (a *Actor) armCooldown() {
	a.stopTimer()
	a.cooldown = time.NewTimer(a.cfg.Cooldown)
	a.cooldownC = a.cooldown.C
}

func (a *Actor) stopTimer() {
	if a.cooldown != nil {
		a.cooldown.Stop()
	}
	a.cooldown = nil
	a.cooldownC = nil
}

func (a *Actor) guard() fsm.Guard {
	return fsm.Guard{HasVideoContext: a.state.videoID != ""}
}

func (a *Actor) snapshot() Snapshot {
	return Snapshot{
		SessionID:      a.id,
		UserID:         a.userID,
		Status:         a.state.status,
		VideoID:        a.state.videoID,
		SequenceNumber: a.state.sequence,
		Telemetry:      a.state.telemetry,
		StartedAt:      a.startedAt,
	}
}

func (a *Actor) emit(kind NotificationKind, data map[string]any) {
	a.notifier.Notify(Notification{
		Kind:      kind,
		SessionID: a.id,
		Status:    a.state.status,
		Telemetry: a.state.telemetry,
		Data:      data,
		At:        a.now(),
	})
}

// sequenceGap returns current-lastKnown as a signed value, saturating at the
// int64 bounds.
func sequenceGap(current, lastKnown uint64) int64 {
	if current >= lastKnown {
		diff := current - lastKnown
		if diff > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(diff)
	}
	diff := lastKnown - current
	if diff > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(diff)
}
