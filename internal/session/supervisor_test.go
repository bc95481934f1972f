package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/reelnote/internal/fsm"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T, cfg SupervisorConfig, notifier Notifier) *Supervisor {
	t.Helper()
	sup := NewSupervisor(nil, cfg, NewRegistry(), notifier)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup
}

func TestSupervisorStartIsUnique(t *testing.T) {
	sup := newTestSupervisor(t, DefaultSupervisorConfig(), nil)
	ctx := context.Background()

	a, err := sup.Start(ctx, StartRequest{SessionID: "s1", UserID: "u1", VideoID: "v1"})
	require.NoError(t, err)
	require.Equal(t, "s1", a.ID())

	_, err = sup.Start(ctx, StartRequest{SessionID: "s1", UserID: "u1", VideoID: "v2"})
	require.ErrorIs(t, err, ErrAlreadyStarted)

	_, err = sup.Start(ctx, StartRequest{SessionID: "  "})
	require.True(t, IsMalformed(err))

	require.Equal(t, []string{"s1"}, sup.List())
}

func TestSupervisorHandleEventCreatesLazily(t *testing.T) {
	sup := newTestSupervisor(t, DefaultSupervisorConfig(), nil)
	ctx := context.Background()

	require.NoError(t, sup.HandleEvent(ctx, "lazy", Event{Type: EventSpeechStart, Sequence: Seq(1)}))

	snap, err := sup.State(ctx, "lazy")
	require.NoError(t, err)
	require.Equal(t, fsm.StateIdle, snap.Status)
	require.Equal(t, uint64(1), snap.Telemetry.IgnoredNoContext)
	require.Equal(t, uint64(1), snap.SequenceNumber)

	require.NoError(t, sup.UpdateVideoContext(ctx, "lazy", "v9"))
	require.NoError(t, sup.HandleEvent(ctx, "lazy", Event{Type: EventSpeechStart, Sequence: Seq(2)}))
	snap, err = sup.State(ctx, "lazy")
	require.NoError(t, err)
	require.Equal(t, fsm.StateRecording, snap.Status)
	require.Equal(t, "v9", snap.VideoID)
}

func TestSupervisorRejectsMalformedWithoutCreating(t *testing.T) {
	sup := newTestSupervisor(t, DefaultSupervisorConfig(), nil)
	ctx := context.Background()

	err := sup.UpdateVideoContext(ctx, "s1", "")
	require.True(t, IsMalformed(err))
	err = sup.HandleEvent(ctx, "", Event{Type: EventMetrics})
	require.True(t, IsMalformed(err))
	require.Empty(t, sup.List())
}

func TestSupervisorStopRemovesSession(t *testing.T) {
	sup := newTestSupervisor(t, DefaultSupervisorConfig(), nil)
	ctx := context.Background()

	_, err := sup.Start(ctx, StartRequest{SessionID: "s1", VideoID: "v1"})
	require.NoError(t, err)
	require.NoError(t, sup.Stop(ctx, "s1"))

	_, err = sup.State(ctx, "s1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = sup.Reconcile(ctx, "s1", 0)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, sup.Stop(ctx, "s1"), ErrSessionNotFound)
	require.Empty(t, sup.List())

	_, err = sup.Start(ctx, StartRequest{SessionID: "s1"})
	require.NoError(t, err)
}

func TestSupervisorReconcile(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.Session.QueueSize = 512
	sup := newTestSupervisor(t, cfg, nil)
	ctx := context.Background()

	_, err := sup.Start(ctx, StartRequest{SessionID: "s1", VideoID: "v1"})
	require.NoError(t, err)

	result, err := sup.Reconcile(ctx, "s1", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Gap)

	for i := uint64(1); i <= 150; i++ {
		require.NoError(t, sup.HandleEvent(ctx, "s1", Event{Type: EventMetrics, Sequence: Seq(i)}))
	}
	_, err = sup.Reconcile(ctx, "s1", 1)
	require.ErrorIs(t, err, ErrResetRequired)

	result, err = sup.Reconcile(ctx, "s1", 149)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Gap)
}

func TestSupervisorRestartsCrashedActorWithFreshState(t *testing.T) {
	var panics atomic.Int32
	notifier := NotifierFunc(func(n Notification) {
		if n.Kind == NotifyStatusChanged && panics.Add(1) == 1 {
			panic("subscriber exploded")
		}
	})
	sup := newTestSupervisor(t, DefaultSupervisorConfig(), notifier)
	ctx := context.Background()

	original, err := sup.Start(ctx, StartRequest{SessionID: "s1", UserID: "u1", VideoID: "v1"})
	require.NoError(t, err)
	require.NoError(t, sup.HandleEvent(ctx, "s1", Event{Type: EventMetrics, Sequence: Seq(4)}))
	require.NoError(t, sup.HandleEvent(ctx, "s1", Event{Type: EventSpeechStart, Sequence: Seq(5)}))

	<-original.Done()

	snap, err := sup.State(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, fsm.StateObserving, snap.Status)
	require.Equal(t, "v1", snap.VideoID)
	require.Equal(t, "u1", snap.UserID)
	require.Zero(t, snap.SequenceNumber)
	require.Zero(t, snap.Telemetry.SpeechDetections)

	restarted, ok := sup.registry.Get("s1")
	require.True(t, ok)
	require.NotSame(t, original, restarted)
}

func TestSupervisorDoesNotRestartActorCrashingDuringStop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	notifier := NotifierFunc(func(n Notification) {
		if n.Kind != NotifyStatusChanged || calls.Add(1) != 1 {
			return
		}
		close(entered)
		<-release
		panic("crashed mid-stop")
	})
	sup := newTestSupervisor(t, DefaultSupervisorConfig(), notifier)
	ctx := context.Background()

	a, err := sup.Start(ctx, StartRequest{SessionID: "s1", VideoID: "v1"})
	require.NoError(t, err)
	require.NoError(t, sup.HandleEvent(ctx, "s1", Event{Type: EventSpeechStart, Sequence: Seq(1)}))
	<-entered

	stopErr := make(chan error, 1)
	go func() { stopErr <- sup.Stop(ctx, "s1") }()
	require.Eventually(t, a.stopping, time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, <-stopErr)
	_, err = sup.State(ctx, "s1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Empty(t, sup.List())
}

func TestSupervisorDropsUnknownEventWithoutCreating(t *testing.T) {
	sup := newTestSupervisor(t, DefaultSupervisorConfig(), nil)
	ctx := context.Background()

	require.NoError(t, sup.HandleEvent(ctx, "s1", Event{Type: EventType("bogus"), Sequence: Seq(3)}))
	require.Empty(t, sup.List())

	_, err := sup.State(ctx, "s1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSupervisorGivesUpAfterRestartBudget(t *testing.T) {
	notifier := NotifierFunc(func(n Notification) {
		if n.Kind == NotifyStatusChanged {
			panic("always")
		}
	})
	cfg := DefaultSupervisorConfig()
	cfg.MaxRestarts = 1
	cfg.RestartWindow = time.Minute
	sup := newTestSupervisor(t, cfg, notifier)
	ctx := context.Background()

	first, err := sup.Start(ctx, StartRequest{SessionID: "s1", VideoID: "v1"})
	require.NoError(t, err)
	require.NoError(t, sup.HandleEvent(ctx, "s1", Event{Type: EventError}))
	<-first.Done()

	second, ok := sup.registry.Get("s1")
	require.True(t, ok)
	require.NoError(t, second.Send(Event{Type: EventError}))
	<-second.Done()

	_, err = sup.State(ctx, "s1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSupervisorShutdownStopsAllAndRefusesNew(t *testing.T) {
	sup := NewSupervisor(nil, DefaultSupervisorConfig(), nil, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := sup.Start(ctx, StartRequest{SessionID: id})
		require.NoError(t, err)
	}
	require.NoError(t, sup.Shutdown(ctx))
	require.Empty(t, sup.List())

	_, err := sup.Start(ctx, StartRequest{SessionID: "d"})
	require.ErrorIs(t, err, ErrSupervisorClosed)
	require.ErrorIs(t, sup.HandleEvent(ctx, "d", Event{Type: EventMetrics}), ErrSupervisorClosed)
}
