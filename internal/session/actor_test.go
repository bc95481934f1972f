package session

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rbright/reelnote/internal/fsm"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, 0, len(r.items))
	for _, n := range r.items {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) last() Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}
	}
	return r.items[len(r.items)-1]
}

func startTestActor(t *testing.T, req StartRequest, cfg Config, notifier Notifier) *Actor {
	t.Helper()
	a := newActor(req, cfg, nil, notifier, nil)
	a.start(nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a
}

func snapshot(t *testing.T, a *Actor) Snapshot {
	t.Helper()
	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func TestActorInitialState(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1"}, DefaultConfig(), nil)

	snap := snapshot(t, a)
	require.Equal(t, fsm.StateIdle, snap.Status)
	require.Zero(t, snap.Telemetry.SpeechDetections)
	require.Zero(t, snap.SequenceNumber)
	require.Nil(t, snap.Telemetry.LastHeartbeatAt)
	require.False(t, snap.HasVideoContext())
}

func TestActorStartWithVideoContextObserves(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1", UserID: "u1", VideoID: "v1"}, DefaultConfig(), nil)

	snap := snapshot(t, a)
	require.Equal(t, fsm.StateObserving, snap.Status)
	require.Equal(t, "v1", snap.VideoID)
	require.Equal(t, "u1", snap.UserID)
	require.Zero(t, snap.Telemetry.SpeechDetections)
}

func TestActorSpeechStartWithContextRecords(t *testing.T) {
	notifier := &recordingNotifier{}
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, DefaultConfig(), notifier)

	require.NoError(t, a.Send(Event{Type: EventSpeechStart}))
	snap := snapshot(t, a)
	require.Equal(t, fsm.StateRecording, snap.Status)
	require.Equal(t, uint64(1), snap.Telemetry.SpeechDetections)

	require.Equal(t, []NotificationKind{NotifyStatusChanged}, notifier.kinds())
	last := notifier.last()
	require.Equal(t, fsm.StateRecording, last.Status)
	require.Equal(t, uint64(1), last.Telemetry.SpeechDetections)
	require.Equal(t, "s1", last.SessionID)
}

func TestActorSpeechStartWithoutContextIgnored(t *testing.T) {
	notifier := &recordingNotifier{}
	a := startTestActor(t, StartRequest{SessionID: "s1"}, DefaultConfig(), notifier)

	data := map[string]any{"confidence": 0.9}
	require.NoError(t, a.Send(Event{Type: EventSpeechStart, Data: data}))
	snap := snapshot(t, a)
	require.Equal(t, fsm.StateIdle, snap.Status)
	require.Equal(t, uint64(1), snap.Telemetry.IgnoredNoContext)
	require.Zero(t, snap.Telemetry.SpeechDetections)

	require.Equal(t, []NotificationKind{NotifySpeechIgnored}, notifier.kinds())
	require.Equal(t, data, notifier.last().Data)
}

func TestActorCooldownReturnsToObserving(t *testing.T) {
	notifier := &recordingNotifier{}
	cfg := Config{Cooldown: 30 * time.Millisecond}
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, cfg, notifier)

	require.NoError(t, a.Send(Event{Type: EventSpeechStart}))
	require.NoError(t, a.Send(Event{Type: EventSpeechEnd}))
	require.Equal(t, fsm.StateCooldown, snapshot(t, a).Status)

	require.Eventually(t, func() bool {
		return snapshot(t, a).Status == fsm.StateObserving
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []NotificationKind{NotifyStatusChanged, NotifyStatusChanged, NotifyStatusChanged}, notifier.kinds())
	require.Equal(t, fsm.StateObserving, notifier.last().Status)
}

func TestActorSpeechStartDuringCooldownIgnored(t *testing.T) {
	cfg := Config{Cooldown: time.Hour}
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, cfg, nil)

	require.NoError(t, a.Send(Event{Type: EventSpeechStart}))
	require.NoError(t, a.Send(Event{Type: EventSpeechEnd}))
	require.NoError(t, a.Send(Event{Type: EventSpeechStart}))

	snap := snapshot(t, a)
	require.Equal(t, fsm.StateCooldown, snap.Status)
	require.Equal(t, uint64(1), snap.Telemetry.IgnoredCooldown)
	require.Equal(t, uint64(1), snap.Telemetry.SpeechDetections)
}

func TestActorErrorEventLeavesCooldownAndCancelsTimer(t *testing.T) {
	cfg := Config{Cooldown: 20 * time.Millisecond}
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, cfg, nil)

	require.NoError(t, a.Send(Event{Type: EventSpeechStart}))
	require.NoError(t, a.Send(Event{Type: EventSpeechEnd}))
	require.NoError(t, a.Send(Event{Type: EventError, Data: map[string]any{"reason": "mic lost"}}))
	require.Equal(t, fsm.StateError, snapshot(t, a).Status)

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, fsm.StateError, snapshot(t, a).Status)
}

func TestActorErrorEventFromAnyState(t *testing.T) {
	for _, videoID := range []string{"", "v1"} {
		a := startTestActor(t, StartRequest{SessionID: "s-" + videoID, VideoID: videoID}, DefaultConfig(), nil)
		require.NoError(t, a.Send(Event{Type: EventError}))
		require.Equal(t, fsm.StateError, snapshot(t, a).Status)

		require.NoError(t, a.Send(Event{Type: EventSpeechStart}))
		require.Equal(t, fsm.StateError, snapshot(t, a).Status)
	}
}

func TestActorSequenceTracksLastValue(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, DefaultConfig(), nil)

	require.NoError(t, a.Send(Event{Type: EventMetrics, Sequence: Seq(1)}))
	require.NoError(t, a.Send(Event{Type: EventMetrics, Sequence: Seq(2)}))
	require.Equal(t, uint64(2), snapshot(t, a).SequenceNumber)

	require.NoError(t, a.Send(Event{Type: EventSpeechStart, Sequence: Seq(5)}))
	require.Equal(t, uint64(5), snapshot(t, a).SequenceNumber)

	require.NoError(t, a.Send(Event{Type: EventMetrics, Sequence: Seq(3)}))
	require.Equal(t, uint64(3), snapshot(t, a).SequenceNumber)

	require.NoError(t, a.Send(Event{Type: EventMetrics}))
	require.Equal(t, uint64(3), snapshot(t, a).SequenceNumber)
}

func TestActorMetricsUpdatesHeartbeat(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, DefaultConfig(), nil)

	require.NoError(t, a.Send(Event{Type: EventMetrics, Sequence: Seq(7)}))
	snap := snapshot(t, a)
	require.NotNil(t, snap.Telemetry.LastHeartbeatAt)
	require.Equal(t, fsm.StateObserving, snap.Status)
	require.Equal(t, uint64(7), snap.SequenceNumber)
}

func TestActorUnknownEventDropped(t *testing.T) {
	notifier := &recordingNotifier{}
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, DefaultConfig(), notifier)

	require.NoError(t, a.Send(Event{Type: "bogus", Sequence: Seq(9)}))
	snap := snapshot(t, a)
	require.Equal(t, fsm.StateObserving, snap.Status)
	require.Zero(t, snap.SequenceNumber)
	require.Empty(t, notifier.kinds())
}

func TestActorMalformedEventRejected(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, DefaultConfig(), nil)

	err := a.Send(Event{Type: EventUpdateVideoContext, Sequence: Seq(4)})
	require.Error(t, err)
	require.True(t, IsMalformed(err))
	require.Contains(t, err.Error(), "video_id")

	err = a.Send(Event{})
	require.True(t, IsMalformed(err))

	snap := snapshot(t, a)
	require.Equal(t, "v1", snap.VideoID)
	require.Zero(t, snap.SequenceNumber)
}

func TestActorUpdateVideoContextEnablesRecording(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1"}, DefaultConfig(), nil)

	require.NoError(t, a.Send(Event{Type: EventUpdateVideoContext, VideoID: "v2"}))
	snap := snapshot(t, a)
	require.Equal(t, "v2", snap.VideoID)
	require.Equal(t, fsm.StateIdle, snap.Status)

	require.NoError(t, a.Send(Event{Type: EventSpeechStart}))
	require.Equal(t, fsm.StateRecording, snapshot(t, a).Status)
}

func TestActorReconcile(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, Config{QueueSize: 256}, nil)

	result, err := a.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Gap)

	for i := uint64(1); i <= 150; i++ {
		require.NoError(t, a.Send(Event{Type: EventMetrics, Sequence: Seq(i)}))
	}

	result, err = a.Reconcile(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, int64(50), result.Gap)

	result, err = a.Reconcile(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, int64(100), result.Gap)

	_, err = a.Reconcile(context.Background(), 1)
	require.ErrorIs(t, err, ErrResetRequired)

	result, err = a.Reconcile(context.Background(), 400)
	require.NoError(t, err)
	require.Equal(t, int64(-250), result.Gap)
}

func TestActorQueueFullFailsFast(t *testing.T) {
	a := newActor(StartRequest{SessionID: "s1"}, Config{QueueSize: 2}, nil, nil, nil)

	require.NoError(t, a.Send(Event{Type: EventMetrics}))
	require.NoError(t, a.Send(Event{Type: EventMetrics}))
	require.ErrorIs(t, a.Send(Event{Type: EventMetrics}), ErrQueueFull)

	a.start(nil)
	require.NoError(t, a.Stop(context.Background()))
}

func TestActorStopTerminatesAndRejectsSends(t *testing.T) {
	a := newActor(StartRequest{SessionID: "s1", VideoID: "v1"}, Config{Cooldown: time.Hour}, nil, nil, nil)
	type exit struct {
		status fsm.State
		crash  any
	}
	exited := make(chan exit, 1)
	a.start(func(a *Actor, crash any) {
		exited <- exit{status: a.state.status, crash: crash}
	})

	require.NoError(t, a.Send(Event{Type: EventSpeechStart}))
	require.NoError(t, a.Send(Event{Type: EventSpeechEnd}))
	require.Equal(t, fsm.StateCooldown, snapshot(t, a).Status)

	require.NoError(t, a.Stop(context.Background()))
	got := <-exited
	require.Nil(t, got.crash)
	require.Equal(t, fsm.StateIdle, got.status)
	require.ErrorIs(t, a.Send(Event{Type: EventMetrics}), errActorExited)

	_, err := a.Snapshot(context.Background())
	require.ErrorIs(t, err, errActorExited)
}

func TestSequenceGap(t *testing.T) {
	require.Equal(t, int64(0), sequenceGap(0, 0))
	require.Equal(t, int64(3), sequenceGap(5, 2))
	require.Equal(t, int64(-3), sequenceGap(2, 5))
	require.Equal(t, int64(math.MaxInt64), sequenceGap(math.MaxUint64, 0))
	require.Equal(t, int64(math.MaxInt64), sequenceGap(math.MaxInt64+1, 0))
	require.Equal(t, int64(math.MinInt64), sequenceGap(0, math.MaxUint64))
}

func TestActorReconcileHugeGapRequiresReset(t *testing.T) {
	a := startTestActor(t, StartRequest{SessionID: "s1", VideoID: "v1"}, Config{}, nil)

	require.NoError(t, a.Send(Event{Type: EventMetrics, Sequence: Seq(math.MaxUint64)}))

	result, err := a.Reconcile(context.Background(), 0)
	require.ErrorIs(t, err, ErrResetRequired)
	require.Equal(t, int64(math.MaxInt64), result.Gap)
}
