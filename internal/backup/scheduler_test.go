package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto-backup/internal/logging"
)

// stubCreator counts CreateSnapshot calls and delegates to fn when set
type stubCreator struct {
	calls atomic.Int32
	fn    func(ctx context.Context, n int) (*SnapshotMetadata, error)
}

func (s *stubCreator) CreateSnapshot(ctx context.Context, opts SnapshotOptions) (*SnapshotMetadata, error) {
	n := int(s.calls.Add(1))
	if s.fn != nil {
		return s.fn(ctx, n)
	}
	return &SnapshotMetadata{ID: fmt.Sprintf("snapshot-%d", n), CreatedAt: time.Now()}, nil
}

// recordingObserver collects notifications
type recordingObserver struct {
	mu        sync.Mutex
	completed []string
	failures  []error
}

func (r *recordingObserver) OnBackupComplete(meta *SnapshotMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, meta.ID)
}

func (r *recordingObserver) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recordingObserver) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.failures)
}

func newTestScheduler(t *testing.T, creator SnapshotCreator, interval time.Duration) *Scheduler {
	t.Helper()
	s := NewScheduler(creator, SchedulerConfig{
		Interval:    interval,
		GracePeriod: 2 * time.Second,
		Logger:      newTestLogger(t),
	})
	t.Cleanup(s.Stop)
	return s
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	creator := &stubCreator{}
	observer := &recordingObserver{}
	s := newTestScheduler(t, creator, time.Second)
	s.AddObserver(observer)

	require.NoError(t, s.Start())
	assert.Equal(t, SchedulerRunning, s.Status().State)

	time.Sleep(2500 * time.Millisecond)
	s.Stop()

	completed, failed := observer.counts()
	assert.GreaterOrEqual(t, completed, 2)
	assert.Equal(t, 0, failed)

	status := s.Status()
	assert.Equal(t, SchedulerIdle, status.State)
	assert.Equal(t, "idle", status.StateName)
	assert.Nil(t, status.NextRun)
	assert.Equal(t, completed, status.Cycles)

	time.Sleep(1200 * time.Millisecond)
	after, _ := observer.counts()
	assert.Equal(t, completed, after, "no cycles after stop")
}

func TestScheduler_FirstCycleRunsImmediately(t *testing.T) {
	creator := &stubCreator{}
	s := newTestScheduler(t, creator, time.Hour)

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return creator.calls.Load() == 1 }, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Status().NextRun != nil }, time.Second, 10*time.Millisecond)
	status := s.Status()
	assert.Equal(t, "snapshot-1", status.LastSnapshotID)
	require.NotNil(t, status.LastSuccess)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *status.NextRun, 5*time.Second)
}

func TestScheduler_StartTwiceIsNoop(t *testing.T) {
	creator := &stubCreator{}
	s := newTestScheduler(t, creator, time.Hour)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return creator.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, creator.calls.Load(), "a second loop was not started")
}

func TestScheduler_StopWhenIdle(t *testing.T) {
	s := newTestScheduler(t, &stubCreator{}, time.Hour)
	assert.NotPanics(t, s.Stop)
	assert.Equal(t, SchedulerIdle, s.Status().State)
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	creator := &stubCreator{}
	s := newTestScheduler(t, creator, time.Hour)

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return creator.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return creator.calls.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_InvalidInterval(t *testing.T) {
	s := newTestScheduler(t, &stubCreator{}, 0)

	err := s.Start()
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeValidation, ErrorTypeOf(err))
	assert.Equal(t, SchedulerIdle, s.Status().State)
}

func TestScheduler_RunNow(t *testing.T) {
	creator := &stubCreator{}
	observer := &recordingObserver{}
	s := newTestScheduler(t, creator, time.Hour)
	s.AddObserver(observer)
	s.AddObserver(nil)

	meta, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "snapshot-1", meta.ID)

	completed, _ := observer.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, SchedulerIdle, s.Status().State, "RunNow does not start the loop")
}

func TestScheduler_FailuresReachObservers(t *testing.T) {
	boom := errors.New("disk full")
	creator := &stubCreator{fn: func(ctx context.Context, n int) (*SnapshotMetadata, error) {
		if n == 2 {
			return nil, boom
		}
		return &SnapshotMetadata{ID: fmt.Sprintf("snapshot-%d", n)}, nil
	}}
	observer := &recordingObserver{}
	s := newTestScheduler(t, creator, time.Hour)
	s.AddObserver(observer)

	_, err := s.RunNow(context.Background())
	require.NoError(t, err)
	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, boom)

	status := s.Status()
	assert.Equal(t, 2, status.Cycles)
	assert.Equal(t, 1, status.Failures)
	assert.Equal(t, "disk full", status.LastError)
	assert.Equal(t, "snapshot-1", status.LastSnapshotID)

	completed, failed := observer.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)
	assert.ErrorIs(t, observer.failures[0], boom)
}

func TestScheduler_PanicBecomesError(t *testing.T) {
	creator := &stubCreator{fn: func(ctx context.Context, n int) (*SnapshotMetadata, error) {
		panic("corrupted state")
	}}
	observer := &recordingObserver{}
	s := newTestScheduler(t, creator, time.Hour)
	s.AddObserver(observer)

	var meta *SnapshotMetadata
	var err error
	assert.NotPanics(t, func() { meta, err = s.RunNow(context.Background()) })
	assert.Nil(t, meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted state")

	_, failed := observer.counts()
	assert.Equal(t, 1, failed)
}

func TestScheduler_ObserverPanicIsContained(t *testing.T) {
	observer := &recordingObserver{}
	s := newTestScheduler(t, &stubCreator{}, time.Hour)
	s.AddObserver(ObserverFuncs{Complete: func(*SnapshotMetadata) { panic("bad observer") }})
	s.AddObserver(observer)

	_, err := s.RunNow(context.Background())
	require.NoError(t, err)

	completed, _ := observer.counts()
	assert.Equal(t, 1, completed, "later observers still run")
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	creator := &stubCreator{fn: func(ctx context.Context, n int) (*SnapshotMetadata, error) {
		close(started)
		<-release
		return &SnapshotMetadata{ID: "snapshot-slow"}, nil
	}}
	observer := &recordingObserver{}
	s := newTestScheduler(t, creator, time.Hour)
	s.AddObserver(observer)

	require.NoError(t, s.Start())
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return s.Status().State == SchedulerStopping }, time.Second, 5*time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}

	completed, _ := observer.counts()
	assert.Equal(t, 1, completed)
}

func TestScheduler_StopTimeoutSuppressesNotification(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	finished := make(chan struct{})
	creator := &stubCreator{fn: func(ctx context.Context, n int) (*SnapshotMetadata, error) {
		close(started)
		<-release
		defer close(finished)
		return &SnapshotMetadata{ID: "snapshot-late"}, nil
	}}
	observer := &recordingObserver{}
	s := NewScheduler(creator, SchedulerConfig{
		Interval:    time.Hour,
		GracePeriod: 50 * time.Millisecond,
		Logger:      newTestLogger(t),
	})
	s.AddObserver(observer)

	require.NoError(t, s.Start())
	<-started

	begin := time.Now()
	s.Stop()
	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, SchedulerIdle, s.Status().State)

	close(release)
	<-finished
	time.Sleep(50 * time.Millisecond)

	completed, failed := observer.counts()
	assert.Equal(t, 0, completed, "abandoned cycle is not reported")
	assert.Equal(t, 0, failed)
}

// blockingObserver holds OnBackupComplete open until release is closed
type blockingObserver struct {
	recordingObserver
	entered chan struct{}
	release chan struct{}
}

func (b *blockingObserver) OnBackupComplete(meta *SnapshotMetadata) {
	close(b.entered)
	<-b.release
	b.recordingObserver.OnBackupComplete(meta)
}

func TestScheduler_StopWaitsForNotificationInProgress(t *testing.T) {
	observer := &blockingObserver{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(&stubCreator{}, SchedulerConfig{
		Interval:    time.Hour,
		GracePeriod: 50 * time.Millisecond,
		Logger:      newTestLogger(t),
	})
	s.AddObserver(observer)

	require.NoError(t, s.Start())
	<-observer.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an observer was still being notified")
	case <-time.After(200 * time.Millisecond):
	}

	close(observer.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the notification finished")
	}

	completed, _ := observer.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, SchedulerIdle, s.Status().State)
}

func TestScheduler_Metrics(t *testing.T) {
	metrics := NewMetrics(nil)
	creator := &stubCreator{fn: func(ctx context.Context, n int) (*SnapshotMetadata, error) {
		if n%2 == 0 {
			return nil, errors.New("failed")
		}
		return &SnapshotMetadata{ID: "ok"}, nil
	}}
	s := NewScheduler(creator, SchedulerConfig{Interval: time.Hour, Logger: newTestLogger(t), Metrics: metrics})

	for i := 0; i < 3; i++ {
		_, _ = s.RunNow(context.Background())
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.schedulerCycles.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.schedulerCycles.WithLabelValues("failure")))
}

func TestScheduler_WithArchiver(t *testing.T) {
	a := newTestArchiver(t, nil)
	writeTree(t, a.Config().SourceDir, map[string]string{"a.txt": "hello", "b.log": "skip"})

	observer := &recordingObserver{}
	s := NewScheduler(a, SchedulerConfig{
		Interval: time.Hour,
		Options:  SnapshotOptions{Exclude: []string{".log"}},
		Logger:   newTestLogger(t),
	})
	s.AddObserver(observer)

	meta, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, meta.FileCount)
	assert.True(t, a.Verify(context.Background(), meta.ID))

	completed, _ := observer.counts()
	assert.Equal(t, 1, completed)
}

func TestSchedulerState_String(t *testing.T) {
	assert.Equal(t, "idle", SchedulerIdle.String())
	assert.Equal(t, "running", SchedulerRunning.String())
	assert.Equal(t, "stopping", SchedulerStopping.String())
	assert.Equal(t, "unknown", SchedulerState(42).String())
}

func TestScheduler_CyclesGetDistinctCorrelationIDs(t *testing.T) {
	var ids []string
	creator := &stubCreator{fn: func(ctx context.Context, n int) (*SnapshotMetadata, error) {
		ids = append(ids, logging.CorrelationID(ctx))
		return &SnapshotMetadata{ID: fmt.Sprintf("snapshot-%d", n)}, nil
	}}
	s := newTestScheduler(t, creator, time.Hour)

	_, err := s.RunNow(context.Background())
	require.NoError(t, err)
	_, err = s.RunNow(logging.WithCorrelationID(context.Background(), "manual"))
	require.NoError(t, err)

	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, "manual", ids[1])
}
