package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"auto-backup/internal/logging"
)

// SchedulerState is the lifecycle state of a Scheduler
type SchedulerState int

const (
	SchedulerIdle SchedulerState = iota
	SchedulerRunning
	SchedulerStopping
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	case SchedulerStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// SchedulerConfig configures a Scheduler
type SchedulerConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration
	Options     SnapshotOptions
	Logger      *logging.Logger
	Metrics     *Metrics
}

// SchedulerStatus is a point-in-time view of a Scheduler
type SchedulerStatus struct {
	State          SchedulerState `json:"-"`
	StateName      string         `json:"state"`
	Interval       time.Duration  `json:"interval"`
	Cycles         int            `json:"cycles"`
	Failures       int            `json:"failures"`
	LastRun        *time.Time     `json:"last_run,omitempty"`
	LastSuccess    *time.Time     `json:"last_success,omitempty"`
	NextRun        *time.Time     `json:"next_run,omitempty"`
	LastSnapshotID string         `json:"last_snapshot_id,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// loopRun tracks one Start..Stop lifetime of the background loop.
// abandoned and notifying are guarded by Scheduler.mu.
type loopRun struct {
	stop      chan struct{}
	done      chan struct{}
	abandoned bool
	notifying bool
}

// Scheduler runs CreateSnapshot on a fixed interval and reports each cycle
// to its observers. The first cycle runs as soon as the scheduler starts.
type Scheduler struct {
	creator SnapshotCreator
	config  SchedulerConfig
	logger  *logging.Logger

	mu        sync.Mutex
	state     SchedulerState
	run       *loopRun
	observers []Observer
	status    SchedulerStatus

	// cycleMu keeps RunNow and the loop from overlapping
	cycleMu sync.Mutex
}

// NewScheduler creates an idle scheduler
func NewScheduler(creator SnapshotCreator, config SchedulerConfig) *Scheduler {
	if config.GracePeriod <= 0 {
		config.GracePeriod = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Scheduler{
		creator: creator,
		config:  config,
		logger:  logger,
		state:   SchedulerIdle,
	}
}

// AddObserver registers o for cycle notifications
func (s *Scheduler) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start launches the background loop. Starting a scheduler that is not idle
// is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SchedulerIdle {
		return nil
	}
	if s.config.Interval <= 0 {
		return NewValidationError("scheduler interval must be positive", nil).
			WithContext("interval", s.config.Interval.String())
	}

	run := &loopRun{stop: make(chan struct{}), done: make(chan struct{})}
	s.run = run
	s.state = SchedulerRunning

	s.logger.WithFields(map[string]interface{}{
		"interval": s.config.Interval.String(),
	}).Info("Scheduler started")

	go s.loop(run)
	return nil
}

// Stop signals the loop and waits up to the grace period for an in-flight
// cycle. A cycle that outlives the grace period still finishes, but its
// outcome is no longer reported to observers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != SchedulerRunning {
		s.mu.Unlock()
		return
	}
	s.state = SchedulerStopping
	run := s.run
	close(run.stop)
	s.mu.Unlock()

	timer := time.NewTimer(s.config.GracePeriod)
	defer timer.Stop()

	select {
	case <-run.done:
		s.logger.Info("Scheduler stopped")
	case <-timer.C:
		s.mu.Lock()
		finishing := run.notifying
		if !finishing {
			run.abandoned = true
		}
		s.mu.Unlock()

		if finishing {
			// the cycle ended within the grace period and is notifying observers
			<-run.done
			s.logger.Info("Scheduler stopped")
		} else {
			s.logger.WithFields(map[string]interface{}{
				"grace_period": s.config.GracePeriod.String(),
			}).Warn("Scheduler stop timed out; in-flight cycle abandoned")
		}
	}

	s.mu.Lock()
	s.state = SchedulerIdle
	s.run = nil
	s.status.NextRun = nil
	s.mu.Unlock()
}

// RunNow runs one cycle synchronously, notifies observers and returns its
// outcome. It works whether or not the loop is running.
func (s *Scheduler) RunNow(ctx context.Context) (*SnapshotMetadata, error) {
	return s.cycle(ctx, nil)
}

// Status returns a snapshot of the scheduler's state
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.status
	status.State = s.state
	status.StateName = s.state.String()
	status.Interval = s.config.Interval
	return status
}

func (s *Scheduler) loop(run *loopRun) {
	defer close(run.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-run.stop:
			return
		case <-timer.C:
		}
		// a stop racing the timer wins
		select {
		case <-run.stop:
			return
		default:
		}

		// in-flight cycles are not cancelled by Stop
		_, _ = s.cycle(context.Background(), run)

		next := time.Now().Add(s.config.Interval)
		s.mu.Lock()
		if s.run == run {
			s.status.NextRun = &next
		}
		s.mu.Unlock()
		timer.Reset(s.config.Interval)
	}
}

func (s *Scheduler) cycle(ctx context.Context, run *loopRun) (*SnapshotMetadata, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	}
	start := time.Now()
	meta, err := s.createSafely(ctx)
	duration := time.Since(start)

	s.mu.Lock()
	s.status.Cycles++
	s.status.LastRun = &start
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	} else {
		end := start.Add(duration)
		s.status.LastError = ""
		s.status.LastSuccess = &end
		s.status.LastSnapshotID = meta.ID
	}
	cycleNo := s.status.Cycles
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	s.config.Metrics.RecordCycle(err == nil)
	snapshotID := ""
	if meta != nil {
		snapshotID = meta.ID
	}
	s.logger.LogSchedulerCycle(cycleNo, snapshotID, duration, err)
	cycleLog := s.logger.WithContext(ctx)
	if err != nil && IsPermanent(err) {
		cycleLog.WithFields(ErrorFields(err)).Warn("Snapshot cycle failed with a permanent error; later cycles will fail the same way until it is fixed")
	} else if err != nil && IsRetryable(err) {
		cycleLog.Debug("Snapshot cycle failed with a transient storage error; retrying next interval")
	}

	if run != nil {
		s.mu.Lock()
		abandoned := run.abandoned
		run.notifying = !abandoned
		s.mu.Unlock()
		if abandoned {
			return meta, err
		}
	}
	for _, o := range observers {
		s.notify(o, meta, err)
	}
	if run != nil {
		s.mu.Lock()
		run.notifying = false
		s.mu.Unlock()
	}
	return meta, err
}

func (s *Scheduler) createSafely(ctx context.Context) (meta *SnapshotMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			meta = nil
			err = fmt.Errorf("snapshot cycle panicked: %v", r)
		}
	}()
	return s.creator.CreateSnapshot(ctx, s.config.Options)
}

func (s *Scheduler) notify(o Observer, meta *SnapshotMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Observer panicked: %v", r)
		}
	}()
	if err != nil {
		o.OnError(err)
		return
	}
	o.OnBackupComplete(meta)
}
