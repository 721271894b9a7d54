package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultPollPeriod       = 60 * time.Second
	defaultUnreliablePeriod = 90 * time.Second
)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Poller runs Task every period. After Reschedule, the next run is one
// recovery period away; the run after that is back on the base period.
type Poller struct {
	OnError NotifyFunc // called on task error
	Task    TaskFunc   // task callback

	mu       sync.Mutex
	period   time.Duration
	recovery time.Duration
	nextRun  time.Time
	lastRun  time.Time
	running  bool

	now       func() time.Time
	controlCh chan controlMsg
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // nextRun changed, rearm the timer
	ctrlRunNow                         // run the task right away
)

func (k controlKind) String() string {
	switch k {
	case ctrlRecalculate:
		return "recalculate"
	case ctrlRunNow:
		return "run-now"
	}
	return fmt.Sprintf("controlKind(%d)", int(k))
}

type controlMsg struct {
	kind controlKind
}

func NewPoller(task TaskFunc, onError NotifyFunc, period, recovery time.Duration) *Poller {
	if task == nil {
		panic("task function cannot be nil")
	}
	if period <= 0 {
		period = defaultPollPeriod
	}
	if recovery <= 0 {
		recovery = defaultUnreliablePeriod
	}

	return &Poller{
		OnError:   onError,
		Task:      task,
		period:    period,
		recovery:  recovery,
		now:       time.Now,
		controlCh: make(chan controlMsg, 4),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the poll loop. The first poll runs immediately unless a
// next run was already planned.
func (s *Poller) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	select {
	case <-s.stopCh:
		return
	default:
	}

	if s.nextRun.IsZero() {
		s.nextRun = s.now()
	}
	s.running = true
	go s.loop()
}

// Stop ends the loop. A poll already in progress is allowed to finish.
func (s *Poller) Stop() {
	s.mu.Lock()
	running := s.running
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()

	if running {
		<-s.doneCh
	}
}

// Reschedule cancels the pending run and plans the next one a recovery
// period from now.
func (s *Poller) Reschedule() {
	s.mu.Lock()
	s.nextRun = s.now().Add(s.recovery)
	next := s.nextRun
	s.mu.Unlock()

	logrus.WithField("nextRun", next.Format(time.DateTime)).Debug("poll rescheduled for recovery")
	s.trySendControl(ctrlRecalculate)
}

// RunNow asks the loop to poll as soon as possible.
func (s *Poller) RunNow() {
	s.trySendControl(ctrlRunNow)
}

// SetPeriods changes the base and recovery periods. The pending run is
// moved to one base period after the last run.
func (s *Poller) SetPeriods(period, recovery time.Duration) {
	if period <= 0 || recovery <= 0 {
		return
	}

	s.mu.Lock()
	changed := s.period != period
	s.period = period
	s.recovery = recovery
	if changed && !s.lastRun.IsZero() {
		s.nextRun = s.lastRun.Add(period)
	}
	s.mu.Unlock()

	if changed {
		s.trySendControl(ctrlRecalculate)
	}
}

func (s *Poller) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

// Period returns the base poll period.
func (s *Poller) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// RecoveryPeriod returns the delay used after Reschedule.
func (s *Poller) RecoveryPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovery
}

func (s *Poller) loop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
		logrus.Debug("poller stopped")
	}()

	logrus.Debug("poller started")

	for {
		planned := s.snapshot()
		wait := planned.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.run(planned)
		case <-s.stopCh:
			timer.Stop()
			return
		case msg := <-s.controlCh:
			timer.Stop()
			logrus.WithField("kind", msg.kind.String()).Trace("received control msg")
			if msg.kind == ctrlRunNow {
				s.run(s.snapshot())
			}
		}
	}
}

func (s *Poller) run(planned time.Time) {
	start := s.now()
	logrus.WithField("planned", planned.Format(time.DateTime)).Trace("running poll")

	if err := s.Task(); err != nil {
		s.sendError(fmt.Errorf("poll failed: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = start
	// A Reschedule during the run already picked the next time.
	if s.nextRun.Equal(planned) {
		s.nextRun = s.now().Add(s.period)
	}
}

func (s *Poller) snapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Poller) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Poller) trySendControl(kind controlKind) {
	select {
	case s.controlCh <- controlMsg{kind: kind}:
	default:
	}
}
