package estimator

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/voltgauge/pkg/capacity"
)

// Sample is one direct capacity reading taken by a poll.
type Sample struct {
	Direct    int       `json:"direct"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a copy of the estimator fields, safe to hand out.
type State struct {
	// Stable is the published capacity.
	Stable int `json:"stable"`
	// Relative integrates direct deltas between polls.
	Relative int `json:"relative"`
	// LastDirect is the direct capacity seen by the previous update.
	LastDirect int `json:"lastDirect"`
	// Unreliable skips relative tracking for the next update only.
	Unreliable bool `json:"unreliable"`
	// UseRelative keeps the integrated value instead of snapping to direct.
	UseRelative bool `json:"useRelative"`
	Charging    bool `json:"charging"`
	Seeded      bool `json:"seeded"`

	LastUpdate     time.Time `json:"lastUpdate"`
	LastFailure    time.Time `json:"lastFailure,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	FailureCount   int       `json:"failureCount"`
	DiffRelative   int       `json:"diffRelative"`
	LastDiffDirect int       `json:"lastDiffDirect"`
}

// Estimator owns the smoothing state for one battery. All mutations go
// through a single mutex, so a caller that finds an update in flight waits
// for it to finish.
type Estimator struct {
	mu    sync.Mutex
	state State
	now   func() time.Time

	lastLogged State
	lastLogAt  time.Time
}

// New returns an estimator that seeds itself from its first update.
func New() *Estimator {
	return NewWithClock(time.Now)
}

// NewWithClock is New with a custom time source.
func NewWithClock(now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{now: now}
}

// Update feeds one direct capacity reading and returns the stable capacity.
// Stable moves by at most one unit per call, and only in the direction
// allowed by the charging flag.
func (e *Estimator) Update(direct int, charging bool) int {
	_, next := e.Step(direct, charging)
	return next.Stable
}

// Step is Update returning the state before and after the reading. Both
// copies are taken under the same lock as the update itself.
func (e *Estimator) Step(direct int, charging bool) (prev, next State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev = e.state
	e.update(direct, charging)
	return prev, e.state
}

func (e *Estimator) update(direct int, charging bool) {
	direct = clamp(direct)
	s := &e.state
	s.Charging = charging

	if !s.Seeded {
		s.Stable = direct
		s.Relative = direct
		s.LastDirect = direct
		s.Seeded = true
		s.Unreliable = false
		s.DiffRelative = 0
		s.LastDiffDirect = 0
		s.LastUpdate = e.now()
		e.logUpdate(direct)
		return
	}

	diffDirect := 0
	if !s.Unreliable {
		diffDirect = direct - s.LastDirect
		s.Relative += diffDirect

		if !s.UseRelative {
			s.Relative = direct
		}
	}

	// A literal full or empty reading always wins over accumulated drift.
	if s.Relative > capacity.Full || direct == capacity.Full {
		s.Relative = capacity.Full
	} else if s.Relative < capacity.Empty || direct == capacity.Empty {
		s.Relative = capacity.Empty
	}

	diffRelative := s.Relative - s.Stable
	if diffRelative < 0 && !charging && direct < s.Stable {
		s.Stable--
	} else if diffRelative > 0 && charging && direct > s.Stable {
		s.Stable++
	}
	s.Stable = clamp(s.Stable)

	e.logUpdate(direct)

	s.LastDirect = direct
	s.LastDiffDirect = diffDirect
	s.DiffRelative = diffRelative
	s.Unreliable = false
	s.LastUpdate = e.now()
}

// Fail records a failed reading. The smoothing state is left untouched and
// the current stable capacity is returned.
func (e *Estimator) Fail(err error) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.FailureCount++
	e.state.LastFailure = e.now()
	if err != nil {
		e.state.LastError = err.Error()
	}

	logrus.WithFields(logrus.Fields{
		"stable":   e.state.Stable,
		"failures": e.state.FailureCount,
	}).WithError(err).Warn("capacity update skipped")

	return e.state.Stable
}

// MarkUnreliable makes the next update skip relative tracking. It also
// decides whether later updates integrate deltas (useRelative) or snap to
// the direct reading.
func (e *Estimator) MarkUnreliable(useRelative bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Unreliable = true
	e.state.UseRelative = useRelative

	logrus.WithFields(logrus.Fields{
		"useRelative": useRelative,
	}).Debug("next capacity reading marked unreliable")
}

// SetUseRelative switches between integrating deltas and tracking the
// direct reading without touching the unreliable flag.
func (e *Estimator) SetUseRelative(useRelative bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.UseRelative = useRelative
}

// SetCharging records the charging flag used by Charging.
func (e *Estimator) SetCharging(charging bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Charging = charging
}

// Charging returns the last known charging flag.
func (e *Estimator) Charging() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Charging
}

// Stable returns the published capacity without updating.
func (e *Estimator) Stable() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Stable
}

// Seeded reports whether the first reading has been taken.
func (e *Estimator) Seeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Seeded
}

// Unreliable reports whether the next update will skip relative tracking.
func (e *Estimator) Unreliable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Unreliable
}

// Snapshot returns a copy of the current state.
func (e *Estimator) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SinceLastUpdate returns how long ago the last successful update ran.
// It returns a very large duration before the first update.
func (e *Estimator) SinceLastUpdate() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.LastUpdate.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return e.now().Sub(e.state.LastUpdate)
}

// Reset forgets everything; the next update seeds again.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = State{}
	e.lastLogged = State{}
}

func (e *Estimator) logUpdate(direct int) {
	s := e.state
	fields := logrus.Fields{
		"stable":      s.Stable,
		"relative":    s.Relative,
		"lastDirect":  s.LastDirect,
		"direct":      direct,
		"unreliable":  s.Unreliable,
		"useRelative": s.UseRelative,
		"charging":    s.Charging,
	}

	now := e.now()
	defer func() { e.lastLogAt = now }()

	// Identical consecutive updates only show up at trace level.
	cmp := s
	cmp.LastUpdate = time.Time{}
	if now.Sub(e.lastLogAt) < 10*time.Minute && cmp.Stable == e.lastLogged.Stable &&
		cmp.Relative == e.lastLogged.Relative && direct == e.lastLogged.LastDirect &&
		cmp.Charging == e.lastLogged.Charging {
		logrus.WithFields(fields).Trace("capacity updated")
		return
	}

	logrus.WithFields(fields).Debug("capacity updated")
	e.lastLogged = cmp
	e.lastLogged.LastDirect = direct
}

func clamp(v int) int {
	if v < capacity.Empty {
		return capacity.Empty
	}
	if v > capacity.Full {
		return capacity.Full
	}
	return v
}
