package charger

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Health of the battery as far as temperature is concerned.
type Health int

const (
	Good Health = iota
	Overheat
	Cold
)

func (h Health) String() string {
	switch h {
	case Overheat:
		return "overheat"
	case Cold:
		return "cold"
	default:
		return "good"
	}
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Thresholds are in tenths of a degree Celsius.
type Thresholds struct {
	High         int `json:"high" yaml:"high"`
	HighRecovery int `json:"highRecovery" yaml:"highRecovery"`
	LowRecovery  int `json:"lowRecovery" yaml:"lowRecovery"`
	Low          int `json:"low" yaml:"low"`
}

// DefaultThresholds stop charging above 45°C until 40°C and below 0°C until 5°C.
var DefaultThresholds = Thresholds{
	High:         450,
	HighRecovery: 400,
	LowRecovery:  50,
	Low:          0,
}

// HealthMonitor tracks Health with hysteresis.
type HealthMonitor struct {
	mu     sync.Mutex
	t      Thresholds
	health Health
}

func NewHealthMonitor(t Thresholds) *HealthMonitor {
	return &HealthMonitor{t: t}
}

// Update feeds a temperature reading and returns the resulting health.
// Leaving Overheat or Cold requires crossing the recovery threshold.
func (m *HealthMonitor) Update(decidegrees int) Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.health
	switch {
	case decidegrees >= m.t.High:
		m.health = Overheat
	case decidegrees <= m.t.Low:
		m.health = Cold
	case m.health == Overheat && decidegrees <= m.t.HighRecovery:
		m.health = Good
	case m.health == Cold && decidegrees >= m.t.LowRecovery:
		m.health = Good
	}

	if prev != m.health {
		logrus.WithFields(logrus.Fields{
			"temperature": decidegrees,
			"from":        prev.String(),
			"to":          m.health.String(),
		}).Warn("battery health changed")
	}
	return m.health
}

// Health returns the last evaluated health.
func (m *HealthMonitor) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// SetThresholds replaces the thresholds; the current health is kept.
func (m *HealthMonitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}
