package charger

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Controller applies modes to a Charger, skipping repeats of the last mode.
type Controller struct {
	mu         sync.Mutex
	charger    Charger
	mode       Mode
	limit      int
	onUSBPower func(on bool)
}

// NewController returns a controller that assumes the charger starts Off.
// charger may be nil, in which case modes are only recorded.
func NewController(c Charger) *Controller {
	return &Controller{charger: c}
}

// OnUSBPower registers the hook called with mode != Off after every mode
// change that reached the charger.
func (c *Controller) OnUSBPower(fn func(on bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUSBPower = fn
}

// SetMode applies m if it differs from the last requested mode. It reports
// whether the charger was called.
func (c *Controller) SetMode(m Mode) (bool, error) {
	c.mu.Lock()
	if m == c.mode {
		c.mu.Unlock()
		return false, nil
	}

	prev := c.mode
	// Remembered even without a charger, so a later one does not get a
	// duplicate.
	c.mode = m
	ch := c.charger
	hook := c.onUSBPower
	c.mu.Unlock()

	if ch == nil {
		return false, nil
	}

	if err := ch.SetMode(m); err != nil {
		c.mu.Lock()
		c.mode = prev
		c.mu.Unlock()
		return false, pkgerrors.Wrapf(err, "failed to set charger mode to %s", m)
	}

	logrus.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   m.String(),
	}).Info("charger mode changed")

	if hook != nil {
		hook(m != Off)
	}
	return true, nil
}

// SetChargingEnabled switches between Charge and Off.
func (c *Controller) SetChargingEnabled(enabled bool) (bool, error) {
	if enabled {
		return c.SetMode(Charge)
	}
	return c.SetMode(Off)
}

// SetVBusPower switches between Boost and Off.
func (c *Controller) SetVBusPower(on bool) (bool, error) {
	if on {
		return c.SetMode(Boost)
	}
	return c.SetMode(Off)
}

// SetCurrentLimit passes the input current limit to the charger.
func (c *Controller) SetCurrentLimit(milliamps int) error {
	if milliamps < 0 {
		return pkgerrors.Wrapf(ErrInvalidCurrentLimit, "%d mA", milliamps)
	}

	c.mu.Lock()
	ch := c.charger
	c.limit = milliamps
	c.mu.Unlock()

	if ch == nil {
		return nil
	}
	if err := ch.SetCurrentLimit(milliamps); err != nil {
		return pkgerrors.Wrapf(err, "failed to set current limit to %d mA", milliamps)
	}
	return nil
}

// Mode returns the last requested mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CurrentLimit returns the last requested current limit in mA.
func (c *Controller) CurrentLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}
