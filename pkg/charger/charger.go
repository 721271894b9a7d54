// Package charger drives the charging IC and decides whether the battery is
// healthy enough to charge.
package charger

import (
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Mode is the operating mode of a switching charger.
type Mode int

const (
	// Off disables both charging and boost.
	Off Mode = iota
	// Charge charges the battery from VBUS.
	Charge
	// Boost powers VBUS from the battery (USB host mode).
	Boost
)

var (
	// ErrInvalidMode is returned for unknown mode names.
	ErrInvalidMode = errors.New("invalid charger mode")
	// ErrInvalidCurrentLimit is returned for negative current limits.
	ErrInvalidCurrentLimit = errors.New("invalid current limit")
)

func (m Mode) String() string {
	switch m {
	case Charge:
		return "charge"
	case Boost:
		return "boost"
	default:
		return "off"
	}
}

// ParseMode parses "off", "charge" or "boost".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return Off, nil
	case "charge":
		return Charge, nil
	case "boost":
		return Boost, nil
	}
	return Off, pkgerrors.Wrapf(ErrInvalidMode, "unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Charger is the platform charging IC.
type Charger interface {
	SetMode(m Mode) error
	// SetCurrentLimit sets the input current limit in milliamps.
	SetCurrentLimit(milliamps int) error
}

// Logging is a Charger that only logs. It is used when the platform has
// no controllable charger.
type Logging struct{}

func (Logging) SetMode(m Mode) error {
	logrus.WithField("mode", m.String()).Info("charger mode set")
	return nil
}

func (Logging) SetCurrentLimit(milliamps int) error {
	logrus.WithField("milliamps", milliamps).Info("charger current limit set")
	return nil
}
