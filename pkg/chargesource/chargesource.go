package chargesource

import (
	"errors"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Source is where charging current currently comes from.
type Source int

const (
	None Source = iota
	USB
	AC
)

// ErrInvalidSource is returned when a charge source name cannot be parsed.
var ErrInvalidSource = errors.New("invalid charge source")

func (s Source) String() string {
	switch s {
	case USB:
		return "usb"
	case AC:
		return "ac"
	default:
		return "none"
	}
}

// ParseSource parses "none", "usb" or "ac", case insensitive.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return None, nil
	case "usb":
		return USB, nil
	case "ac":
		return AC, nil
	}
	return None, pkgerrors.Wrapf(ErrInvalidSource, "unknown charge source %q", name)
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ChargerType is the raw charger classification reported by the USB PHY.
type ChargerType int

const (
	Invalid ChargerType = iota
	SDP
	CDP
	DCP
	Carkit
	WallCharger
	Unknown
)

var chargerTypeNames = map[ChargerType]string{
	Invalid:     "invalid",
	SDP:         "sdp",
	CDP:         "cdp",
	DCP:         "dcp",
	Carkit:      "carkit",
	WallCharger: "wall",
	Unknown:     "unknown",
}

func (t ChargerType) String() string {
	if n, ok := chargerTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseChargerType parses a charger type name. Unrecognized names map to
// Unknown rather than failing, since the result is only ever fed to SourceFor.
func ParseChargerType(name string) ChargerType {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range chargerTypeNames {
		if n == name {
			return t
		}
	}
	return Unknown
}

// SourceFor maps a charger type to the source it draws from.
func SourceFor(t ChargerType) Source {
	switch t {
	case SDP, Carkit, CDP:
		return USB
	case WallCharger, DCP:
		return AC
	default:
		return None
	}
}

// Tracker remembers the current charge source and calls back on edges only.
type Tracker struct {
	mu       sync.Mutex
	current  Source
	onChange func(Source)
}

// NewTracker returns a tracker starting at None. onChange may be nil.
func NewTracker(onChange func(Source)) *Tracker {
	return &Tracker{onChange: onChange}
}

// OnChange replaces the change callback.
func (t *Tracker) OnChange(fn func(Source)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Report records a charger type notification. See Set.
func (t *Tracker) Report(ct ChargerType) bool {
	return t.Set(SourceFor(ct))
}

// Set records the charge source. If it differs from the stored one, the
// callback runs synchronously with the new value and Set returns true.
// The tracker lock is not held while the callback runs.
func (t *Tracker) Set(s Source) bool {
	t.mu.Lock()
	if s == t.current {
		t.mu.Unlock()
		return false
	}
	prev := t.current
	t.current = s
	fn := t.onChange
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   s.String(),
	}).Info("charge source changed")

	if fn != nil {
		fn(s)
	}
	return true
}

// Current returns the stored charge source.
func (t *Tracker) Current() Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Charging reports whether any charge source is connected.
func (t *Tracker) Charging() bool {
	return t.Current() != None
}
