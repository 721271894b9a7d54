package consumer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// Consumer is a subsystem whose load changes the battery voltage enough to
// matter for capacity estimation.
type Consumer int

const (
	Display Consumer = iota
	FrontCamera
	BackCamera
	Camera
	WiFi
	Bluetooth
	FM
	ADSP
	CameraFlash
	Keypad
	Vibrator
	GSM850
	GSM1800
	WCDMA
	CDMA1x
	Speaker
	CPU
	GPS
	USBCharger

	count
)

// ErrInvalidConsumer is returned for consumer identifiers outside the known range.
var ErrInvalidConsumer = errors.New("invalid consumer")

var names = [count]string{
	Display:     "display",
	FrontCamera: "front-camera",
	BackCamera:  "back-camera",
	Camera:      "camera",
	WiFi:        "wifi",
	Bluetooth:   "bluetooth",
	FM:          "fm",
	ADSP:        "adsp",
	CameraFlash: "camera-flash",
	Keypad:      "keypad",
	Vibrator:    "vibrator",
	GSM850:      "gsm850",
	GSM1800:     "gsm1800",
	WCDMA:       "wcdma",
	CDMA1x:      "cdma1x",
	Speaker:     "speaker",
	CPU:         "cpu",
	GPS:         "gps",
	USBCharger:  "usb-charger",
}

// DefaultSensitive are the consumers that make direct readings too noisy to
// follow closely while they are active.
var DefaultSensitive = []Consumer{Display, USBCharger}

// Valid reports whether c is a known consumer.
func (c Consumer) Valid() bool {
	return c >= 0 && c < count
}

func (c Consumer) String() string {
	if !c.Valid() {
		return fmt.Sprintf("consumer(%d)", int(c))
	}
	return names[c]
}

// Parse looks up a consumer by name, case insensitive.
func Parse(name string) (Consumer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range names {
		if n == name {
			return Consumer(i), nil
		}
	}
	return 0, pkgerrors.Wrapf(ErrInvalidConsumer, "unknown consumer %q", name)
}

// Names returns all consumer names in declaration order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names[:])
	return out
}

// Registry tracks which consumers are active.
type Registry struct {
	mu        sync.RWMutex
	active    [count]bool
	sensitive [count]bool
}

// NewRegistry returns a registry where the given consumers decide Tracking.
// With no arguments DefaultSensitive is used.
func NewRegistry(sensitive ...Consumer) (*Registry, error) {
	if len(sensitive) == 0 {
		sensitive = DefaultSensitive
	}
	r := &Registry{}
	for _, c := range sensitive {
		if !c.Valid() {
			return nil, pkgerrors.Wrapf(ErrInvalidConsumer, "sensitive consumer %d", int(c))
		}
		r.sensitive[c] = true
	}
	return r, nil
}

// Notify records a consumer turning on or off. An invalid consumer is
// rejected and leaves the registry unchanged.
func (r *Registry) Notify(c Consumer, on bool) (changed bool, err error) {
	if !c.Valid() {
		return false, pkgerrors.Wrapf(ErrInvalidConsumer, "consumer %d", int(c))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changed = r.active[c] != on
	r.active[c] = on
	return changed, nil
}

// IsActive reports whether c is on. Invalid consumers are never active.
func (r *Registry) IsActive(c Consumer) bool {
	if !c.Valid() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[c]
}

// Tracking reports whether any load sensitive consumer is on, in which
// case capacity should integrate deltas instead of following direct readings.
func (r *Registry) Tracking() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.active {
		if r.active[c] && r.sensitive[c] {
			return true
		}
	}
	return false
}

// Active returns the names of all active consumers, sorted.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for c, on := range r.active {
		if on {
			out = append(out, Consumer(c).String())
		}
	}
	sort.Strings(out)
	return out
}
