// Package source reads raw battery measurements from the platform.
//
// Voltages are in microvolts and temperatures in tenths of a degree Celsius.
// Readers can be wrapped with WithTimeout, Cached and WithBreaker; the gauge
// uses all three in that order from the inside out.
package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFetchTimeout is returned when a reading did not arrive in time.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrFetchError is returned when the platform reported a failure.
	ErrFetchError = errors.New("fetch failed")
	// ErrTemperatureUnsupported is returned by sources without a thermistor.
	ErrTemperatureUnsupported = errors.New("temperature not supported by source")
)

// VoltageSource reads the battery voltage in microvolts.
type VoltageSource interface {
	ReadVoltage(ctx context.Context) (int, error)
}

// TemperatureSource reads the battery temperature in decidegrees Celsius.
type TemperatureSource interface {
	ReadTemperature(ctx context.Context) (int, error)
}

// Source is a platform reader that can provide both measurements. A reader
// without a thermistor returns ErrTemperatureUnsupported.
type Source interface {
	VoltageSource
	TemperatureSource
	// Name identifies the reader in logs and status output.
	Name() string
}

// FetchError describes a failed reading. It matches ErrFetchError, and
// ErrFetchTimeout too when Timeout is set.
type FetchError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *FetchError) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timed out"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s", e.Op, kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrFetchError:
		return true
	case ErrFetchTimeout:
		return e.Timeout
	}
	return false
}

func fetchError(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, ErrTemperatureUnsupported) {
		return err
	}
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrFetchTimeout)
	return &FetchError{Op: op, Timeout: timeout, Err: err}
}

// Kind classifies err for metrics labels: "timeout", "error", "unsupported"
// or "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTemperatureUnsupported):
		return "unsupported"
	case errors.Is(err, ErrFetchTimeout):
		return "timeout"
	default:
		return "error"
	}
}
