package source

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes WithBreaker. Zero values pick the defaults.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker. Default 3.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Default 30s.
	OpenTimeout time.Duration
}

type breakerSource struct {
	inner       Source
	voltage     *gobreaker.CircuitBreaker
	temperature *gobreaker.CircuitBreaker
}

// WithBreaker stops hammering a dead fuel gauge: after a run of failures,
// reads fail fast with ErrFetchError until the open timeout passes.
// Voltage and temperature trip independently, so a broken thermistor never
// blocks voltage reads. ErrTemperatureUnsupported does not count as a
// failure.
func WithBreaker(src Source, s BreakerSettings) Source {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	return &breakerSource{
		inner:       src,
		voltage:     newBreaker(src.Name()+"/voltage", s),
		temperature: newBreaker(src.Name()+"/temperature", s),
	}
}

func newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	threshold := s.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrTemperatureUnsupported)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("source circuit breaker changed state")
		},
	})
}

func (b *breakerSource) Name() string {
	return b.inner.Name()
}

func (b *breakerSource) ReadVoltage(ctx context.Context) (int, error) {
	return b.do(ctx, b.voltage, "read voltage", b.inner.ReadVoltage)
}

func (b *breakerSource) ReadTemperature(ctx context.Context) (int, error) {
	return b.do(ctx, b.temperature, "read temperature", b.inner.ReadTemperature)
}

func (b *breakerSource) do(ctx context.Context, cb *gobreaker.CircuitBreaker, op string, read func(context.Context) (int, error)) (int, error) {
	v, err := cb.Execute(func() (interface{}, error) {
		return read(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, &FetchError{Op: op, Err: err}
		}
		return 0, fetchError(op, err)
	}
	return v.(int), nil
}

// BreakerState returns the state of the voltage breaker of src, or "" when
// src has none.
func BreakerState(src Source) string {
	if b, ok := src.(*breakerSource); ok {
		return b.voltage.State().String()
	}
	return ""
}
