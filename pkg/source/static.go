package source

import (
	"context"
	"sync"
)

// Static returns fixed readings. It backs dry runs and tests; values can be
// changed at runtime.
type Static struct {
	mu          sync.Mutex
	voltage     int
	temperature *int
	err         error
	reads       int
}

// NewStatic returns a source reporting microvolts. Temperature is
// unsupported until SetTemperature is called.
func NewStatic(microvolts int) *Static {
	return &Static{voltage: microvolts}
}

func (s *Static) Name() string {
	return "static"
}

func (s *Static) ReadVoltage(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.err != nil {
		return 0, fetchError("read voltage", s.err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fetchError("read voltage", err)
	}
	return s.voltage, nil
}

func (s *Static) ReadTemperature(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.temperature == nil {
		return 0, ErrTemperatureUnsupported
	}
	if s.err != nil {
		return 0, fetchError("read temperature", s.err)
	}
	return *s.temperature, nil
}

func (s *Static) SetVoltage(microvolts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voltage = microvolts
}

func (s *Static) SetTemperature(decidegrees int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = &decidegrees
}

// SetError makes every read fail with err until it is cleared with nil.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Reads returns how many voltage reads were attempted.
func (s *Static) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
