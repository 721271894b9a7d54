package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	// DefaultINA219Address is the sensor address with A0 and A1 grounded.
	DefaultINA219Address uint16 = 0x40

	ina219RegBusVoltage byte = 0x02

	// Bus voltage LSB is 4 mV; the low three bits are status flags.
	ina219BusVoltageLSB = 4000
	ina219FlagOverflow  = 0x01
)

// INA219 reads the battery voltage from a TI INA219 power monitor on I2C.
type INA219 struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	closer func() error
}

// NewINA219 uses an already opened bus.
func NewINA219(bus i2c.Bus, addr uint16) *INA219 {
	if addr == 0 {
		addr = DefaultINA219Address
	}
	return &INA219{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// OpenINA219 initializes the host drivers and opens the named bus. An empty
// name picks the first bus.
func OpenINA219(busName string, addr uint16) (*INA219, error) {
	if _, err := host.Init(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to initialize periph host")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open i2c bus %q", busName)
	}

	s := NewINA219(bus, addr)
	s.closer = bus.Close
	return s, nil
}

func (s *INA219) Name() string {
	return fmt.Sprintf("ina219/%#x", s.dev.Addr)
}

// Close releases the bus if OpenINA219 opened it.
func (s *INA219) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *INA219) ReadVoltage(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fetchError("read voltage", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 2)
	if err := s.dev.Tx([]byte{ina219RegBusVoltage}, buf); err != nil {
		return 0, fetchError("read voltage", err)
	}

	raw := uint16(buf[0])<<8 | uint16(buf[1])
	if raw&ina219FlagOverflow != 0 {
		return 0, &FetchError{Op: "read voltage", Err: errors.New("ina219 math overflow")}
	}
	return int(raw>>3) * ina219BusVoltageLSB, nil
}

func (s *INA219) ReadTemperature(context.Context) (int, error) {
	return 0, ErrTemperatureUnsupported
}
