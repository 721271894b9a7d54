package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/distatus/battery"
)

// PowerSupply reads the voltage of one battery through the OS battery API.
type PowerSupply struct {
	index int
	get   func(idx int) (*battery.Battery, error)
}

// NewPowerSupply returns a reader for the battery at index (0 for the first).
func NewPowerSupply(index int) *PowerSupply {
	return &PowerSupply{index: index, get: battery.Get}
}

func (p *PowerSupply) Name() string {
	return fmt.Sprintf("power-supply/%d", p.index)
}

func (p *PowerSupply) ReadVoltage(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fetchError("read voltage", err)
	}

	bat, err := p.get(p.index)
	if err != nil {
		// Other fields may fail on some platforms; only voltage matters here.
		var partial battery.ErrPartial
		if !errors.As(err, &partial) || partial.Voltage != nil || bat == nil {
			return 0, fetchError("read voltage", err)
		}
	}
	if bat.Voltage <= 0 {
		return 0, &FetchError{Op: "read voltage", Err: errors.New("battery reported no voltage")}
	}

	// Volts to microvolts.
	return int(bat.Voltage*1e6 + 0.5), nil
}

func (p *PowerSupply) ReadTemperature(context.Context) (int, error) {
	return 0, ErrTemperatureUnsupported
}
