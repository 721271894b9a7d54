package capacity

import (
	"errors"
	"sort"

	pkgerrors "github.com/pkg/errors"
)

const (
	// Empty is the lowest capacity a mapper returns.
	Empty = 0
	// Full is the highest capacity a mapper returns.
	Full = 100
)

var (
	// ErrInvalidBounds is returned when the low/high voltage bounds cannot be used.
	ErrInvalidBounds = errors.New("invalid voltage bounds")
	// ErrInvalidTable is returned when a voltage to capacity table cannot be used.
	ErrInvalidTable = errors.New("invalid capacity table")
)

// Mapper turns a battery voltage in microvolts into a direct capacity percentage.
type Mapper interface {
	Capacity(microvolts int) int
}

// MapVoltageToCapacity maps a voltage linearly between lowUV (0%) and highUV (100%).
// The result is truncated toward zero, so a reading between two percentages
// is always displayed as the lower one.
func MapVoltageToCapacity(microvolts, lowUV, highUV int) int {
	if microvolts <= lowUV {
		return Empty
	}
	if microvolts >= highUV {
		return Full
	}

	// int64 keeps (v-low)*100 safe for µV inputs on 32-bit platforms.
	return int(int64(microvolts-lowUV) * Full / int64(highUV-lowUV))
}

// Linear is a Mapper that interpolates between two voltage bounds.
type Linear struct {
	LowUV  int `json:"lowMicrovolts" yaml:"lowMicrovolts"`
	HighUV int `json:"highMicrovolts" yaml:"highMicrovolts"`
}

// NewLinear returns a Linear mapper after checking that low < high.
func NewLinear(lowUV, highUV int) (Linear, error) {
	if lowUV < 0 || highUV <= lowUV {
		return Linear{}, pkgerrors.Wrapf(ErrInvalidBounds, "low %d uV must be below high %d uV", lowUV, highUV)
	}
	return Linear{LowUV: lowUV, HighUV: highUV}, nil
}

func (l Linear) Capacity(microvolts int) int {
	return MapVoltageToCapacity(microvolts, l.LowUV, l.HighUV)
}

// Point is one entry of a discharge or charge curve.
type Point struct {
	Capacity   int `json:"capacity" yaml:"capacity"`
	MicroVolts int `json:"microvolts" yaml:"microvolts"`
}

// Table is a piecewise linear voltage to capacity curve. Points are kept
// sorted by descending capacity.
type Table struct {
	points []Point
}

// NewTable validates and sorts points. Capacities must be within [0,100],
// voltages must be positive and no two points may share a voltage or capacity.
// Higher capacities must map to higher voltages.
func NewTable(points []Point) (*Table, error) {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Capacity > sorted[j].Capacity
	})

	for i, p := range sorted {
		if p.Capacity < Empty || p.Capacity > Full {
			return nil, pkgerrors.Wrapf(ErrInvalidTable, "capacity %d out of range", p.Capacity)
		}
		if p.MicroVolts <= 0 {
			return nil, pkgerrors.Wrapf(ErrInvalidTable, "voltage %d uV for capacity %d is not positive", p.MicroVolts, p.Capacity)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.Capacity == p.Capacity {
			return nil, pkgerrors.Wrapf(ErrInvalidTable, "duplicate capacity %d", p.Capacity)
		}
		if prev.MicroVolts <= p.MicroVolts {
			return nil, pkgerrors.Wrapf(ErrInvalidTable, "voltage must fall with capacity: %d%% at %d uV, %d%% at %d uV",
				prev.Capacity, prev.MicroVolts, p.Capacity, p.MicroVolts)
		}
	}

	return &Table{points: sorted}, nil
}

// TableFromLinear builds the two point table equivalent to a Linear mapper.
func TableFromLinear(l Linear) (*Table, error) {
	return NewTable([]Point{
		{Capacity: Full, MicroVolts: l.HighUV},
		{Capacity: Empty, MicroVolts: l.LowUV},
	})
}

// Points returns a copy of the table points, highest capacity first.
func (t *Table) Points() []Point {
	if t == nil {
		return nil
	}
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Capacity interpolates within the bracketing pair of points. Voltages
// outside the table clamp to the nearest end point. An empty table reads 0.
func (t *Table) Capacity(microvolts int) int {
	if t == nil || len(t.points) == 0 {
		return Empty
	}

	top := t.points[0]
	if microvolts >= top.MicroVolts {
		return top.Capacity
	}
	bottom := t.points[len(t.points)-1]
	if microvolts <= bottom.MicroVolts {
		return bottom.Capacity
	}

	for i := 1; i < len(t.points); i++ {
		hi := t.points[i-1]
		lo := t.points[i]
		if microvolts < lo.MicroVolts {
			continue
		}
		if microvolts == lo.MicroVolts {
			return lo.Capacity
		}
		span := int64(hi.MicroVolts - lo.MicroVolts)
		return lo.Capacity + int(int64(microvolts-lo.MicroVolts)*int64(hi.Capacity-lo.Capacity)/span)
	}

	return bottom.Capacity
}

// Curves selects between a discharge and a charge curve, since a battery
// under charge reads higher than its resting voltage.
type Curves struct {
	Discharge Mapper
	Charge    Mapper
}

// For returns the mapper to use for the given charging state. A missing
// curve falls back to the other one.
func (c Curves) For(charging bool) Mapper {
	if charging && c.Charge != nil {
		return c.Charge
	}
	if c.Discharge != nil {
		return c.Discharge
	}
	return c.Charge
}

// Capacity maps a voltage using the curve for the given charging state.
func (c Curves) Capacity(microvolts int, charging bool) int {
	m := c.For(charging)
	if m == nil {
		return Empty
	}
	return clamp(m.Capacity(microvolts))
}

func clamp(v int) int {
	if v < Empty {
		return Empty
	}
	if v > Full {
		return Full
	}
	return v
}
