package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

type slowSource struct {
	Static
	delay time.Duration
}

func (s *slowSource) ReadVoltage(ctx context.Context) (int, error) {
	time.Sleep(s.delay)
	return 3800000, nil
}

func TestFetchErrorMatching(t *testing.T) {
	err := fetchError("read voltage", errors.New("rpc failed"))
	assert.True(t, errors.Is(err, ErrFetchError))
	assert.False(t, errors.Is(err, ErrFetchTimeout))
	assert.Equal(t, "error", Kind(err))

	err = fetchError("read voltage", context.DeadlineExceeded)
	assert.True(t, errors.Is(err, ErrFetchError))
	assert.True(t, errors.Is(err, ErrFetchTimeout))
	assert.Equal(t, "timeout", Kind(err))

	assert.Nil(t, fetchError("read voltage", nil))
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "unsupported", Kind(fetchError("read temperature", ErrTemperatureUnsupported)))
}

func TestWithTimeout(t *testing.T) {
	src := WithTimeout(&slowSource{delay: 200 * time.Millisecond}, 20*time.Millisecond)

	start := time.Now()
	_, err := src.ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	fast := WithTimeout(NewStatic(4000000), 0)
	v, err := fast.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4000000, v)
}

func TestWithTimeoutPassesErrors(t *testing.T) {
	s := NewStatic(0)
	s.SetError(errors.New("gauge offline"))

	_, err := WithTimeout(s, time.Second).ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError))
	assert.False(t, errors.Is(err, ErrFetchTimeout))

	_, err = WithTimeout(NewStatic(0), time.Second).ReadTemperature(context.Background())
	assert.True(t, errors.Is(err, ErrTemperatureUnsupported))
}

func TestCachedReusesFreshReply(t *testing.T) {
	s := NewStatic(3700000)
	c := Cached(s, 5*time.Second)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	v, err := c.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3700000, v)
	assert.Equal(t, now, c.FetchedAt())

	s.SetVoltage(3600000)
	now = now.Add(4 * time.Second)
	v, _ = c.ReadVoltage(context.Background())
	assert.Equal(t, 3700000, v, "reply is still fresh")
	assert.Equal(t, 1, s.Reads())

	now = now.Add(time.Second)
	v, _ = c.ReadVoltage(context.Background())
	assert.Equal(t, 3600000, v, "reply went stale")
	assert.Equal(t, 2, s.Reads())

	c.Invalidate()
	s.SetVoltage(3500000)
	v, _ = c.ReadVoltage(context.Background())
	assert.Equal(t, 3500000, v)
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	s := NewStatic(3700000)
	c := Cached(s, time.Minute)

	s.SetError(errors.New("boom"))
	_, err := c.ReadVoltage(context.Background())
	require.Error(t, err)

	s.SetError(nil)
	v, err := c.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3700000, v)
	assert.Equal(t, 2, s.Reads())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	s := NewStatic(3700000)
	s.SetError(errors.New("i2c nack"))
	b := WithBreaker(s, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		_, err := b.ReadVoltage(context.Background())
		assert.True(t, errors.Is(err, ErrFetchError))
	}
	assert.Equal(t, "open", BreakerState(b))

	s.SetError(nil)
	_, err := b.ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError), "open breaker fails fast")
	assert.Equal(t, 2, s.Reads())

	assert.Equal(t, "", BreakerState(s))
}

func TestBreakerIgnoresUnsupportedTemperature(t *testing.T) {
	b := WithBreaker(NewStatic(3700000), BreakerSettings{ConsecutiveFailures: 1})
	for i := 0; i < 3; i++ {
		_, err := b.ReadTemperature(context.Background())
		assert.True(t, errors.Is(err, ErrTemperatureUnsupported))
	}
	assert.Equal(t, "closed", BreakerState(b))
}

// thermistorFault reads voltage fine but fails every temperature read.
type thermistorFault struct {
	microvolts int
}

func (f *thermistorFault) Name() string { return "thermistor-fault" }

func (f *thermistorFault) ReadVoltage(context.Context) (int, error) { return f.microvolts, nil }

func (f *thermistorFault) ReadTemperature(context.Context) (int, error) {
	return 0, fetchError("read temperature", errors.New("adc open circuit"))
}

func TestBreakerTemperatureFailuresKeepVoltageFlowing(t *testing.T) {
	b := WithBreaker(&thermistorFault{microvolts: 3800000}, BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Hour})

	for i := 0; i < 5; i++ {
		_, err := b.ReadTemperature(context.Background())
		assert.True(t, errors.Is(err, ErrFetchError))
	}

	v, err := b.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3800000, v)
	assert.Equal(t, "closed", BreakerState(b))
}

func TestSysfs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "battery")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "voltage_now"), []byte("3912000\n"), 0o644))

	s := NewSysfs(root, "battery")
	assert.Equal(t, "sysfs/battery", s.Name())

	v, err := s.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3912000, v)

	_, err = s.ReadTemperature(context.Background())
	assert.True(t, errors.Is(err, ErrTemperatureUnsupported))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "temp"), []byte("287\n"), 0o644))
	temp, err := s.ReadTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 287, temp)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "voltage_now"), []byte("garbage"), 0o644))
	_, err = s.ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError))

	_, err = NewSysfs(root, "missing").ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError))
}

func TestINA219(t *testing.T) {
	// 3.9 V is 975 LSBs, shifted past the three status bits, with CNVR set.
	raw := uint16(975)<<3 | 0x02
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x40, W: []byte{0x02}, R: []byte{byte(raw >> 8), byte(raw)}},
			{Addr: 0x40, W: []byte{0x02}, R: []byte{0x00, 0x01}},
		},
		DontPanic: true,
	}

	s := NewINA219(bus, 0)
	v, err := s.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3900000, v)

	_, err = s.ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError), "overflow flag")

	_, err = s.ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError), "bus error")

	assert.NoError(t, s.Close())
}

func TestPowerSupply(t *testing.T) {
	var calls atomic.Int32
	p := NewPowerSupply(0)
	p.get = func(idx int) (*battery.Battery, error) {
		calls.Add(1)
		switch calls.Load() {
		case 1:
			return &battery.Battery{Voltage: 3.85}, nil
		case 2:
			return &battery.Battery{Voltage: 3.8}, battery.ErrPartial{Design: errors.New("n/a")}
		case 3:
			return nil, battery.ErrNotFound
		default:
			return &battery.Battery{}, nil
		}
	}

	v, err := p.ReadVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3850000, v)

	v, err = p.ReadVoltage(context.Background())
	require.NoError(t, err, "partial errors on other fields are ignored")
	assert.Equal(t, 3800000, v)

	_, err = p.ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError))

	_, err = p.ReadVoltage(context.Background())
	assert.True(t, errors.Is(err, ErrFetchError), "zero voltage")

	_, err = p.ReadTemperature(context.Background())
	assert.True(t, errors.Is(err, ErrTemperatureUnsupported))
}
