package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/voltgauge/pkg/capacity"
	"github.com/charlie0129/voltgauge/pkg/charger"
	"github.com/charlie0129/voltgauge/pkg/chargesource"
	"github.com/charlie0129/voltgauge/pkg/consumer"
	"github.com/charlie0129/voltgauge/pkg/events"
	"github.com/charlie0129/voltgauge/pkg/source"
)

type recordingCharger struct {
	mu    sync.Mutex
	modes []charger.Mode
}

func (r *recordingCharger) SetMode(m charger.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, m)
	return nil
}

func (r *recordingCharger) SetCurrentLimit(int) error { return nil }

func (r *recordingCharger) Modes() []charger.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]charger.Mode(nil), r.modes...)
}

// newTestGauge maps 3.4 V..4.2 V linearly, so every 8 mV is one percent
// and 3.8 V reads 50.
func newTestGauge(t *testing.T, uv int) (*Gauge, *source.Static, *recordingCharger, *events.Hub) {
	t.Helper()

	lin, err := capacity.NewLinear(3400000, 4200000)
	require.NoError(t, err)

	src := source.NewStatic(uv)
	rc := &recordingCharger{}
	hub := events.NewHub()
	g, err := NewGauge(GaugeOptions{
		Source:  src,
		Curves:  capacity.Curves{Discharge: lin},
		Charger: rc,
		Hub:     hub,
	})
	require.NoError(t, err)
	return g, src, rc, hub
}

func drain(ch chan events.Event) []string {
	var names []string
	for {
		select {
		case ev := <-ch:
			names = append(names, ev.Name)
		default:
			return names
		}
	}
}

func TestNewGaugeRequiresSourceAndCurves(t *testing.T) {
	_, err := NewGauge(GaugeOptions{})
	assert.Error(t, err)

	_, err = NewGauge(GaugeOptions{Source: source.NewStatic(0)})
	assert.Error(t, err)
}

func TestGaugeSeedsAndStepsByOne(t *testing.T) {
	g, src, _, hub := newTestGauge(t, 3800000)
	ch := hub.Subscribe()

	got, err := g.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, got)

	ev := <-ch
	assert.Equal(t, events.Capacity, ev.Name)
	c, err := events.DecodeAs[events.CapacityEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, 50, c.To)

	// A large drop still moves the stable value by one per poll.
	src.SetVoltage(3600000)
	for want := 49; want >= 46; want-- {
		got, err = g.Poll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// While not charging, a higher reading never raises the capacity.
	src.SetVoltage(4000000)
	got, _ = g.Poll(context.Background())
	assert.Equal(t, 46, got)
}

func TestGaugeChargingOnlyRises(t *testing.T) {
	g, src, _, _ := newTestGauge(t, 3800000)
	_, err := g.Poll(context.Background())
	require.NoError(t, err)

	g.SetChargeSource(chargesource.AC)

	src.SetVoltage(3700000)
	got, _ := g.Poll(context.Background())
	assert.Equal(t, 50, got, "charging never lowers the capacity")

	src.SetVoltage(4100000)
	got, _ = g.Poll(context.Background())
	assert.Equal(t, 51, got)
}

func TestGaugeFailedReadKeepsCapacity(t *testing.T) {
	g, src, _, _ := newTestGauge(t, 3800000)
	_, err := g.Poll(context.Background())
	require.NoError(t, err)

	src.SetError(errors.New("adc busy"))
	got, err := g.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrFetchError))
	assert.Equal(t, 50, got)

	st := g.Status()
	assert.Equal(t, 1, st.FailureCount)
	assert.Contains(t, st.LastError, "adc busy")
}

// clockedGauge is newTestGauge with a hand-driven clock.
func clockedGauge(t *testing.T, uv int, now *time.Time) (*Gauge, *source.Static) {
	t.Helper()

	lin, err := capacity.NewLinear(3400000, 4200000)
	require.NoError(t, err)

	src := source.NewStatic(uv)
	g, err := NewGauge(GaugeOptions{
		Source:     src,
		Curves:     capacity.Curves{Discharge: lin},
		PollPeriod: time.Minute,
		Clock:      func() time.Time { return *now },
	})
	require.NoError(t, err)
	return g, src
}

func TestGaugeCapacityPollsWhenStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g, src := clockedGauge(t, 3800000, &now)
	ctx := context.Background()

	got, err := g.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, got)
	assert.Equal(t, 1, src.Reads())

	// Within the period plus one second of slack, the cached value is served.
	now = now.Add(61 * time.Second)
	_, err = g.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.Reads())

	// Past it, the read updates inline.
	src.SetVoltage(3600000)
	now = now.Add(500 * time.Millisecond)
	got, err = g.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 49, got)
	assert.Equal(t, 2, src.Reads())
}

func TestGaugeCapacitySkipsInlineUpdateWhileUnreliable(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g, src := clockedGauge(t, 3800000, &now)
	ctx := context.Background()

	_, err := g.Poll(ctx)
	require.NoError(t, err)
	require.NoError(t, g.NotifyConsumer(consumer.WiFi, true))

	now = now.Add(5 * time.Minute)
	got, err := g.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, got)
	assert.Equal(t, 1, src.Reads(), "a pending recovery cycle is not pre-empted")

	// The scheduled recovery poll clears the flag; stale reads update again.
	_, err = g.Poll(ctx)
	require.NoError(t, err)
	require.False(t, g.Estimator().Unreliable())

	now = now.Add(2 * time.Minute)
	_, err = g.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Reads())
}

func TestGaugeCapacityBeforeFirstReading(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g, src := clockedGauge(t, 3800000, &now)
	ctx := context.Background()

	src.SetError(errors.New("adc busy"))
	_, err := g.Capacity(ctx)
	assert.True(t, errors.Is(err, ErrNotSeeded), "got %v", err)

	// An unreliable marking before the first reading does not block seeding.
	require.NoError(t, g.NotifyConsumer(consumer.Display, true))
	src.SetError(nil)
	got, err := g.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, got)
}

func TestGaugeCapacityEventMatchesUpdate(t *testing.T) {
	g, src, _, hub := newTestGauge(t, 3800000)
	ch := hub.Subscribe()

	_, err := g.Poll(context.Background())
	require.NoError(t, err)
	<-ch

	src.SetVoltage(3600000)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Poll(context.Background())
		}()
	}
	wg.Wait()

	// Each event describes exactly one step, whatever the interleaving.
	for i := 0; i < 4; i++ {
		ev := <-ch
		c, err := events.DecodeAs[events.CapacityEvent](ev)
		require.NoError(t, err)
		assert.Equal(t, c.From-1, c.To)
	}
}

func TestGaugeNotifyConsumer(t *testing.T) {
	g, _, _, hub := newTestGauge(t, 3800000)
	p := NewPoller(func() error { return nil }, nil, time.Minute, 90*time.Second)
	g.AttachPoller(p)
	ch := hub.Subscribe()

	require.NoError(t, g.NotifyConsumer(consumer.Display, true))

	s := g.Estimator().Snapshot()
	assert.True(t, s.Unreliable)
	assert.True(t, s.UseRelative, "display is a sensitive consumer")

	next, _ := p.Status()
	assert.InDelta(t, float64(90*time.Second), float64(time.Until(next)), float64(time.Second))

	assert.Equal(t, []string{events.Consumer}, drain(ch))
	assert.Equal(t, []string{"display"}, g.Status().ActiveConsumers)

	require.NoError(t, g.NotifyConsumer(consumer.Display, false))
	assert.False(t, g.Estimator().Snapshot().UseRelative)

	err := g.NotifyConsumer(consumer.Consumer(-1), true)
	assert.True(t, errors.Is(err, consumer.ErrInvalidConsumer))
}

func TestGaugeChargeSourceDrivesCharger(t *testing.T) {
	g, _, rc, hub := newTestGauge(t, 3800000)
	ch := hub.Subscribe()

	assert.True(t, g.ReportChargerType(chargesource.SDP))
	assert.Equal(t, chargesource.USB, g.ChargeSource())
	assert.Equal(t, []charger.Mode{charger.Charge}, rc.Modes())

	st := g.Status()
	assert.True(t, st.Charging)
	assert.Equal(t, "charge", st.ChargerMode)
	assert.Contains(t, st.ActiveConsumers, "usb-charger")

	names := drain(ch)
	assert.Contains(t, names, events.ChargeSource)
	assert.Contains(t, names, events.ChargerMode)
	assert.Contains(t, names, events.Consumer)

	// Same source again is not an edge.
	assert.False(t, g.ReportChargerType(chargesource.CDP))

	require.NoError(t, g.SetChargingEnabled(false))
	assert.Equal(t, []charger.Mode{charger.Charge, charger.Off}, rc.Modes())

	require.NoError(t, g.SetChargingEnabled(true))
	g.SetChargeSource(chargesource.None)
	assert.Equal(t, []charger.Mode{charger.Charge, charger.Off, charger.Charge, charger.Off}, rc.Modes())
	assert.False(t, g.Status().Charging)
}

func TestGaugeOverheatStopsCharging(t *testing.T) {
	g, src, rc, _ := newTestGauge(t, 3800000)
	g.SetChargeSource(chargesource.AC)
	require.Equal(t, []charger.Mode{charger.Charge}, rc.Modes())

	src.SetTemperature(460)
	_, err := g.Poll(context.Background())
	require.NoError(t, err)

	st := g.Status()
	assert.Equal(t, "overheat", st.Health)
	require.NotNil(t, st.Temperature)
	assert.Equal(t, 460, *st.Temperature)
	assert.Equal(t, []charger.Mode{charger.Charge, charger.Off}, rc.Modes())

	src.SetTemperature(390)
	_, err = g.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", g.Status().Health)
	assert.Equal(t, []charger.Mode{charger.Charge, charger.Off, charger.Charge}, rc.Modes())
}

func TestGaugeVBusPower(t *testing.T) {
	g, _, rc, _ := newTestGauge(t, 3800000)

	require.NoError(t, g.SetVBusPower(true))
	assert.Equal(t, "boost", g.Status().ChargerMode)

	// Boost survives a charging re-evaluation with nothing to charge from.
	require.NoError(t, g.SetChargingEnabled(true))
	assert.Equal(t, []charger.Mode{charger.Boost}, rc.Modes())

	require.NoError(t, g.SetVBusPower(false))
	assert.Equal(t, []charger.Mode{charger.Boost, charger.Off}, rc.Modes())
}

func TestGaugeReconfigure(t *testing.T) {
	g, _, _, _ := newTestGauge(t, 3800000)

	lin, err := capacity.NewLinear(3000000, 4000000)
	require.NoError(t, err)
	g.Reconfigure(capacity.Curves{Discharge: lin}, 30*time.Second, charger.DefaultThresholds)

	got, err := g.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 80, got)
	assert.Equal(t, "30s", g.Status().PollPeriod)
}
