package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/voltgauge/pkg/capacity"
	"github.com/charlie0129/voltgauge/pkg/charger"
	"github.com/charlie0129/voltgauge/pkg/chargesource"
	"github.com/charlie0129/voltgauge/pkg/consumer"
	"github.com/charlie0129/voltgauge/pkg/estimator"
	"github.com/charlie0129/voltgauge/pkg/events"
	"github.com/charlie0129/voltgauge/pkg/metrics"
	"github.com/charlie0129/voltgauge/pkg/source"
	"github.com/charlie0129/voltgauge/pkg/types"
)

// onDemandSlack is added to the poll period before a read forces an update.
const onDemandSlack = time.Second

// ErrNotSeeded is returned by Capacity until a reading has succeeded.
var ErrNotSeeded = errors.New("no successful voltage reading yet")

// GaugeOptions are the collaborators of a Gauge. Source and Curves are
// required; everything else has a usable default.
type GaugeOptions struct {
	Source     source.Source
	Curves     capacity.Curves
	Consumers  *consumer.Registry
	Charger    charger.Charger
	Thresholds *charger.Thresholds
	Hub        *events.Hub
	PollPeriod time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Gauge owns the estimation state of one battery and everything that feeds it.
type Gauge struct {
	src       source.Source
	est       *estimator.Estimator
	consumers *consumer.Registry
	tracker   *chargesource.Tracker
	charger   *charger.Controller
	health    *charger.HealthMonitor
	hub       *events.Hub

	mu           sync.RWMutex
	curves       capacity.Curves
	pollPeriod   time.Duration
	poller       *Poller
	userDisabled bool
	heldOff      bool
	voltage      int
	voltageAt    time.Time
	temperature  *int
}

func NewGauge(opts GaugeOptions) (*Gauge, error) {
	if opts.Source == nil {
		return nil, pkgerrors.New("gauge needs a voltage source")
	}
	if opts.Curves.Discharge == nil && opts.Curves.Charge == nil {
		return nil, pkgerrors.New("gauge needs a capacity curve")
	}
	if opts.Consumers == nil {
		var err error
		opts.Consumers, err = consumer.NewRegistry()
		if err != nil {
			return nil, err
		}
	}
	if opts.PollPeriod <= 0 {
		opts.PollPeriod = defaultPollPeriod
	}
	thresholds := charger.DefaultThresholds
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}

	g := &Gauge{
		src:        opts.Source,
		est:        estimator.NewWithClock(opts.Clock),
		consumers:  opts.Consumers,
		charger:    charger.NewController(opts.Charger),
		health:     charger.NewHealthMonitor(thresholds),
		hub:        opts.Hub,
		curves:     opts.Curves,
		pollPeriod: opts.PollPeriod,
	}
	g.tracker = chargesource.NewTracker(g.onChargeSource)
	g.charger.OnUSBPower(func(on bool) {
		if err := g.NotifyConsumer(consumer.USBCharger, on); err != nil {
			logrus.WithError(err).Error("failed to notify usb charger consumer")
		}
	})

	return g, nil
}

// AttachPoller lets consumer notifications reschedule p.
func (g *Gauge) AttachPoller(p *Poller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.poller = p
}

// Reconfigure swaps the capacity curves and poll period, for config reloads.
func (g *Gauge) Reconfigure(curves capacity.Curves, pollPeriod time.Duration, t charger.Thresholds) {
	g.mu.Lock()
	g.curves = curves
	if pollPeriod > 0 {
		g.pollPeriod = pollPeriod
	}
	g.mu.Unlock()
	g.health.SetThresholds(t)
}

// Poll reads the voltage and feeds one update to the estimator. On a failed
// read the stable capacity is returned unchanged together with the error.
func (g *Gauge) Poll(ctx context.Context) (int, error) {
	return g.poll(ctx, "scheduled")
}

func (g *Gauge) poll(ctx context.Context, trigger string) (int, error) {
	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.PollsTotal.WithLabelValues(trigger).Inc()

	uv, err := g.src.ReadVoltage(ctx)
	if err != nil {
		metrics.FetchFailures.WithLabelValues(source.Kind(err)).Inc()
		return g.est.Fail(err), err
	}

	charging := g.tracker.Charging()

	g.mu.Lock()
	g.voltage = uv
	g.voltageAt = time.Now()
	curves := g.curves
	g.mu.Unlock()

	direct := curves.Capacity(uv, charging)
	prev, next := g.est.Step(direct, charging)
	stable := next.Stable

	metrics.Voltage.Set(float64(uv))
	metrics.Capacity.WithLabelValues("direct").Set(float64(direct))
	metrics.Capacity.WithLabelValues("stable").Set(float64(stable))
	metrics.Capacity.WithLabelValues("relative").Set(float64(next.Relative))

	if !prev.Seeded || prev.Stable != stable {
		g.hub.Publish(events.Capacity, events.CapacityEvent{
			From:     prev.Stable,
			To:       stable,
			Direct:   direct,
			Charging: charging,
			Ts:       time.Now().Unix(),
		})
	}

	g.checkHealth(ctx)

	return stable, nil
}

// Capacity returns the stable capacity. When the last update is older than
// a poll period plus one second and no unreliable recovery is pending, an
// update runs inline first. Until a reading has succeeded it returns
// ErrNotSeeded instead of a capacity.
func (g *Gauge) Capacity(ctx context.Context) (int, error) {
	g.mu.RLock()
	period := g.pollPeriod
	g.mu.RUnlock()

	stale := g.est.SinceLastUpdate() > period+onDemandSlack && !g.est.Unreliable()
	if stale || !g.est.Seeded() {
		stable, err := g.poll(ctx, "on-demand")
		if err != nil {
			logrus.WithError(err).Warn("on-demand capacity update failed")
			if !g.est.Seeded() {
				return 0, pkgerrors.Wrapf(ErrNotSeeded, "%v", err)
			}
		}
		return stable, nil
	}
	return g.est.Stable(), nil
}

// Voltage returns the battery voltage in microvolts.
func (g *Gauge) Voltage(ctx context.Context) (int, error) {
	uv, err := g.src.ReadVoltage(ctx)
	if err != nil {
		metrics.FetchFailures.WithLabelValues(source.Kind(err)).Inc()
		return 0, err
	}
	return uv, nil
}

// Temperature returns the battery temperature in tenths of a degree Celsius.
func (g *Gauge) Temperature(ctx context.Context) (int, error) {
	t, err := g.src.ReadTemperature(ctx)
	if err != nil {
		if !errors.Is(err, source.ErrTemperatureUnsupported) {
			metrics.FetchFailures.WithLabelValues(source.Kind(err)).Inc()
		}
		return 0, err
	}
	return t, nil
}

func (g *Gauge) checkHealth(ctx context.Context) {
	t, err := g.Temperature(ctx)
	if err != nil {
		if !errors.Is(err, source.ErrTemperatureUnsupported) {
			logrus.WithError(err).Debug("temperature read failed")
		}
		return
	}

	metrics.Temperature.Set(float64(t))
	g.mu.Lock()
	g.temperature = &t
	g.mu.Unlock()

	before := g.health.Health()
	h := g.health.Update(t)
	if h == before {
		return
	}

	g.hub.Publish(events.Health, events.HealthEvent{
		Health:      h.String(),
		Temperature: t,
		Ts:          time.Now().Unix(),
	})
	if err := g.applyCharging(); err != nil {
		logrus.WithError(err).Error("failed to apply charging after health change")
	}
}

// NotifyConsumer records a load change. The next reading is marked
// unreliable and the poller waits a recovery period before reading again.
func (g *Gauge) NotifyConsumer(c consumer.Consumer, on bool) error {
	if _, err := g.consumers.Notify(c, on); err != nil {
		return err
	}

	tracking := g.consumers.Tracking()
	g.est.MarkUnreliable(tracking)

	metrics.UnreliableMarkings.Inc()
	metrics.ConsumerActive.WithLabelValues(c.String()).Set(metrics.Bool(on))

	g.mu.RLock()
	p := g.poller
	g.mu.RUnlock()
	if p != nil {
		p.Reschedule()
	}

	logrus.WithFields(logrus.Fields{
		"consumer": c.String(),
		"on":       on,
		"tracking": tracking,
	}).Debug("consumer notified")

	g.hub.Publish(events.Consumer, events.ConsumerEvent{
		Consumer: c.String(),
		On:       on,
		Tracking: tracking,
		Ts:       time.Now().Unix(),
	})
	return nil
}

// ReportChargerType records the charger detected on USB and reports
// whether the charge source changed.
func (g *Gauge) ReportChargerType(t chargesource.ChargerType) bool {
	return g.tracker.Report(t)
}

// SetChargeSource sets the charge source directly.
func (g *Gauge) SetChargeSource(s chargesource.Source) bool {
	return g.tracker.Set(s)
}

// ChargeSource returns the current charge source.
func (g *Gauge) ChargeSource() chargesource.Source {
	return g.tracker.Current()
}

func (g *Gauge) onChargeSource(s chargesource.Source) {
	g.est.SetCharging(s != chargesource.None)
	metrics.ChargeSource.Set(float64(s))

	g.hub.Publish(events.ChargeSource, events.ChargeSourceEvent{
		Source: s.String(),
		Ts:     time.Now().Unix(),
	})
	if err := g.applyCharging(); err != nil {
		logrus.WithError(err).Error("failed to apply charging after charge source change")
	}
}

// SetChargingEnabled allows or forbids charging. Charging only actually
// starts while a source is connected and the battery is healthy.
func (g *Gauge) SetChargingEnabled(enabled bool) error {
	g.mu.Lock()
	g.userDisabled = !enabled
	g.mu.Unlock()
	return g.applyCharging()
}

// SetVBusPower turns USB host power on or off.
func (g *Gauge) SetVBusPower(on bool) error {
	changed, err := g.charger.SetVBusPower(on)
	if changed {
		g.publishMode()
	}
	return err
}

// SetCurrentLimit sets the charger input current limit in mA.
func (g *Gauge) SetCurrentLimit(milliamps int) error {
	return g.charger.SetCurrentLimit(milliamps)
}

func (g *Gauge) applyCharging() error {
	g.mu.Lock()
	healthy := g.health.Health() == charger.Good
	want := !g.userDisabled && healthy && g.tracker.Charging()
	if !healthy && !g.heldOff {
		logrus.WithField("health", g.health.Health().String()).Warn("charging held off until battery temperature recovers")
	}
	g.heldOff = !healthy
	g.mu.Unlock()

	// Boost is left alone when nothing asks for charging.
	if !want && g.charger.Mode() == charger.Boost {
		return nil
	}

	changed, err := g.charger.SetChargingEnabled(want)
	if err != nil {
		return err
	}
	if changed {
		g.publishMode()
	}
	return nil
}

func (g *Gauge) publishMode() {
	g.hub.Publish(events.ChargerMode, events.ChargerModeEvent{
		Mode: g.charger.Mode().String(),
		Ts:   time.Now().Unix(),
	})
}

// Status collects everything the status endpoint reports.
func (g *Gauge) Status() types.Status {
	s := g.est.Snapshot()

	g.mu.RLock()
	p := g.poller
	st := types.Status{
		Capacity:          s.Stable,
		Relative:          s.Relative,
		LastDirect:        s.LastDirect,
		Unreliable:        s.Unreliable,
		UseRelative:       s.UseRelative,
		Charging:          g.tracker.Charging(),
		VoltageMicrovolts: g.voltage,
		VoltageReadAt:     g.voltageAt,
		Temperature:       g.temperature,
		Health:            g.health.Health().String(),
		ChargeSource:      g.tracker.Current().String(),
		ChargerMode:       g.charger.Mode().String(),
		CurrentLimit:      g.charger.CurrentLimit(),
		ActiveConsumers:   g.consumers.Active(),
		Source:            g.src.Name(),
		Breaker:           source.BreakerState(g.src),
		LastUpdate:        s.LastUpdate,
		LastError:         s.LastError,
		FailureCount:      s.FailureCount,
		PollPeriod:        g.pollPeriod.String(),
	}
	g.mu.RUnlock()

	if st.ActiveConsumers == nil {
		st.ActiveConsumers = []string{}
	}
	if p != nil {
		st.NextPoll, st.PollerRunning = p.Status()
	}
	return st
}

// Estimator exposes the underlying estimator, mainly for tests and tools.
func (g *Gauge) Estimator() *estimator.Estimator {
	return g.est
}
