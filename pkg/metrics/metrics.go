// Package metrics provides Prometheus metrics for the voltgauge daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollsTotal counts capacity updates, scheduled and on demand.
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltgauge_polls_total",
		Help: "Total number of capacity polls",
	}, []string{"trigger"})

	// FetchFailures counts failed platform reads by kind (timeout, error).
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltgauge_fetch_failures_total",
		Help: "Total number of failed voltage or temperature reads",
	}, []string{"kind"})

	// Capacity exposes the stable, relative and direct capacity.
	Capacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voltgauge_capacity_percent",
		Help: "Battery capacity in percent",
	}, []string{"kind"})

	Voltage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltgauge_voltage_microvolts",
		Help: "Last battery voltage reading in microvolts",
	})

	Temperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltgauge_temperature_decidegrees",
		Help: "Last battery temperature reading in tenths of a degree Celsius",
	})

	// ChargeSource is 0 for none, 1 for USB and 2 for AC.
	ChargeSource = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltgauge_charge_source",
		Help: "Current charge source (0 none, 1 usb, 2 ac)",
	})

	UnreliableMarkings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltgauge_unreliable_markings_total",
		Help: "Total number of times the next reading was marked unreliable",
	})

	ConsumerActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voltgauge_consumer_active",
		Help: "Whether a load consumer is active (1) or not (0)",
	}, []string{"consumer"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voltgauge_poll_duration_seconds",
		Help:    "Duration of a capacity poll in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler serves all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Bool converts b to 1 or 0 for gauges.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
