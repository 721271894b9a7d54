package main

import (
	"encoding/json"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/voltgauge/pkg/config"
)

type statusJSON struct {
	Capacity      statusCapacityJSON `json:"capacity"`
	Battery       statusBatteryJSON  `json:"battery"`
	Configuration statusConfigJSON   `json:"configuration"`
}

type statusCapacityJSON struct {
	StablePercent   int        `json:"stablePercent"`
	RelativePercent int        `json:"relativePercent"`
	DirectPercent   int        `json:"directPercent"`
	Unreliable      bool       `json:"unreliable"`
	UseRelative     bool       `json:"useRelative"`
	LastUpdate      *time.Time `json:"lastUpdate"`
	FailureCount    int        `json:"failureCount"`
	LastError       string     `json:"lastError,omitempty"`
}

type statusBatteryJSON struct {
	VoltageVolts    float64  `json:"voltageVolts"`
	TemperatureC    *float64 `json:"temperatureCelsius"`
	Health          string   `json:"health"`
	Charging        bool     `json:"charging"`
	ChargeSource    string   `json:"chargeSource"`
	ChargerMode     string   `json:"chargerMode"`
	CurrentLimitMa  int      `json:"currentLimitMa"`
	ActiveConsumers []string `json:"activeConsumers"`
}

type statusConfigJSON struct {
	Source               string     `json:"source"`
	Breaker              string     `json:"breaker,omitempty"`
	VoltageLowVolts      float64    `json:"voltageLowVolts"`
	VoltageHighVolts     float64    `json:"voltageHighVolts"`
	PollPeriod           string     `json:"pollPeriod"`
	UnreliablePollPeriod string     `json:"unreliablePollPeriod"`
	NextPoll             *time.Time `json:"nextPoll"`
	AllowNonRootAccess   bool       `json:"allowNonRootAccess"`
	DBus                 bool       `json:"dbus"`
}

func volts(uv int) float64 {
	return math.Round(float64(uv)/1e3) / 1e3
}

func printStatusJSON(cmd *cobra.Command, data *statusData) error {
	st := data.status
	cfg := config.NewFileFromConfig(data.config, "")

	var lastUpdate *time.Time
	if !st.LastUpdate.IsZero() {
		lastUpdate = &st.LastUpdate
	}
	var nextPoll *time.Time
	if st.PollerRunning && !st.NextPoll.IsZero() {
		nextPoll = &st.NextPoll
	}
	var temp *float64
	if st.Temperature != nil {
		c := float64(*st.Temperature) / 10
		temp = &c
	}

	out := statusJSON{
		Capacity: statusCapacityJSON{
			StablePercent:   st.Capacity,
			RelativePercent: st.Relative,
			DirectPercent:   st.LastDirect,
			Unreliable:      st.Unreliable,
			UseRelative:     st.UseRelative,
			LastUpdate:      lastUpdate,
			FailureCount:    st.FailureCount,
			LastError:       st.LastError,
		},
		Battery: statusBatteryJSON{
			VoltageVolts:    volts(st.VoltageMicrovolts),
			TemperatureC:    temp,
			Health:          st.Health,
			Charging:        st.Charging,
			ChargeSource:    st.ChargeSource,
			ChargerMode:     st.ChargerMode,
			CurrentLimitMa:  st.CurrentLimit,
			ActiveConsumers: st.ActiveConsumers,
		},
		Configuration: statusConfigJSON{
			Source:               st.Source,
			Breaker:              st.Breaker,
			VoltageLowVolts:      volts(cfg.VoltageLowMicrovolts()),
			VoltageHighVolts:     volts(cfg.VoltageHighMicrovolts()),
			PollPeriod:           st.PollPeriod,
			UnreliablePollPeriod: cfg.UnreliablePollPeriod().String(),
			NextPoll:             nextPoll,
			AllowNonRootAccess:   cfg.AllowNonRootAccess(),
			DBus:                 cfg.DBus(),
		},
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
