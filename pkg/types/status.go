package types

import "time"

// Status is the daemon state returned by GET /status.
// This struct is shared between the daemon and client packages.
type Status struct {
	Capacity    int  `json:"capacity"`
	Relative    int  `json:"relative"`
	LastDirect  int  `json:"lastDirect"`
	Unreliable  bool `json:"unreliable"`
	UseRelative bool `json:"useRelative"`
	Charging    bool `json:"charging"`

	VoltageMicrovolts int       `json:"voltageMicrovolts"`
	VoltageReadAt     time.Time `json:"voltageReadAt,omitempty"`
	// Temperature is nil when the source has no thermistor.
	Temperature *int   `json:"temperature,omitempty"`
	Health      string `json:"health"`

	ChargeSource    string   `json:"chargeSource"`
	ChargerMode     string   `json:"chargerMode"`
	CurrentLimit    int      `json:"currentLimit"`
	ActiveConsumers []string `json:"activeConsumers"`

	Source        string    `json:"source"`
	Breaker       string    `json:"breaker,omitempty"`
	LastUpdate    time.Time `json:"lastUpdate"`
	LastError     string    `json:"lastError,omitempty"`
	FailureCount  int       `json:"failureCount"`
	NextPoll      time.Time `json:"nextPoll"`
	PollPeriod    string    `json:"pollPeriod"`
	PollerRunning bool      `json:"pollerRunning"`
}
