package events

import "encoding/json"

// Event names.
const (
	Capacity     = "capacity"
	ChargeSource = "charge-source"
	Consumer     = "consumer"
	Health       = "health"
	ChargerMode  = "charger-mode"
)

// Event is one server-sent event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// CapacityEvent is published when the stable capacity changes.
type CapacityEvent struct {
	From     int   `json:"from"`
	To       int   `json:"to"`
	Direct   int   `json:"direct"`
	Charging bool  `json:"charging"`
	Ts       int64 `json:"ts"`
}

// ChargeSourceEvent is published on every charge source edge.
type ChargeSourceEvent struct {
	Source string `json:"source"`
	Ts     int64  `json:"ts"`
}

// ConsumerEvent is published when a consumer turns on or off.
type ConsumerEvent struct {
	Consumer string `json:"consumer"`
	On       bool   `json:"on"`
	Tracking bool   `json:"tracking"`
	Ts       int64  `json:"ts"`
}

// HealthEvent is published when the temperature health changes.
type HealthEvent struct {
	Health      string `json:"health"`
	Temperature int    `json:"temperature"`
	Ts          int64  `json:"ts"`
}

// ChargerModeEvent is published when the charger mode is applied.
type ChargerModeEvent struct {
	Mode string `json:"mode"`
	Ts   int64  `json:"ts"`
}

// DecodeAs decodes the event payload into T. The event name is not checked.
// Empty data yields the zero value of T.
//
//	payload, err := events.DecodeAs[events.CapacityEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
