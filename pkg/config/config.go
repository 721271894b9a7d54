package config

import (
	"errors"
	"time"

	"github.com/charlie0129/voltgauge/pkg/capacity"
	"github.com/charlie0129/voltgauge/pkg/charger"
)

// ErrConfiguration is wrapped by every error caused by an unusable setting.
var ErrConfiguration = errors.New("invalid configuration")

// Source kinds accepted by the source setting.
const (
	SourceStatic      = "static"
	SourcePowerSupply = "power-supply"
	SourceSysfs       = "sysfs"
	SourceINA219      = "ina219"
)

type Config interface {
	VoltageLowMicrovolts() int
	VoltageHighMicrovolts() int
	PollPeriod() time.Duration
	UnreliablePollPeriod() time.Duration
	FetchTimeout() time.Duration
	SourceCacheInterval() time.Duration
	Source() string
	SourceName() string
	I2CBus() string
	I2CAddress() uint16
	StaticMicrovolts() int
	Temperature() charger.Thresholds
	SensitiveConsumers() []string
	AllowNonRootAccess() bool
	DBus() bool

	SetPollPeriod(time.Duration)
	SetAllowNonRootAccess(bool)
	SetDBus(bool)

	// Curves builds the voltage to capacity mappers.
	Curves() (capacity.Curves, error)
	// Settings returns every value with defaults applied.
	Settings() Settings
	// Validate checks the settings and returns an error wrapping ErrConfiguration.
	Validate() error

	// Update applies fn to a copy and keeps the result only if it validates.
	Update(fn func(Config)) error
	// Reload re-reads the source and keeps the result only if it validates.
	Reload() error

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// Settings is a resolved, read-only view of a Config.
type Settings struct {
	VoltageLowMicrovolts  int                `json:"voltageLowMicrovolts" validate:"gt=0"`
	VoltageHighMicrovolts int                `json:"voltageHighMicrovolts" validate:"gtfield=VoltageLowMicrovolts"`
	DischargeTable        []capacity.Point   `json:"dischargeTable,omitempty"`
	ChargeTable           []capacity.Point   `json:"chargeTable,omitempty"`
	PollPeriod            time.Duration      `json:"pollPeriod" validate:"gte=1s"`
	UnreliablePollPeriod  time.Duration      `json:"unreliablePollPeriod" validate:"gte=1s"`
	FetchTimeout          time.Duration      `json:"fetchTimeout" validate:"gt=0,ltfield=PollPeriod"`
	SourceCacheInterval   time.Duration      `json:"sourceCacheInterval" validate:"gte=0"`
	Source                string             `json:"source" validate:"oneof=static power-supply sysfs ina219"`
	SourceName            string             `json:"sourceName,omitempty" validate:"required_if=Source sysfs"`
	I2CBus                string             `json:"i2cBus,omitempty"`
	I2CAddress            uint16             `json:"i2cAddress,omitempty" validate:"lte=127"`
	StaticMicrovolts      int                `json:"staticMicrovolts,omitempty" validate:"gte=0"`
	Temperature           charger.Thresholds `json:"temperature"`
	SensitiveConsumers    []string           `json:"sensitiveConsumers,omitempty"`
	AllowNonRootAccess    bool               `json:"allowNonRootAccess"`
	DBus                  bool               `json:"dbus"`
}
