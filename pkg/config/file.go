package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/voltgauge/pkg/capacity"
	"github.com/charlie0129/voltgauge/pkg/charger"
	"github.com/charlie0129/voltgauge/pkg/consumer"
	"github.com/charlie0129/voltgauge/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		VoltageLowMicrovolts:  ptr.To(3400000),
		VoltageHighMicrovolts: ptr.To(4200000),
		PollPeriod:            ptr.To(Duration(60 * time.Second)),
		// One cycle after a load change is stretched so the voltage can settle.
		UnreliablePollPeriod: ptr.To(Duration(90 * time.Second)),
		FetchTimeout:         ptr.To(Duration(time.Second)),
		SourceCacheInterval:  ptr.To(Duration(5 * time.Second)),
		Source:               ptr.To(SourcePowerSupply),
		SourceName:           ptr.To(""),
		I2CBus:               ptr.To(""),
		I2CAddress:           ptr.To(uint16(0x40)),
		StaticMicrovolts:     ptr.To(3800000),
		Temperature:          ptr.To(charger.DefaultThresholds),
		AllowNonRootAccess:   ptr.To(false),
		DBus:                 ptr.To(false),
	}

	validate = validator.New()
)

var _ Config = &File{}

// Duration is a time.Duration written as "60s" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return pkgerrors.Wrapf(ErrConfiguration, "invalid duration %q", string(b))
	}
	*d = Duration(v)
	return nil
}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	VoltageLowMicrovolts  *int                `json:"voltageLowMicrovolts,omitempty" yaml:"voltageLowMicrovolts,omitempty"`
	VoltageHighMicrovolts *int                `json:"voltageHighMicrovolts,omitempty" yaml:"voltageHighMicrovolts,omitempty"`
	DischargeTable        []capacity.Point    `json:"dischargeTable,omitempty" yaml:"dischargeTable,omitempty"`
	ChargeTable           []capacity.Point    `json:"chargeTable,omitempty" yaml:"chargeTable,omitempty"`
	PollPeriod            *Duration           `json:"pollPeriod,omitempty" yaml:"pollPeriod,omitempty"`
	UnreliablePollPeriod  *Duration           `json:"unreliablePollPeriod,omitempty" yaml:"unreliablePollPeriod,omitempty"`
	FetchTimeout          *Duration           `json:"fetchTimeout,omitempty" yaml:"fetchTimeout,omitempty"`
	SourceCacheInterval   *Duration           `json:"sourceCacheInterval,omitempty" yaml:"sourceCacheInterval,omitempty"`
	Source                *string             `json:"source,omitempty" yaml:"source,omitempty"`
	SourceName            *string             `json:"sourceName,omitempty" yaml:"sourceName,omitempty"`
	I2CBus                *string             `json:"i2cBus,omitempty" yaml:"i2cBus,omitempty"`
	I2CAddress            *uint16             `json:"i2cAddress,omitempty" yaml:"i2cAddress,omitempty"`
	StaticMicrovolts      *int                `json:"staticMicrovolts,omitempty" yaml:"staticMicrovolts,omitempty"`
	Temperature           *charger.Thresholds `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	SensitiveConsumers    []string            `json:"sensitiveConsumers,omitempty" yaml:"sensitiveConsumers,omitempty"`
	AllowNonRootAccess    *bool               `json:"allowNonRootAccess,omitempty" yaml:"allowNonRootAccess,omitempty"`
	DBus                  *bool               `json:"dbus,omitempty" yaml:"dbus,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	s := c.Settings()
	rawConfig := &RawFileConfig{
		VoltageLowMicrovolts:  ptr.To(s.VoltageLowMicrovolts),
		VoltageHighMicrovolts: ptr.To(s.VoltageHighMicrovolts),
		DischargeTable:        s.DischargeTable,
		ChargeTable:           s.ChargeTable,
		PollPeriod:            ptr.To(Duration(s.PollPeriod)),
		UnreliablePollPeriod:  ptr.To(Duration(s.UnreliablePollPeriod)),
		FetchTimeout:          ptr.To(Duration(s.FetchTimeout)),
		SourceCacheInterval:   ptr.To(Duration(s.SourceCacheInterval)),
		Source:                ptr.To(s.Source),
		SourceName:            ptr.To(s.SourceName),
		I2CBus:                ptr.To(s.I2CBus),
		I2CAddress:            ptr.To(s.I2CAddress),
		StaticMicrovolts:      ptr.To(s.StaticMicrovolts),
		Temperature:           ptr.To(s.Temperature),
		SensitiveConsumers:    s.SensitiveConsumers,
		AllowNonRootAccess:    ptr.To(s.AllowNonRootAccess),
		DBus:                  ptr.To(s.DBus),
	}

	return rawConfig, nil
}

func (c *RawFileConfig) clone() *RawFileConfig {
	out := *c
	out.DischargeTable = append([]capacity.Point(nil), c.DischargeTable...)
	out.ChargeTable = append([]capacity.Point(nil), c.ChargeTable...)
	out.SensitiveConsumers = append([]string(nil), c.SensitiveConsumers...)
	return &out
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) VoltageLowMicrovolts() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().VoltageLowMicrovolts, *defaultFileConfig.VoltageLowMicrovolts)
}

func (f *File) VoltageHighMicrovolts() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().VoltageHighMicrovolts, *defaultFileConfig.VoltageHighMicrovolts)
}

func (f *File) PollPeriod() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().PollPeriod, *defaultFileConfig.PollPeriod))
}

func (f *File) UnreliablePollPeriod() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().UnreliablePollPeriod, *defaultFileConfig.UnreliablePollPeriod))
}

func (f *File) FetchTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().FetchTimeout, *defaultFileConfig.FetchTimeout))
}

func (f *File) SourceCacheInterval() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Duration(ptr.Deref(f.raw().SourceCacheInterval, *defaultFileConfig.SourceCacheInterval))
}

func (f *File) Source() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().Source, *defaultFileConfig.Source)
}

func (f *File) SourceName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().SourceName, *defaultFileConfig.SourceName)
}

func (f *File) I2CBus() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().I2CBus, *defaultFileConfig.I2CBus)
}

func (f *File) I2CAddress() uint16 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().I2CAddress, *defaultFileConfig.I2CAddress)
}

func (f *File) StaticMicrovolts() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().StaticMicrovolts, *defaultFileConfig.StaticMicrovolts)
}

func (f *File) Temperature() charger.Thresholds {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().Temperature, *defaultFileConfig.Temperature)
}

func (f *File) SensitiveConsumers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, len(f.raw().SensitiveConsumers))
	copy(out, f.c.SensitiveConsumers)
	return out
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) DBus() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.raw().DBus, *defaultFileConfig.DBus)
}

func (f *File) SetPollPeriod(d time.Duration) {
	if d < time.Second {
		panic("poll period must be at least one second")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().PollPeriod = ptr.To(Duration(d))
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().AllowNonRootAccess = &b
}

func (f *File) SetDBus(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().DBus = &b
}

func (f *File) Settings() Settings {
	f.mu.RLock()
	dis := append([]capacity.Point(nil), f.raw().DischargeTable...)
	chg := append([]capacity.Point(nil), f.c.ChargeTable...)
	f.mu.RUnlock()

	return Settings{
		VoltageLowMicrovolts:  f.VoltageLowMicrovolts(),
		VoltageHighMicrovolts: f.VoltageHighMicrovolts(),
		DischargeTable:        dis,
		ChargeTable:           chg,
		PollPeriod:            f.PollPeriod(),
		UnreliablePollPeriod:  f.UnreliablePollPeriod(),
		FetchTimeout:          f.FetchTimeout(),
		SourceCacheInterval:   f.SourceCacheInterval(),
		Source:                f.Source(),
		SourceName:            f.SourceName(),
		I2CBus:                f.I2CBus(),
		I2CAddress:            f.I2CAddress(),
		StaticMicrovolts:      f.StaticMicrovolts(),
		Temperature:           f.Temperature(),
		SensitiveConsumers:    f.SensitiveConsumers(),
		AllowNonRootAccess:    f.AllowNonRootAccess(),
		DBus:                  f.DBus(),
	}
}

func (f *File) Validate() error {
	s := f.Settings()

	if err := validate.Struct(s); err != nil {
		return pkgerrors.Wrapf(ErrConfiguration, "%v", err)
	}

	t := s.Temperature
	if t.Low >= t.High || t.LowRecovery < t.Low || t.HighRecovery > t.High || t.LowRecovery > t.HighRecovery {
		return pkgerrors.Wrapf(ErrConfiguration,
			"temperature thresholds must satisfy low <= lowRecovery <= highRecovery <= high, got %+v", t)
	}

	for _, name := range s.SensitiveConsumers {
		if _, err := consumer.Parse(name); err != nil {
			return pkgerrors.Wrapf(ErrConfiguration, "sensitiveConsumers: %v", err)
		}
	}

	if _, err := f.Curves(); err != nil {
		return err
	}

	return nil
}

func (f *File) Curves() (capacity.Curves, error) {
	s := f.Settings()

	var curves capacity.Curves
	if len(s.DischargeTable) > 0 {
		t, err := capacity.NewTable(s.DischargeTable)
		if err != nil {
			return curves, pkgerrors.Wrapf(ErrConfiguration, "dischargeTable: %v", err)
		}
		curves.Discharge = t
	} else {
		l, err := capacity.NewLinear(s.VoltageLowMicrovolts, s.VoltageHighMicrovolts)
		if err != nil {
			return curves, pkgerrors.Wrapf(ErrConfiguration, "%v", err)
		}
		curves.Discharge = l
	}

	if len(s.ChargeTable) > 0 {
		t, err := capacity.NewTable(s.ChargeTable)
		if err != nil {
			return curves, pkgerrors.Wrapf(ErrConfiguration, "chargeTable: %v", err)
		}
		curves.Charge = t
	}

	return curves, nil
}

// Update runs fn against a copy of the current values. The copy replaces
// the current values only when it validates; otherwise nothing changes.
func (f *File) Update(fn func(Config)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := &File{
		c:        f.raw().clone(),
		mu:       &sync.RWMutex{},
		filepath: f.filepath,
	}
	fn(next)
	if err := next.Validate(); err != nil {
		return err
	}

	f.c = next.c
	return nil
}

// Reload reads the file again. A file that fails to parse or validate
// leaves the current values in place.
func (f *File) Reload() error {
	next := &File{
		mu:       &sync.RWMutex{},
		filepath: f.filepath,
	}
	if err := next.Load(); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c = next.c
	return nil
}

func (f *File) isYAML() bool {
	switch strings.ToLower(filepath.Ext(f.filepath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(ErrConfiguration, "failed to unmarshal config from file %s: %v", f.filepath, err)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	if f.isYAML() {
		enc := yaml.NewEncoder(fp)
		enc.SetIndent(2)
		err = enc.Encode(f.c)
		if err == nil {
			err = enc.Close()
		}
	} else {
		enc := json.NewEncoder(fp)
		enc.SetIndent("", "  ")
		err = enc.Encode(f.c)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"voltageLow":           f.VoltageLowMicrovolts(),
		"voltageHigh":          f.VoltageHighMicrovolts(),
		"pollPeriod":           f.PollPeriod().String(),
		"unreliablePollPeriod": f.UnreliablePollPeriod().String(),
		"fetchTimeout":         f.FetchTimeout().String(),
		"sourceCacheInterval":  f.SourceCacheInterval().String(),
		"source":               f.Source(),
		"sourceName":           f.SourceName(),
		"allowNonRootAccess":   f.AllowNonRootAccess(),
		"dbus":                 f.DBus(),
	}
}
