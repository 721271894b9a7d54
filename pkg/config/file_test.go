package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/voltgauge/pkg/capacity"
	"github.com/charlie0129/voltgauge/pkg/charger"
	"github.com/charlie0129/voltgauge/pkg/utils/ptr"
)

func TestDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 3400000, f.VoltageLowMicrovolts())
	assert.Equal(t, 4200000, f.VoltageHighMicrovolts())
	assert.Equal(t, 60*time.Second, f.PollPeriod())
	assert.Equal(t, 90*time.Second, f.UnreliablePollPeriod())
	assert.Equal(t, time.Second, f.FetchTimeout())
	assert.Equal(t, 5*time.Second, f.SourceCacheInterval())
	assert.Equal(t, SourcePowerSupply, f.Source())
	assert.Equal(t, uint16(0x40), f.I2CAddress())
	assert.Equal(t, charger.DefaultThresholds, f.Temperature())
	assert.False(t, f.AllowNonRootAccess())
	assert.False(t, f.DBus())
	assert.NoError(t, f.Validate())

	curves, err := f.Curves()
	require.NoError(t, err)
	assert.Equal(t, 50, curves.Capacity(3800000, false))
}

func TestLoadJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "voltgauge.json")
	require.NoError(t, os.WriteFile(p, []byte(`{
  "voltageLowMicrovolts": 3300000,
  "pollPeriod": "30s",
  "source": "sysfs",
  "sourceName": "battery",
  "sensitiveConsumers": ["display", "camera"]
}`), 0o644))

	f, err := NewFile(p)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, 3300000, f.VoltageLowMicrovolts())
	assert.Equal(t, 30*time.Second, f.PollPeriod())
	assert.Equal(t, SourceSysfs, f.Source())
	assert.Equal(t, "battery", f.SourceName())
	assert.Equal(t, []string{"display", "camera"}, f.SensitiveConsumers())
}

func TestLoadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "voltgauge.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
source: ina219
i2cAddress: 65
fetchTimeout: 500ms
dischargeTable:
  - {capacity: 100, microvolts: 4200000}
  - {capacity: 50, microvolts: 3700000}
  - {capacity: 0, microvolts: 3400000}
temperature:
  high: 500
  highRecovery: 450
  lowRecovery: 30
  low: -50
`), 0o644))

	f, err := NewFile(p)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, SourceINA219, f.Source())
	assert.Equal(t, uint16(65), f.I2CAddress())
	assert.Equal(t, 500*time.Millisecond, f.FetchTimeout())
	assert.Equal(t, -50, f.Temperature().Low)

	curves, err := f.Curves()
	require.NoError(t, err)
	assert.Equal(t, 75, curves.Capacity(3950000, false))
}

func TestEmptyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "voltgauge.json")
	require.NoError(t, os.WriteFile(p, []byte("  \n"), 0o644))

	f, err := NewFile(p)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, f.PollPeriod())
}

func TestLoadRejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "voltgauge.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"pollPeriod": "soon"}`), 0o644))

	_, err := NewFile(p)
	assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		raw  RawFileConfig
	}{
		{
			name: "low above high",
			raw:  RawFileConfig{VoltageLowMicrovolts: ptr.To(4300000)},
		},
		{
			name: "poll period too short",
			raw:  RawFileConfig{PollPeriod: ptr.To(Duration(100 * time.Millisecond))},
		},
		{
			name: "timeout longer than poll period",
			raw:  RawFileConfig{FetchTimeout: ptr.To(Duration(2 * time.Minute))},
		},
		{
			name: "unknown source",
			raw:  RawFileConfig{Source: ptr.To("rpc")},
		},
		{
			name: "sysfs without a name",
			raw:  RawFileConfig{Source: ptr.To(SourceSysfs)},
		},
		{
			name: "i2c address out of range",
			raw:  RawFileConfig{I2CAddress: ptr.To(uint16(200))},
		},
		{
			name: "inverted temperature thresholds",
			raw: RawFileConfig{Temperature: &charger.Thresholds{
				High: 0, HighRecovery: 0, LowRecovery: 50, Low: 450,
			}},
		},
		{
			name: "unknown sensitive consumer",
			raw:  RawFileConfig{SensitiveConsumers: []string{"toaster"}},
		},
		{
			name: "bad discharge table",
			raw: RawFileConfig{DischargeTable: []capacity.Point{
				{Capacity: 100, MicroVolts: 3400000},
				{Capacity: 0, MicroVolts: 4200000},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			f := NewFileFromConfig(&raw, "")
			err := f.Validate()
			assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"voltgauge.json", "voltgauge.yml"} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), name)

			f := NewFileFromConfig(nil, p)
			f.SetPollPeriod(45 * time.Second)
			f.SetAllowNonRootAccess(true)
			f.SetDBus(true)
			require.NoError(t, f.Save())

			g, err := NewFile(p)
			require.NoError(t, err)
			assert.Equal(t, 45*time.Second, g.PollPeriod())
			assert.True(t, g.AllowNonRootAccess())
			assert.True(t, g.DBus())
			assert.Equal(t, 90*time.Second, g.UnreliablePollPeriod(), "unset values keep defaults")
		})
	}
}

func TestUpdateKeepsValuesOnInvalidResult(t *testing.T) {
	f := NewFileFromConfig(nil, "")

	// 1s is not longer than the default 1s fetch timeout.
	err := f.Update(func(c Config) { c.SetPollPeriod(time.Second) })
	assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
	assert.Equal(t, time.Minute, f.PollPeriod())
	assert.NoError(t, f.Validate())

	require.NoError(t, f.Update(func(c Config) { c.SetPollPeriod(30 * time.Second) }))
	assert.Equal(t, 30*time.Second, f.PollPeriod())
}

func TestReloadKeepsValuesOnInvalidFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "voltgauge.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"pollPeriod": "45s"}`), 0o644))
	f, err := NewFile(p)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte(`{"pollPeriod": "1s"}`), 0o644))
	err = f.Reload()
	assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
	assert.Equal(t, 45*time.Second, f.PollPeriod())

	require.NoError(t, os.WriteFile(p, []byte(`{"pollPeriod": "soon"}`), 0o644))
	assert.Error(t, f.Reload())
	assert.Equal(t, 45*time.Second, f.PollPeriod())

	require.NoError(t, os.WriteFile(p, []byte(`{"pollPeriod": "2m"}`), 0o644))
	require.NoError(t, f.Reload())
	assert.Equal(t, 2*time.Minute, f.PollPeriod())
}

func TestRawFromConfig(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	raw, err := NewRawFileConfigFromConfig(f)
	require.NoError(t, err)
	assert.Equal(t, Duration(60*time.Second), *raw.PollPeriod)
	assert.Equal(t, SourcePowerSupply, *raw.Source)

	_, err = NewRawFileConfigFromConfig(nil)
	assert.Error(t, err)
}

func TestLogrusFields(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	fields := f.LogrusFields()
	assert.Equal(t, "1m0s", fields["pollPeriod"])
	assert.Equal(t, SourcePowerSupply, fields["source"])
}
