package chargesource

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceFor(t *testing.T) {
	tests := []struct {
		in   ChargerType
		want Source
	}{
		{SDP, USB},
		{Carkit, USB},
		{CDP, USB},
		{WallCharger, AC},
		{DCP, AC},
		{Invalid, None},
		{Unknown, None},
		{ChargerType(42), None},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SourceFor(tt.in), "charger type %s", tt.in)
	}
}

func TestEdgeTriggeredCallbacks(t *testing.T) {
	var got []Source
	tr := NewTracker(func(s Source) { got = append(got, s) })

	for _, s := range []Source{USB, USB, AC, AC, None} {
		tr.Set(s)
	}

	assert.Equal(t, []Source{USB, AC, None}, got)
	assert.Equal(t, None, tr.Current())
}

func TestReportReturnsWhetherChanged(t *testing.T) {
	calls := 0
	tr := NewTracker(func(Source) { calls++ })

	assert.False(t, tr.Report(Invalid), "None to None is not an edge")
	assert.True(t, tr.Report(SDP))
	assert.False(t, tr.Report(CDP), "both map to USB")
	assert.True(t, tr.Report(DCP))
	assert.True(t, tr.Charging())

	assert.Equal(t, 2, calls)
}

func TestCallbackMayReadTracker(t *testing.T) {
	var tr *Tracker
	var seen Source
	tr = NewTracker(func(Source) {
		seen = tr.Current()
	})

	require.True(t, tr.Set(AC))
	assert.Equal(t, AC, seen)
}

func TestOnChangeReplacesCallback(t *testing.T) {
	tr := NewTracker(nil)
	assert.True(t, tr.Set(USB))

	var got Source
	tr.OnChange(func(s Source) { got = s })
	tr.Set(AC)
	assert.Equal(t, AC, got)
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("USB")
	require.NoError(t, err)
	assert.Equal(t, USB, s)

	_, err = ParseSource("solar")
	assert.True(t, errors.Is(err, ErrInvalidSource))
}

func TestParseChargerType(t *testing.T) {
	assert.Equal(t, DCP, ParseChargerType("DCP"))
	assert.Equal(t, WallCharger, ParseChargerType("wall"))
	assert.Equal(t, Unknown, ParseChargerType("mystery"))
}

func TestSourceJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Source Source `json:"source"`
	}{AC})
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"ac"}`, string(b))

	var v struct {
		Source Source `json:"source"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"source":"usb"}`), &v))
	assert.Equal(t, USB, v.Source)

	assert.Error(t, json.Unmarshal([]byte(`{"source":"solar"}`), &v))
}
