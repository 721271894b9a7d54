package client

import (
	"encoding/json"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/voltgauge/pkg/config"
	"github.com/charlie0129/voltgauge/pkg/types"
)

func (c *Client) GetCapacity() (int, error) {
	ret, err := c.Get("/capacity")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to get capacity")
	}
	capacity, err := strconv.Atoi(ret)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal capacity")
	}
	return capacity, nil
}

// GetVoltage returns the battery voltage in microvolts.
func (c *Client) GetVoltage() (int, error) {
	ret, err := c.Get("/voltage")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to get voltage")
	}
	uv, err := strconv.Atoi(ret)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal voltage")
	}
	return uv, nil
}

// GetTemperature returns the battery temperature in tenths of a degree
// Celsius.
func (c *Client) GetTemperature() (int, error) {
	ret, err := c.Get("/temperature")
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to get temperature")
	}
	t, err := strconv.Atoi(ret)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal temperature")
	}
	return t, nil
}

func (c *Client) GetStatus() (*types.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st types.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

func (c *Client) GetChargeSource() (string, error) {
	ret, err := c.Get("/charge-source")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get charge source")
	}
	return unquote(ret)
}

// SetChargeSource reports whether the source changed.
func (c *Client) SetChargeSource(source string) (bool, error) {
	return c.putChange("/charge-source", source)
}

// ReportChargerType reports whether the charge source changed.
func (c *Client) ReportChargerType(chargerType string) (bool, error) {
	return c.putChange("/charger-type", chargerType)
}

func (c *Client) NotifyConsumer(consumer string, on bool) (string, error) {
	payload, err := json.Marshal(types.ConsumerRequest{Consumer: consumer, On: on})
	if err != nil {
		return "", err
	}
	return c.Put("/consumer", string(payload))
}

func (c *Client) SetCharging(enabled bool) (string, error) {
	return c.Put("/charging", strconv.FormatBool(enabled))
}

func (c *Client) SetVBusPower(on bool) (string, error) {
	return c.Put("/vbus-power", strconv.FormatBool(on))
}

func (c *Client) SetCurrentLimit(milliamps int) (string, error) {
	return c.Put("/current-limit", strconv.Itoa(milliamps))
}

func (c *Client) SetPollPeriod(d time.Duration) (string, error) {
	return c.Put("/poll-period", strconv.Quote(d.String()))
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret)
}

func (c *Client) putChange(path, value string) (bool, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	ret, err := c.Put(path, string(payload))
	if err != nil {
		return false, err
	}

	var resp types.ChangeResponse
	if err := json.Unmarshal([]byte(ret), &resp); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to unmarshal response from %s", path)
	}
	return resp.Changed, nil
}

func unquote(resp string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(resp), &s); err != nil {
		return "", pkgerrors.Wrapf(err, "unexpected response: %s", resp)
	}
	return s, nil
}
