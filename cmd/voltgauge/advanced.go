package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/voltgauge/pkg/consumer"
)

func NewConsumerCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "consumer <name> <on|off>",
		Short:   "Report a power consumer turning on or off",
		GroupID: gAdvanced,
		Long: `Report a power consumer turning on or off.

A load change makes the next voltage reading unreliable, so the daemon skips it and waits before polling again. While a sensitive consumer (by default the display or the USB charger) is active, capacity follows accumulated changes instead of snapping to each reading.

Known consumers: ` + strings.Join(consumer.Names(), ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			var on bool
			switch strings.ToLower(args[1]) {
			case "on", "true", "1":
				on = true
			case "off", "false", "0":
				on = false
			default:
				return fmt.Errorf("invalid state %q, expected on or off", args[1])
			}

			ret, err := apiClient.NotifyConsumer(args[0], on)
			if err != nil {
				return fmt.Errorf("failed to notify consumer: %v", err)
			}
			if ret != "" {
				logrus.Debugf("daemon responded: %s", ret)
			}

			logrus.Infof("reported %s %s", args[0], args[1])
			return nil
		},
	}
}

func NewChargerTypeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "charger-type <sdp|cdp|dcp|carkit|wall|unknown|invalid>",
		Short:   "Report the charger detected on USB",
		GroupID: gAdvanced,
		Long: `Report the charger detected on USB.

Standard and charging downstream ports are USB sources. Dedicated chargers and wall chargers are AC sources. An invalid charger means nothing is connected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			changed, err := apiClient.ReportChargerType(args[0])
			if err != nil {
				return fmt.Errorf("failed to report charger type: %v", err)
			}

			if changed {
				logrus.Infof("charge source changed")
			} else {
				logrus.Infof("charge source unchanged")
			}
			return nil
		},
	}
}

func NewChargeSourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "charge-source [none|usb|ac]",
		Short:   "Get or set the charge source",
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				src, err := apiClient.GetChargeSource()
				if err != nil {
					return fmt.Errorf("failed to get charge source: %v", err)
				}
				cmd.Println(src)
				return nil
			}

			changed, err := apiClient.SetChargeSource(args[0])
			if err != nil {
				return fmt.Errorf("failed to set charge source: %v", err)
			}
			if changed {
				logrus.Infof("charge source set to %s", args[0])
			} else {
				logrus.Infof("charge source is already %s", args[0])
			}
			return nil
		},
	}

	return cmd
}

func NewChargingCommand() *cobra.Command {
	return newEnableDisableCommand(
		"charging",
		"Allow or forbid charging",
		`Allow or forbid charging.

Charging only starts while a charge source is connected and the battery temperature is within limits.`,
		func(b bool) (string, error) { return apiClient.SetCharging(b) },
	)
}

func NewVBusPowerCommand() *cobra.Command {
	return newEnableDisableCommand(
		"vbus-power",
		"Turn USB host power on or off",
		`Turn USB host power (boost mode) on or off.`,
		func(b bool) (string, error) { return apiClient.SetVBusPower(b) },
	)
}

func NewCurrentLimitCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "current-limit <mA>",
		Short:   "Set the charger input current limit",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, args []string) error {
			ma, err := parseIntArg(args, "current limit")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetCurrentLimit(ma)
			if err != nil {
				return fmt.Errorf("failed to set current limit: %v", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func NewPollPeriodCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "poll-period <duration>",
		Short:   "Set how often the voltage is read",
		GroupID: gAdvanced,
		Long: `Set how often the voltage is read, e.g. 30s or 2m.

The value is saved to the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid poll period: %v", err)
			}

			ret, err := apiClient.SetPollPeriod(d)
			if err != nil {
				return fmt.Errorf("failed to set poll period: %v", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}
