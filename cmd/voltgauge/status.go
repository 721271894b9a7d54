package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/voltgauge/pkg/config"
	"github.com/charlie0129/voltgauge/pkg/types"
)

type statusData struct {
	status *types.Status
	config *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		status: st,
		config: conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of voltgauge",
		Long:    `Get the estimator state, battery readings, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				return printStatusJSON(cmd, data)
			}

			st := data.status
			conf := config.NewFileFromConfig(data.config, "")

			// Capacity.
			cmd.Println(bold("Capacity:"))
			cmd.Printf("  Stable: %s\n", bold("%d%%", st.Capacity))
			cmd.Printf("  Relative: %d%%, last direct: %d%%\n", st.Relative, st.LastDirect)
			cmd.Printf("  Next reading unreliable: %s\n", bool2Text(st.Unreliable))
			cmd.Printf("  Tracking accumulated changes: %s\n", bool2Text(st.UseRelative))
			if !st.LastUpdate.IsZero() {
				cmd.Printf("  Last update: %s ago\n", time.Since(st.LastUpdate).Round(time.Second))
			}
			if st.FailureCount > 0 {
				cmd.Printf("  Failed readings: %s (last: %s)\n", color.RedString("%d", st.FailureCount), st.LastError)
			}

			cmd.Println()

			// Battery.
			cmd.Println(bold("Battery status:"))
			cmd.Printf("  Voltage: %s\n", bold("%.3f V", float64(st.VoltageMicrovolts)/1e6))
			if st.Temperature != nil {
				cmd.Printf("  Temperature: %s\n", bold("%.1f °C", float64(*st.Temperature)/10))
			}
			health := color.GreenString("%s", st.Health)
			if st.Health != "good" {
				health = color.RedString("%s", st.Health)
			}
			cmd.Printf("  Health: %s\n", bold("%s", health))

			state := "not charging"
			if st.Charging {
				state = color.GreenString("charging")
			}
			cmd.Printf("  State: %s\n", bold("%s", state))
			cmd.Printf("  Charge source: %s\n", bold("%s", st.ChargeSource))
			cmd.Printf("  Charger mode: %s\n", bold("%s", st.ChargerMode))
			if st.CurrentLimit > 0 {
				cmd.Printf("  Current limit: %s\n", bold("%d mA", st.CurrentLimit))
			}
			if len(st.ActiveConsumers) > 0 {
				cmd.Printf("  Active consumers: %v\n", st.ActiveConsumers)
			}

			cmd.Println()

			// Config.
			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Source: %s\n", bold("%s", st.Source))
			if st.Breaker != "" && st.Breaker != "closed" {
				cmd.Printf("  Source circuit breaker: %s\n", color.YellowString("%s", st.Breaker))
			}
			cmd.Printf("  Voltage range: %s\n", bold("%.3f V - %.3f V",
				float64(conf.VoltageLowMicrovolts())/1e6, float64(conf.VoltageHighMicrovolts())/1e6))
			cmd.Printf("  Poll period: %s (after a load change: %s)\n", bold("%s", st.PollPeriod), conf.UnreliablePollPeriod())
			if st.PollerRunning && !st.NextPoll.IsZero() {
				cmd.Printf("  Next poll: in %s\n", time.Until(st.NextPoll).Round(time.Second))
			}
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			cmd.Printf("  D-Bus service: %s\n", bool2Text(conf.DBus()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
