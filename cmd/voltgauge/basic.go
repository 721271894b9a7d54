package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charlie0129/voltgauge/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewCapacityCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "capacity",
		Short:   "Print the stable battery capacity",
		GroupID: gBasic,
		Long: `Print the stable battery capacity in percent.

If the last reading is older than one poll period, the daemon reads the voltage first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			capacity, err := apiClient.GetCapacity()
			if err != nil {
				return fmt.Errorf("failed to get capacity: %v", err)
			}
			cmd.Printf("%d\n", capacity)
			return nil
		},
	}
}

func NewVoltageCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "voltage",
		Short:   "Print the battery voltage in microvolts",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uv, err := apiClient.GetVoltage()
			if err != nil {
				return fmt.Errorf("failed to get voltage: %v", err)
			}
			cmd.Printf("%d\n", uv)
			return nil
		},
	}
}

func NewTemperatureCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "temperature",
		Short:   "Print the battery temperature in tenths of a degree Celsius",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := apiClient.GetTemperature()
			if err != nil {
				return fmt.Errorf("failed to get temperature: %v", err)
			}
			cmd.Printf("%d\n", t)
			return nil
		},
	}
}
