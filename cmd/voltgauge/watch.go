package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/voltgauge/pkg/events"
)

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Print daemon events as they happen",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for ev := range apiClient.SubscribeEvents(ctx) {
				switch ev.Name {
				case events.Capacity:
					c, err := events.DecodeAs[events.CapacityEvent](ev)
					if err != nil {
						logrus.WithError(err).Error("failed to decode capacity event")
						continue
					}
					cmd.Printf("capacity: %d%% -> %s (direct %d%%)\n", c.From, bold("%d%%", c.To), c.Direct)
				case events.Health:
					h, err := events.DecodeAs[events.HealthEvent](ev)
					if err != nil {
						logrus.WithError(err).Error("failed to decode health event")
						continue
					}
					cmd.Printf("health: %s at %.1f °C\n", color.YellowString("%s", h.Health), float64(h.Temperature)/10)
				default:
					cmd.Printf("%s: %s\n", ev.Name, string(ev.Data))
				}
			}
			return nil
		},
	}
}
