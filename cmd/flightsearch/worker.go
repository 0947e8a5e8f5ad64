package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bher20/flightsearch/internal/alerting"
	"github.com/bher20/flightsearch/internal/cron"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the daily exchange-rate job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			w := cron.NewWorker(cron.Config{
				Schedule:   a.cfg.RatesSchedule,
				RunOnStart: a.cfg.RatesOnStart,
				Location:   a.cfg.Location(),
			}, a.newLoader(st), st, cron.WithAlerter(alerting.NewAlerter(alerting.NewConfig(a.cfg.AlertWebhookURL, a.cfg.AlertWebhookType))))

			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
