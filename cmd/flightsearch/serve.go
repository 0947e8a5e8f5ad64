package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bher20/flightsearch/internal/alerting"
	"github.com/bher20/flightsearch/internal/api"
	"github.com/bher20/flightsearch/internal/cron"
	"github.com/bher20/flightsearch/internal/events"
	"github.com/bher20/flightsearch/internal/logging"
	"github.com/bher20/flightsearch/internal/rates"
	"github.com/bher20/flightsearch/internal/search"
	"github.com/bher20/flightsearch/pkg/providers"
	"github.com/bher20/flightsearch/pkg/providers/httpprovider"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", true, "run the daily rates job in this process")
	return cmd
}

func (a *app) serve(ctx context.Context, withWorker bool) error {
	log := logging.Component("serve")
	loc := a.cfg.Location()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	clients := make([]providers.Client, 0, len(a.cfg.Providers))
	for _, d := range a.cfg.Providers {
		clients = append(clients, httpprovider.FromDescriptor(d))
	}

	pub := events.New(a.cfg.KafkaBrokers, a.cfg.KafkaTopic)
	defer pub.Close()

	rateSvc := rates.NewService(st)
	engine, err := search.New(search.Config{
		Deadline:         a.cfg.Deadline(),
		TargetCurrency:   a.cfg.TargetCurrency,
		Location:         loc,
		MaxUpdateRetries: a.cfg.MaxUpdateRetries,
	}, st, clients, rateSvc, search.WithPublisher(pub))
	if err != nil {
		return err
	}

	loader := a.newLoader(st)
	if withWorker {
		w := cron.NewWorker(cron.Config{
			Schedule:   a.cfg.RatesSchedule,
			RunOnStart: a.cfg.RatesOnStart,
			Location:   loc,
		}, loader, st, cron.WithAlerter(alerting.NewAlerter(alerting.NewConfig(a.cfg.AlertWebhookURL, a.cfg.AlertWebhookType))))
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("rates worker stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr: ":" + a.cfg.Port,
		Handler: api.NewMux(api.Deps{
			Search:    engine,
			Rates:     rateSvc,
			Loader:    loader,
			Store:     st,
			Providers: a.cfg.Providers,
			Location:  loc,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":      srv.Addr,
			"providers": len(clients),
			"deadline":  a.cfg.Deadline().String(),
		}).Info("flightsearch listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := engine.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("in-flight searches were cut short")
	}
	return nil
}
