package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/flightsearch/internal/fakeprovider"
	"github.com/bher20/flightsearch/internal/logging"
)

func newFakeProviderCmd() *cobra.Command {
	var (
		cfg      fakeprovider.Config
		addr     string
		response string
	)
	cmd := &cobra.Command{
		Use:   "fakeprovider",
		Short: "Run a slow stand-in upstream provider for local testing",
		Example: "  flightsearch fakeprovider --name provider_a --addr :9001 --delay 30s --currency USD\n" +
			"  flightsearch fakeprovider --name provider_b --addr :9002 --delay 60s --currency KZT",
		RunE: func(cmd *cobra.Command, args []string) error {
			if response != "" {
				body, err := fakeprovider.LoadResponse(response)
				if err != nil {
					return err
				}
				cfg.Response = body
			}
			h, err := fakeprovider.Handler(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logging.Component("fakeprovider").WithField("addr", addr).Info("fake provider listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Name, "name", "provider_a", "provider name put into canned offers")
	cmd.Flags().StringVar(&addr, "addr", ":9001", "listen address")
	cmd.Flags().DurationVar(&cfg.Delay, "delay", 30*time.Second, "delay before answering each search")
	cmd.Flags().StringVar(&cfg.Currency, "currency", "USD", "currency of canned offers")
	cmd.Flags().IntVar(&cfg.Offers, "offers", 3, "number of canned offers")
	cmd.Flags().StringVar(&response, "response", "", "JSON file with the offer array to return instead of canned offers")
	return cmd
}
