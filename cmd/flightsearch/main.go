package main

import (
	"context"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bher20/flightsearch/internal/config"
	"github.com/bher20/flightsearch/internal/logging"
	"github.com/bher20/flightsearch/internal/rates"
	"github.com/bher20/flightsearch/internal/storage"
)

type app struct {
	cfg config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "flightsearch",
		Short:         "Flight search aggregation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.cfg = config.Load()
			logging.Setup(logging.Config{Level: a.cfg.LogLevel, Format: a.cfg.LogFormat})
		},
	}
	root.AddCommand(
		newServeCmd(a),
		newWorkerCmd(a),
		newRatesCmd(a),
		newMigrateCmd(a),
		newFakeProviderCmd(),
	)
	return root
}

func (a *app) openStore(ctx context.Context) (storage.Storage, error) {
	return storage.Open(ctx, storage.Config{
		Driver:      a.cfg.DBDriver,
		DSN:         a.cfg.DBDSN,
		AutoMigrate: a.cfg.AutoMigrate,
	})
}

func (a *app) newLoader(st storage.Storage) *rates.Loader {
	client := rates.NewHTTPClient(30*time.Second, a.cfg.RatesInsecureTLS)
	return rates.NewLoader(rates.NewNationalBank(a.cfg.RatesURL, client), st)
}
