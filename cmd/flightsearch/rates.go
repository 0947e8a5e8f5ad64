package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/flightsearch/internal/rates"
)

func newRatesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Inspect and load daily exchange-rate snapshots",
	}

	var date string
	dayFlag := func(c *cobra.Command) {
		c.Flags().StringVar(&date, "date", "", "day to use (YYYY-MM-DD), defaults to today")
	}
	resolveDay := func() (time.Time, error) {
		loc := a.cfg.Location()
		if date == "" {
			return time.Now().In(loc), nil
		}
		return time.ParseInLocation(rates.DayLayout, date, loc)
	}

	load := &cobra.Command{
		Use:   "load",
		Short: "Fetch and store the snapshot for a day if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := resolveDay()
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			tbl, err := a.newLoader(st).Load(cmd.Context(), day)
			if err != nil {
				return err
			}
			return printJSON(cmd, tbl)
		},
	}
	dayFlag(load)

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored snapshot for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := resolveDay()
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			tbl, err := rates.NewService(st).Table(cmd.Context(), rates.DayKey(day))
			if err != nil {
				return err
			}
			return printJSON(cmd, tbl)
		},
	}
	dayFlag(show)

	cmd.AddCommand(load, show)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
