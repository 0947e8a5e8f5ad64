package search

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bher20/flightsearch/internal/metrics"
	"github.com/bher20/flightsearch/internal/rates"
	"github.com/bher20/flightsearch/internal/storage"
	"github.com/bher20/flightsearch/pkg/providers"
)

// GetNormalized prices every offer of the record in currency, sorts the
// items ascending by that price and stores the result. currency must match
// the target currency (case-insensitively); anything else returns an
// *UnsupportedCurrencyError without touching the store.
//
// Conversion runs inside the atomic update against the latest record, so a
// merge that lands between the rate lookup and the write is never lost.
func (e *Engine) GetNormalized(ctx context.Context, id, currency string) (*storage.SearchRecord, error) {
	target := strings.ToUpper(strings.TrimSpace(currency))
	if target != e.cfg.TargetCurrency {
		return nil, &UnsupportedCurrencyError{Requested: currency, Supported: e.cfg.TargetCurrency}
	}

	day := rates.DayKey(e.now().In(e.cfg.Location))
	tbl, err := e.rates.Table(ctx, day)
	if err != nil {
		e.log.WithError(err).WithField("day", day).Warn("rate table unavailable, offers in other currencies stay unpriced")
		tbl = rates.NewTable(day, nil)
	}

	var unpriced int
	rec, err := e.update(ctx, "normalize", id, func(rec *storage.SearchRecord) error {
		unpriced = normalize(rec.Items, tbl, target)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if unpriced > 0 {
		metrics.UnpricedOffersTotal.Add(float64(unpriced))
	}
	return rec, nil
}

type ranked struct {
	offer  providers.Offer
	amount decimal.Decimal
	priced bool
}

// normalize sets the derived price of every offer and stably sorts items:
// priced offers ascending by amount, then unpriced offers in their previous
// order. It returns how many offers could not be priced.
func normalize(items []providers.Offer, tbl *rates.Table, target string) int {
	rs := make([]ranked, len(items))
	unpriced := 0
	for i, o := range items {
		amount, ok := convert(o.Pricing, tbl, target)
		if !ok {
			o.Price = nil
			rs[i] = ranked{offer: o}
			unpriced++
			continue
		}
		amount = amount.Round(2)
		o.Price = &providers.Price{Amount: amount.StringFixed(2), Currency: target}
		rs[i] = ranked{offer: o, amount: amount, priced: true}
	}

	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].priced != rs[j].priced {
			return rs[i].priced
		}
		if !rs[i].priced {
			return false
		}
		return rs[i].amount.LessThan(rs[j].amount)
	})

	for i := range rs {
		items[i] = rs[i].offer
	}
	return unpriced
}

// convert returns the price of p in target. Offers already in target keep
// their total; others need a rate for the day.
func convert(p providers.Pricing, tbl *rates.Table, target string) (decimal.Decimal, bool) {
	cur := strings.ToUpper(strings.TrimSpace(p.Currency))
	switch {
	case cur == "":
		return decimal.Decimal{}, false
	case cur == target:
		return p.Total, true
	}
	rate, ok := tbl.Lookup(cur)
	if !ok {
		return decimal.Decimal{}, false
	}
	return p.Total.Mul(rate), true
}
