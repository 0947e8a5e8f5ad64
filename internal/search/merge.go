package search

import (
	"time"

	"github.com/bher20/flightsearch/internal/storage"
	"github.com/bher20/flightsearch/pkg/providers"
)

// report is one provider's contribution to a record.
type report struct {
	provider string
	offers   []providers.Offer
	err      error
	at       time.Time
}

// applyReport merges r into rec. A provider is applied at most once; a
// failed fetch counts as reported with zero offers. It returns whether rec
// changed and whether this report moved it to COMPLETED.
func applyReport(rec *storage.SearchRecord, r report) (applied, completed bool) {
	if rec.Reported(r.provider) {
		return false, false
	}

	rep := storage.ProviderReport{Provider: r.provider, ReportedAt: r.at}
	if r.err != nil {
		rep.Error = r.err.Error()
		rec.Partial = true
	} else {
		for _, o := range r.offers {
			rec.Items = append(rec.Items, o.Clone())
		}
		rep.Offers = len(r.offers)
	}
	rec.Reports = append(rec.Reports, rep)

	if rec.Status == storage.StatusPending && len(rec.Reports) >= rec.Expected {
		rec.Status = storage.StatusCompleted
		completed = true
	}
	return true, completed
}

// forceComplete ends a record that is still PENDING after its deadline.
// Reports that arrive later are still merged.
func forceComplete(rec *storage.SearchRecord) bool {
	if rec.Status != storage.StatusPending {
		return false
	}
	rec.Status = storage.StatusCompleted
	rec.Partial = true
	return true
}
