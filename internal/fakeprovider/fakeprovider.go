// Package fakeprovider is a stand-in upstream for local runs: it answers
// POST /search with a canned offer list after a fixed delay.
package fakeprovider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bher20/flightsearch/internal/logging"
)

type Config struct {
	Name  string
	Delay time.Duration
	// Response is the JSON array returned as is. When empty, Offers canned
	// offers priced in Currency are generated.
	Response []byte
	Currency string
	Offers   int
}

// LoadResponse reads a response body from path and checks it is a JSON array.
func LoadResponse(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("%s: response must be a JSON array: %w", path, err)
	}
	return b, nil
}

type cannedOffer struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Pricing  struct {
		Currency string          `json:"currency"`
		Total    decimal.Decimal `json:"total"`
	} `json:"pricing"`
}

// Canned builds n offers in currency with increasing totals.
func Canned(name, currency string, n int) ([]byte, error) {
	base := decimal.NewFromInt(100)
	if currency == "KZT" {
		base = decimal.NewFromInt(45000)
	}
	out := make([]cannedOffer, n)
	for i := range out {
		out[i].ID = fmt.Sprintf("%s-%d", name, i+1)
		out[i].Provider = name
		out[i].Pricing.Currency = currency
		out[i].Pricing.Total = base.Mul(decimal.NewFromInt(int64(i + 1))).Add(decimal.RequireFromString("0.5"))
	}
	return json.Marshal(out)
}

// Handler serves POST /search. A client that disconnects during the delay
// gets nothing.
func Handler(cfg Config) (http.Handler, error) {
	body := cfg.Response
	if len(body) == 0 {
		var err error
		if body, err = Canned(cfg.Name, cfg.Currency, cfg.Offers); err != nil {
			return nil, err
		}
	}
	log := logging.Component("fakeprovider").WithField("provider", cfg.Name)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(cfg.Delay):
		case <-r.Context().Done():
			log.Debug("client went away during delay")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		log.WithField("delay", cfg.Delay.String()).Info("search answered")
	})
	return mux, nil
}
