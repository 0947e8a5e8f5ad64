package rates

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the key format of a daily snapshot.
const DayLayout = "2006-01-02"

// DayKey formats t as a snapshot day in t's location.
func DayKey(t time.Time) string { return t.Format(DayLayout) }

// Entry is one row of a snapshot payload: the rate that converts one unit
// of Title into the target currency.
type Entry struct {
	Title string          `json:"title"`
	Rate  decimal.Decimal `json:"rate"`
}

// Table is an immutable currency -> rate mapping for one day. The zero
// value is an empty table in which every lookup misses.
type Table struct {
	Date  string
	rates map[string]decimal.Decimal
}

// NewTable builds a table from snapshot entries. Later duplicates win.
func NewTable(day string, entries []Entry) *Table {
	t := &Table{Date: day, rates: make(map[string]decimal.Decimal, len(entries))}
	for _, e := range entries {
		code := strings.ToUpper(strings.TrimSpace(e.Title))
		if code == "" {
			continue
		}
		t.rates[code] = e.Rate
	}
	return t
}

// Lookup returns the rate for currency, if known.
func (t *Table) Lookup(currency string) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Decimal{}, false
	}
	r, ok := t.rates[strings.ToUpper(currency)]
	return r, ok
}

// Len reports how many currencies the table knows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rates)
}

// Entries returns the table as payload rows sorted by title.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, t.Len())
	if t == nil {
		return out
	}
	for code, r := range t.rates {
		out = append(out, Entry{Title: code, Rate: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// MarshalJSON renders {"date": ..., "rates": [{"title", "rate"}]}.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date  string  `json:"date"`
		Rates []Entry `json:"rates"`
	}{Date: t.Date, Rates: t.Entries()})
}

// DecodePayload parses a stored snapshot payload.
func DecodePayload(day string, payload []byte) (*Table, error) {
	var entries []Entry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decode rates payload for %s: %w", day, err)
	}
	return NewTable(day, entries), nil
}

// EncodePayload renders entries in the stored snapshot format.
func EncodePayload(entries []Entry) ([]byte, error) {
	return json.Marshal(entries)
}
