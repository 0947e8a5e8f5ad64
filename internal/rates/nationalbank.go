package rates

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultNationalBankURL is the RSS endpoint of the National Bank of
// Kazakhstan. The fdate query parameter selects the day.
const DefaultNationalBankURL = "https://www.nationalbank.kz/rss/get_rates.cfm"

// Source produces the rate entries for one day.
type Source interface {
	Fetch(ctx context.Context, day time.Time) ([]Entry, error)
}

// NationalBank fetches official KZT rates from the national bank feed.
type NationalBank struct {
	BaseURL string
	Client  *http.Client
}

// NewNationalBank returns a source for baseURL, or the public feed when
// baseURL is empty.
func NewNationalBank(baseURL string, client *http.Client) *NationalBank {
	if baseURL == "" {
		baseURL = DefaultNationalBankURL
	}
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &NationalBank{BaseURL: baseURL, Client: client}
}

type rssRates struct {
	XMLName xml.Name  `xml:"rates"`
	Date    string    `xml:"date"`
	Items   []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Quant       string `xml:"quant"`
}

func (n *NationalBank) Fetch(ctx context.Context, day time.Time) ([]Entry, error) {
	u, err := url.Parse(n.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("rates url: %w", err)
	}
	q := u.Query()
	q.Set("fdate", day.Format("02.01.2006"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch rates: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return ParseNationalBankXML(resp.Body)
}

// ParseNationalBankXML decodes the feed. Each description is the price of
// quant units, so it is divided by quant when quant is greater than one.
func ParseNationalBankXML(r io.Reader) ([]Entry, error) {
	var doc rssRates
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "utf-8") {
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rates xml: %w", err)
	}

	out := make([]Entry, 0, len(doc.Items))
	for _, it := range doc.Items {
		code := strings.ToUpper(strings.TrimSpace(it.Title))
		if code == "" {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(it.Description))
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		if qs := strings.TrimSpace(it.Quant); qs != "" {
			quant, err := decimal.NewFromString(qs)
			if err != nil {
				return nil, fmt.Errorf("quant for %s: %w", code, err)
			}
			if quant.GreaterThan(decimal.NewFromInt(1)) {
				rate = rate.Div(quant)
			}
		}
		out = append(out, Entry{Title: code, Rate: rate})
	}
	return out, nil
}
