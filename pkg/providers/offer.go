package providers

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Pricing is the price as reported by the provider. It is never mutated.
type Pricing struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
}

// Price is the derived price in the normalization target currency.
type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Offer is one priced item returned by a provider. Fields other than
// "price" are kept exactly as received and written back unchanged.
type Offer struct {
	Pricing Pricing
	Price   *Price

	fields map[string]json.RawMessage
}

// NewOffer builds an offer that carries only a pricing block.
func NewOffer(currency string, total decimal.Decimal) Offer {
	return Offer{Pricing: Pricing{Currency: currency, Total: total}}
}

// Field returns the raw JSON of a field as received from the provider.
func (o Offer) Field(name string) (json.RawMessage, bool) {
	v, ok := o.fields[name]
	return v, ok
}

// Clone returns a copy that shares no mutable state with o.
func (o Offer) Clone() Offer {
	cp := Offer{Pricing: o.Pricing}
	if o.Price != nil {
		p := *o.Price
		cp.Price = &p
	}
	if o.fields != nil {
		cp.fields = make(map[string]json.RawMessage, len(o.fields))
		for k, v := range o.fields {
			cp.fields[k] = v
		}
	}
	return cp
}

func (o *Offer) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var out Offer
	if raw, ok := fields["pricing"]; ok {
		if err := json.Unmarshal(raw, &out.Pricing); err != nil {
			return fmt.Errorf("decode pricing: %w", err)
		}
	}
	if raw, ok := fields["price"]; ok && string(raw) != "null" {
		var p Price
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode price: %w", err)
		}
		out.Price = &p
	}
	delete(fields, "price")
	out.fields = fields
	*o = out
	return nil
}

func (o Offer) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(o.fields)+2)
	for k, v := range o.fields {
		out[k] = v
	}
	if _, ok := out["pricing"]; !ok {
		raw, err := json.Marshal(o.Pricing)
		if err != nil {
			return nil, err
		}
		out["pricing"] = raw
	}
	if o.Price != nil {
		raw, err := json.Marshal(o.Price)
		if err != nil {
			return nil, err
		}
		out["price"] = raw
	}
	return json.Marshal(out)
}
