package providers

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestOffer_PreservesOpaqueFields(t *testing.T) {
	in := `{"segments":[{"from":"ALA","to":"NQZ"}],"pricing":{"currency":"USD","total":"10.00","taxes":"1.50"},"price":{"amount":"1.00","currency":"KZT"}}`

	var o Offer
	require.NoError(t, json.Unmarshal([]byte(in), &o))
	require.Equal(t, "USD", o.Pricing.Currency)
	require.True(t, o.Pricing.Total.Equal(decimal.RequireFromString("10")))
	require.NotNil(t, o.Price)

	o.Price = &Price{Amount: "4500.00", Currency: "KZT"}
	out, err := json.Marshal(o)
	require.NoError(t, err)
	require.JSONEq(t, `{"segments":[{"from":"ALA","to":"NQZ"}],"pricing":{"currency":"USD","total":"10.00","taxes":"1.50"},"price":{"amount":"4500.00","currency":"KZT"}}`, string(out))

	o.Price = nil
	out, err = json.Marshal(o)
	require.NoError(t, err)
	require.NotContains(t, string(out), `"price"`)
	require.Contains(t, string(out), `"total":"10.00"`)
}

func TestOffer_CloneIsIndependent(t *testing.T) {
	o := NewOffer("KZT", decimal.RequireFromString("5000"))
	o.Price = &Price{Amount: "5000.00", Currency: "KZT"}

	cp := o.Clone()
	cp.Price.Amount = "1.00"
	require.Equal(t, "5000.00", o.Price.Amount)
}

func TestTypedErrors(t *testing.T) {
	var err error = &TimeoutError{Provider: "provider_b"}
	require.ErrorIs(t, err, ErrProviderTimeout)
	require.NotErrorIs(t, err, ErrProviderFailed)

	err = &Error{Provider: "provider_a", StatusCode: 500}
	require.ErrorIs(t, err, ErrProviderFailed)
	require.Contains(t, err.Error(), "status 500")
}
