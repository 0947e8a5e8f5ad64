package httpprovider_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/bher20/flightsearch/pkg/providers"
	"github.com/bher20/flightsearch/pkg/providers/httpprovider"
)

const sampleResponse = `[
  {"provider": "A", "refundable": true, "pricing": {"currency": "USD", "total": "10.00", "base": "8.00"}},
  {"provider": "A", "pricing": {"currency": "KZT", "total": "5000.00"}}
]`

func TestFetch_DecodesOffers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, sampleResponse)
	}))
	defer srv.Close()

	p := httpprovider.New(httpprovider.Config{Name: "provider_a", URL: srv.URL, Timeout: 5 * time.Second})
	offers, err := p.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, offers, 2)
	require.Equal(t, "USD", offers[0].Pricing.Currency)
	require.Equal(t, "10", offers[0].Pricing.Total.String())

	raw, ok := offers[0].Field("refundable")
	require.True(t, ok)
	require.JSONEq(t, `true`, string(raw))
}

func TestFetch_TimeoutIsTyped(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p := httpprovider.New(httpprovider.Config{Name: "provider_b", URL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := p.Fetch(t.Context())
	require.Error(t, err)

	var te *providers.TimeoutError
	require.Truef(t, errors.As(err, &te), "expected TimeoutError, got %T: %v", err, err)
	require.Equal(t, "provider_b", te.Provider)
	require.ErrorIs(t, err, providers.ErrProviderTimeout)
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader("upstream down")),
		}, nil).
		Times(1)

	p := httpprovider.New(httpprovider.Config{Name: "provider_a", URL: "http://provider_a:9001/search"},
		httpprovider.WithHTTPClient(httpClient))
	_, err := p.Fetch(t.Context())

	var pe *providers.Error
	require.True(t, errors.As(err, &pe))
	require.Equal(t, http.StatusBadGateway, pe.StatusCode)
	require.Contains(t, pe.Error(), "upstream down")
	require.ErrorIs(t, err, providers.ErrProviderFailed)
}

func TestFetch_MalformedBody(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"not": "a list"}`)),
		}, nil)

	p := httpprovider.New(httpprovider.Config{Name: "provider_a", URL: "http://provider_a:9001/search"},
		httpprovider.WithHTTPClient(httpClient))
	_, err := p.Fetch(t.Context())
	require.ErrorIs(t, err, providers.ErrProviderFailed)
}

func TestWithHeaders(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "bar", req.Header.Get("X-Foo"))
			require.Equal(t, "application/json", req.Header.Get("Accept"))
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`[]`)),
			}, nil
		})

	p := httpprovider.New(httpprovider.Config{
		Name:    "provider_a",
		URL:     "http://provider_a:9001/search",
		Headers: map[string]string{"X-Foo": "bar"},
	}, httpprovider.WithHTTPClient(httpClient))
	offers, err := p.Fetch(t.Context())
	require.NoError(t, err)
	require.Empty(t, offers)
}

func TestFromDescriptor(t *testing.T) {
	p := httpprovider.FromDescriptor(providers.Descriptor{Name: "provider_b", URL: "http://provider_b:9002/search", TimeoutSeconds: 90})
	require.Equal(t, "provider_b", p.Name())
	require.Equal(t, 90*time.Second, p.Timeout())
}
