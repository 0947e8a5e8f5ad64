package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bher20/flightsearch/internal/rates"
	"github.com/bher20/flightsearch/internal/search"
	"github.com/bher20/flightsearch/internal/storage"
	"github.com/bher20/flightsearch/pkg/providers"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.FixedZone("ALMT", 5*3600))

type staticClient struct {
	name string
	raw  string
}

func (c staticClient) Name() string { return c.name }

func (c staticClient) Fetch(ctx context.Context) ([]providers.Offer, error) {
	var out []providers.Offer
	err := json.Unmarshal([]byte(c.raw), &out)
	return out, err
}

type fakeLoader struct {
	err error
}

func (f fakeLoader) Load(ctx context.Context, day time.Time) (*rates.Table, error) {
	if f.err != nil {
		return nil, f.err
	}
	return rates.NewTable(rates.DayKey(day), []rates.Entry{{Title: "USD", Rate: decimal.RequireFromString("450")}}), nil
}

type server struct {
	srv    *httptest.Server
	store  *storage.MemoryStorage
	engine *search.Engine
}

func newServer(t *testing.T, loader RateLoader, clients ...providers.Client) *server {
	t.Helper()
	st := storage.NewMemory()
	svc := rates.NewService(st)
	e, err := search.New(search.Config{Deadline: time.Minute, Location: fixedNow.Location()}, st, clients, svc,
		search.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	mux := NewMux(Deps{
		Search:    e,
		Rates:     svc,
		Loader:    loader,
		Store:     st,
		Providers: []providers.Descriptor{{Name: "provider_a", URL: "http://provider_a:9001/search", TimeoutSeconds: 90}},
		Location:  fixedNow.Location(),
		Now:       func() time.Time { return fixedNow },
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &server{srv: srv, store: st, engine: e}
}

func (s *server) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestSearchRoundTrip(t *testing.T) {
	s := newServer(t, nil,
		staticClient{name: "provider_a", raw: `[{"pricing":{"currency":"USD","total":"10"},"id":"a1"}]`},
		staticClient{name: "provider_b", raw: `[{"pricing":{"currency":"KZT","total":"4500"},"id":"b1"}]`},
	)
	payload, err := rates.EncodePayload([]rates.Entry{{Title: "USD", Rate: decimal.RequireFromString("500")}})
	require.NoError(t, err)
	require.NoError(t, s.store.SaveRateSnapshot(context.Background(), storage.RateSnapshot{Day: "2024-03-15", Payload: payload}))

	code, body := s.do(t, http.MethodPost, "/search")
	require.Equal(t, http.StatusOK, code)
	var started struct {
		SearchID string `json:"search_id"`
	}
	require.NoError(t, json.Unmarshal(body, &started))
	require.NotEmpty(t, started.SearchID)

	s.engine.Wait()

	code, body = s.do(t, http.MethodGet, "/request/"+started.SearchID+"/kzt/")
	require.Equal(t, http.StatusOK, code)

	var rec struct {
		Status string `json:"status"`
		Items  []struct {
			ID    string `json:"id"`
			Price struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"price"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))
	require.Equal(t, "COMPLETED", rec.Status)
	require.Len(t, rec.Items, 2)
	require.Equal(t, "b1", rec.Items[0].ID)
	require.Equal(t, "4500.00", rec.Items[0].Price.Amount)
	require.Equal(t, "a1", rec.Items[1].ID)
	require.Equal(t, "5000.00", rec.Items[1].Price.Amount)
	require.Equal(t, "KZT", rec.Items[1].Price.Currency)

	code, _ = s.do(t, http.MethodGet, "/request/"+started.SearchID+"/KZT")
	require.Equal(t, http.StatusOK, code)
}

func TestGetRequest_UnsupportedCurrency(t *testing.T) {
	s := newServer(t, nil)
	code, body := s.do(t, http.MethodGet, "/request/whatever/USD/")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"unsupported currency"}`, string(body))
}

func TestGetRequest_UnknownID(t *testing.T) {
	s := newServer(t, nil)
	code, _ := s.do(t, http.MethodGet, "/request/does-not-exist/KZT/")
	require.Equal(t, http.StatusNotFound, code)
}

func TestStartSearch_MethodNotAllowed(t *testing.T) {
	s := newServer(t, nil)
	code, _ := s.do(t, http.MethodGet, "/search")
	require.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestStartSearch_AfterClose(t *testing.T) {
	s := newServer(t, nil)
	require.NoError(t, s.engine.Close(context.Background()))
	code, _ := s.do(t, http.MethodPost, "/search")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRates(t *testing.T) {
	s := newServer(t, fakeLoader{})

	code, body := s.do(t, http.MethodGet, "/rates")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"date":"2024-03-15","rates":[]}`, string(body))

	code, body = s.do(t, http.MethodPost, "/rates/refresh")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"date":"2024-03-15","rates":[{"title":"USD","rate":"450"}]}`, string(body))

	code, _ = s.do(t, http.MethodGet, "/rates?date=15.03.2024")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestRatesRefresh_Failure(t *testing.T) {
	s := newServer(t, fakeLoader{err: errors.New("bank down")})
	code, body := s.do(t, http.MethodPost, "/rates/refresh")
	require.Equal(t, http.StatusBadGateway, code)
	require.Contains(t, string(body), "bank down")
}

func TestRatesRefresh_NoLoader(t *testing.T) {
	s := newServer(t, nil)
	code, _ := s.do(t, http.MethodPost, "/rates/refresh")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestProvidersAndHealth(t *testing.T) {
	s := newServer(t, nil)

	code, body := s.do(t, http.MethodGet, "/providers")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"providers":[{"name":"provider_a","url":"http://provider_a:9001/search","timeout_seconds":90}]}`, string(body))

	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready", "/livez": "live"} {
		code, body := s.do(t, http.MethodGet, path)
		require.Equal(t, http.StatusOK, code, path)
		require.Equal(t, want, string(body), path)
	}

	code, _ = s.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, code)
}
