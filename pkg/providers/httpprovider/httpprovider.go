package httpprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bher20/flightsearch/pkg/providers"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=httpprovider_test -destination=mock_http_client_test.go -source=httpprovider.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes one upstream search endpoint.
type Config struct {
	Name    string
	URL     string
	Method  string
	Timeout time.Duration
	Headers map[string]string
}

// Provider calls a search endpoint that answers with a JSON list of offers.
type Provider struct {
	cfg    Config
	client HTTPClient
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c HTTPClient) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// New creates a Provider. Method defaults to POST, which is what the
// upstream search services accept.
func New(cfg Config, opts ...Option) *Provider {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	p := &Provider{cfg: cfg, client: defaultClient()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromDescriptor builds a Provider from a configured descriptor.
func FromDescriptor(d providers.Descriptor, opts ...Option) *Provider {
	return New(Config{
		Name:    d.Name,
		URL:     d.URL,
		Timeout: time.Duration(d.TimeoutSeconds) * time.Second,
	}, opts...)
}

func (p *Provider) Name() string { return p.cfg.Name }

// Timeout returns the per-call deadline applied by Fetch.
func (p *Provider) Timeout() time.Duration { return p.cfg.Timeout }

func (p *Provider) Fetch(ctx context.Context) ([]providers.Offer, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, p.cfg.URL, nil)
	if err != nil {
		return nil, &providers.Error{Provider: p.cfg.Name, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.wrap(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &providers.Error{Provider: p.cfg.Name, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var offers []providers.Offer
	if err := json.NewDecoder(resp.Body).Decode(&offers); err != nil {
		return nil, p.wrap(ctx, fmt.Errorf("decode: %w", err))
	}
	return offers, nil
}

func (p *Provider) wrap(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return &providers.TimeoutError{Provider: p.cfg.Name, Err: err}
	}
	return &providers.Error{Provider: p.cfg.Name, Err: err}
}

func defaultClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// The per-call deadline comes from ctx.
	return &http.Client{Transport: transport}
}
