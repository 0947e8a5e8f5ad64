package providers

import (
	"context"
	"errors"
	"fmt"
)

// Client is the contract shared by every upstream search provider.
// Implementations are stateless: one Fetch per search, no retries.
type Client interface {
	// Name returns the unique name of the provider (e.g., "provider_a").
	Name() string
	// Fetch runs one search against the provider. It must honour ctx
	// cancellation and return a *TimeoutError when the deadline passes.
	Fetch(ctx context.Context) ([]Offer, error)
}

// Descriptor describes a configured provider endpoint.
type Descriptor struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Common errors shared across providers.
var (
	ErrProviderTimeout = errors.New("provider timed out")
	ErrProviderFailed  = errors.New("provider request failed")
)

// TimeoutError is returned when a provider does not answer before the
// caller's deadline.
type TimeoutError struct {
	Provider string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrProviderTimeout }

// Error is returned for transport failures, non-2xx responses and
// undecodable payloads.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrProviderFailed }
