package search

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCurrency is matched by *UnsupportedCurrencyError.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrClosed is returned by StartSearch after Close.
	ErrClosed = errors.New("search engine closed")
)

// UnsupportedCurrencyError is the typed result for a normalization request
// in any currency other than the configured target.
type UnsupportedCurrencyError struct {
	Requested string
	Supported string
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("unsupported currency %q (only %s is supported)", e.Requested, e.Supported)
}

func (e *UnsupportedCurrencyError) Is(target error) bool { return target == ErrUnsupportedCurrency }
