package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the listing source could not produce a catalog
	// (unreachable, non-success after retries, timeout, or an empty result).
	ErrSourceUnavailable = errors.New("listing source unavailable")

	// ErrMalformedListing marks a single listing that lacks required pricing data.
	ErrMalformedListing = errors.New("malformed listing")

	// ErrUnknownDenomination marks a listing whose grid size does not divide 80.
	// errors.Is(err, ErrMalformedListing) also holds for it.
	ErrUnknownDenomination = fmt.Errorf("%w: unknown denomination", ErrMalformedListing)
)
