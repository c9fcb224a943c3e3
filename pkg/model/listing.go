package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// Listing is a raw marketplace entry as returned by a ListingSource, before normalization.
type Listing struct {
	TokenID    string
	Name       string
	Image      string
	Collection string
	// GridLabel is the collection's own grid attribute ("Checks"), if the source returned it.
	GridLabel string
	// Price is nil when the listing has no active floor ask.
	Price *decimal.Decimal
}

// PageQuery selects one page of listings for a class, optionally filtered by denomination.
type PageQuery struct {
	Class        Class
	Denomination int // 0 means unfiltered
	Continuation string
	Limit        int
}

// Page is one price-ascending page of listings.
type Page struct {
	Listings     []Listing
	Continuation string // empty when there are no more pages
}

// ListingSource supplies paginated, price-sorted listings.
// Implementations retry rate limits internally and surface non-retryable failures.
type ListingSource interface {
	FetchPage(ctx context.Context, q PageQuery) (Page, error)
}
