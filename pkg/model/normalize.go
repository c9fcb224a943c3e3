package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize turns a raw listing into an Item.
// filter is the denomination the listing was queried with (0 when unfiltered).
// The returned error wraps ErrMalformedListing; callers drop the listing and continue.
func Normalize(l Listing, class Class, filter int) (Item, error) {
	if l.Price == nil {
		return Item{}, fmt.Errorf("%w: token %q has no floor ask price", ErrMalformedListing, l.TokenID)
	}

	denom, err := denominationFor(l, class, filter)
	if err != nil {
		return Item{}, err
	}

	it := Item{
		ID:           orDefault(l.TokenID, "Unknown"),
		Class:        class,
		Denomination: denom,
		Price:        *l.Price,
		Collection:   l.Collection,
		Name:         orDefault(l.Name, "Unnamed"),
		Image:        l.Image,
	}
	if err := it.Validate(); err != nil {
		return Item{}, err
	}
	return it, nil
}

func denominationFor(l Listing, class Class, filter int) (int, error) {
	if class == ClassEdition {
		return MaxDenomination, nil
	}
	if filter > 0 {
		return filter, nil
	}
	if d, ok := leadingInt(l.GridLabel); ok {
		return d, nil
	}
	// names look like "20 Checks" or "Checks 1234"; only a leading number is a grid size
	if d, ok := leadingInt(l.Name); ok {
		return d, nil
	}
	return 0, fmt.Errorf("%w: token %q has no grid label", ErrUnknownDenomination, l.TokenID)
}

func leadingInt(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
