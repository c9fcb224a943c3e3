package model

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Class identifies which collection a listing belongs to.
type Class string

const (
	// ClassUnit is the main collection; denomination comes from the listing's grid label.
	ClassUnit Class = "unit"
	// ClassEdition is the editions collection; every edition counts as denomination 80.
	ClassEdition Class = "edition"
)

const (
	// MaxDenomination is the largest grid size and the numerator of the yield formula.
	MaxDenomination = 80
	// TargetUnits is the number of sub-units in one full composite.
	TargetUnits = 64
)

// Denominations lists every valid grid size, largest first.
var Denominations = []int{80, 40, 20, 10, 5, 4, 2, 1}

// ValidDenomination reports whether d is a known grid size (and therefore divides 80).
func ValidDenomination(d int) bool {
	return slices.Contains(Denominations, d)
}

// Units returns the sub-units one item of denomination d contributes (80 / d).
func Units(d int) int {
	if d <= 0 {
		return 0
	}
	return MaxDenomination / d
}

// Item is one priced listing. Values are never modified after normalization.
type Item struct {
	ID           string          `json:"tokenId"`
	Class        Class           `json:"class"`
	Denomination int             `json:"gridSize"`
	Price        decimal.Decimal `json:"floorAskPrice"`
	Collection   string          `json:"contractAddress"`
	Name         string          `json:"name"`
	Image        string          `json:"image"`
}

// Units returns the sub-units this item contributes toward TargetUnits.
func (i Item) Units() int {
	return Units(i.Denomination)
}

// Validate checks the invariants an item must satisfy before entering a snapshot.
func (i Item) Validate() error {
	if i.Price.IsNegative() {
		return fmt.Errorf("%w: token %s has negative price %s", ErrMalformedListing, i.ID, i.Price)
	}
	if i.Class == ClassEdition && i.Denomination != MaxDenomination {
		return fmt.Errorf("%w: edition %s must be denomination %d, got %d",
			ErrUnknownDenomination, i.ID, MaxDenomination, i.Denomination)
	}
	if !ValidDenomination(i.Denomination) {
		return fmt.Errorf("%w: token %s has denomination %d", ErrUnknownDenomination, i.ID, i.Denomination)
	}
	return nil
}
