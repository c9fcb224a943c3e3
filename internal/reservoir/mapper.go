package reservoir

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// GridAttribute is the trait that carries a unit's grid size.
const GridAttribute = "Checks"

// ToListing converts one token entry. A missing floor ask leaves Price nil;
// normalization drops such listings downstream.
func ToListing(e TokenEntry, fallbackContract string) model.Listing {
	l := model.Listing{
		TokenID:    e.Token.TokenID,
		Name:       e.Token.Name,
		Image:      e.Token.Image,
		Collection: strings.ToLower(e.Token.Contract),
		GridLabel:  attribute(e.Token.Attributes, GridAttribute),
		Price:      nativePrice(e.Market),
	}
	if l.Collection == "" {
		l.Collection = fallbackContract
	}
	return l
}

func nativePrice(m Market) *decimal.Decimal {
	if m.FloorAsk == nil || m.FloorAsk.Price == nil || m.FloorAsk.Price.Amount == nil {
		return nil
	}
	return m.FloorAsk.Price.Amount.Native
}

func attribute(attrs []Attribute, key string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Key, key) {
			return a.Value
		}
	}
	return ""
}
