package reservoir

import "github.com/shopspring/decimal"

// TokensResponse is the subset of the tokens/v6 payload the optimizer reads.
type TokensResponse struct {
	Tokens       []TokenEntry `json:"tokens"`
	Continuation *string      `json:"continuation"`
}

type TokenEntry struct {
	Token  Token  `json:"token"`
	Market Market `json:"market"`
}

type Token struct {
	Contract   string      `json:"contract"`
	TokenID    string      `json:"tokenId"`
	Name       string      `json:"name"`
	Image      string      `json:"image"`
	Attributes []Attribute `json:"attributes"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Market struct {
	FloorAsk *FloorAsk `json:"floorAsk"`
}

type FloorAsk struct {
	ID    string `json:"id"`
	Price *Price `json:"price"`
}

type Price struct {
	Currency *Currency `json:"currency"`
	Amount   *Amount   `json:"amount"`
}

type Currency struct {
	Symbol string `json:"symbol"`
}

type Amount struct {
	Native  *decimal.Decimal `json:"native"`
	Decimal *decimal.Decimal `json:"decimal"`
}

// APIError is the error body Reservoir returns on 4xx.
type APIError struct {
	Status     int    `json:"statusCode"`
	ErrorLabel string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return "reservoir " + e.ErrorLabel + ": " + e.Message
	}
	return "reservoir error " + e.ErrorLabel
}
