package domain

import "github.com/shopspring/decimal"

// MarketOffer is a sell listing scraped from a marketplace button. It only
// lives for the duration of one negotiation attempt.
type MarketOffer struct {
	DisplayText   string          `json:"display_text"`
	TokenAmount   int64           `json:"token_amount"`
	TotalPriceKAS decimal.Decimal `json:"total_price_kas"`
	UnitPriceKAS  decimal.Decimal `json:"unit_price_kas"`
	Selector      ButtonSelector  `json:"-"`
}
