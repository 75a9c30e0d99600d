package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompletedTrade is a verified purchase handed to the recorder.
type CompletedTrade struct {
	Sale     SaleRecord
	Offer    MarketOffer
	BoughtAt time.Time
}

// ListingConfig is the snapshot consumed by the downstream listing tool. The
// JSON field names and string-typed values are part of that tool's contract.
type ListingConfig struct {
	Token    string `json:"token"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
}

// TransactionLogEntry is one append-only line of the transaction log.
type TransactionLogEntry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Token         string          `json:"token"`
	Quantity      int64           `json:"quantity"`
	PriceKAS      decimal.Decimal `json:"price_kas"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	OrderID       string          `json:"order_id,omitempty"`
	ListingConfig ListingConfig   `json:"listing_config"`
}
