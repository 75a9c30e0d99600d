package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the notification a SaleRecord was parsed from.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// SaleRecord is a trade request extracted from a sale-confirmation email. It is
// immutable once enqueued and consumed exactly once by the dispatcher.
type SaleRecord struct {
	TokenSymbol string          `json:"token_symbol"`
	Quantity    int64           `json:"quantity"`
	PriceKAS    decimal.Decimal `json:"price_kas"`
	OrderID     string          `json:"order_id,omitempty"` // empty when the email carried none
	Subject     string          `json:"subject"`
	Type        TransactionType `json:"type"`
	MessageID   string          `json:"message_id,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// HasOrderID reports whether the record can take part in deduplication.
func (r SaleRecord) HasOrderID() bool {
	return r.OrderID != ""
}
