package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side labels the aggressor side of an executed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side carries one of the two known labels.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// BookLevel is one resting price level of an order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  int64
}

// OrderBookSnapshot is a point-in-time view of the depth of book for one
// symbol. Bids are sorted descending by price, asks ascending.
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// TradeTick is one executed trade from the tape.
type TradeTick struct {
	Symbol    string
	Price     decimal.Decimal
	Size      int64
	Side      Side
	Timestamp time.Time
}
