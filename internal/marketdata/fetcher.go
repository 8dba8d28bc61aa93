package marketdata

import (
	"context"
	"time"
)

// BookFetcher retrieves the current depth-of-book for one symbol.
type BookFetcher interface {
	FetchBookSnapshot(ctx context.Context, symbol string) (OrderBookSnapshot, error)
}

// TapeFetcher retrieves executed trades for one symbol inside a time range,
// ordered oldest first.
type TapeFetcher interface {
	FetchTape(ctx context.Context, symbol string, start, end time.Time) ([]TradeTick, error)
}
