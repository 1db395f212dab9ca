// Package tick defines the book-ticker snapshot relayed through the
// transports and its wire codec.
package tick

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tick is one best bid/ask snapshot for a symbol. Prices and quantities
// keep the exchange's exact decimal text.
type Tick struct {
	Symbol   string
	BidPrice string
	BidQty   string
	AskPrice string
	AskQty   string

	// Timestamp is the monotonic capture time in nanoseconds, stamped by
	// the publisher when the tick enters the pipeline.
	Timestamp int64
}

// Validate checks that every price and quantity present parses as a decimal.
func (t Tick) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"b", t.BidPrice},
		{"B", t.BidQty},
		{"a", t.AskPrice},
		{"A", t.AskQty},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := decimal.NewFromString(f.value); err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return nil
}

// Spread returns ask minus bid.
func (t Tick) Spread() (decimal.Decimal, error) {
	bid, err := decimal.NewFromString(t.BidPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bid price: %w", err)
	}
	ask, err := decimal.NewFromString(t.AskPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ask price: %w", err)
	}
	return ask.Sub(bid), nil
}
