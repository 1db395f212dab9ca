// Package loadgen produces synthetic book-ticker ticks from a seeded
// random walk so runs are reproducible without an exchange connection.
package loadgen

import (
	"math/rand"

	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"github.com/shopspring/decimal"
)

// DefaultSymbols are used when none are configured.
var DefaultSymbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}

var basePrices = map[string]decimal.Decimal{
	"BTCUSDT": decimal.RequireFromString("64000.00"),
	"ETHUSDT": decimal.RequireFromString("3400.00"),
	"BNBUSDT": decimal.RequireFromString("580.00"),
}

var (
	tickSize = decimal.New(1, -2)
	minPrice = decimal.New(1, 0)
)

// Generator walks a mid price per symbol and quotes around it.
type Generator struct {
	rng     *rand.Rand
	symbols []string
	mids    map[string]decimal.Decimal
	next    int
}

// NewGenerator creates a generator. The same seed and symbols always
// yield the same tick sequence.
func NewGenerator(seed int64, symbols []string) *Generator {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	mids := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		mid, ok := basePrices[s]
		if !ok {
			mid = decimal.New(100, 0)
		}
		mids[s] = mid
	}
	return &Generator{
		rng:     rand.New(rand.NewSource(seed)),
		symbols: append([]string(nil), symbols...),
		mids:    mids,
	}
}

// Next returns the next tick, cycling through the symbols. The timestamp
// is left for the publisher to stamp.
func (g *Generator) Next() tick.Tick {
	symbol := g.symbols[g.next%len(g.symbols)]
	g.next++

	step := decimal.NewFromInt(int64(g.rng.Intn(21) - 10)).Mul(tickSize)
	mid := g.mids[symbol].Add(step)
	if mid.LessThan(minPrice) {
		mid = minPrice
	}
	g.mids[symbol] = mid

	halfSpread := decimal.NewFromInt(int64(1 + g.rng.Intn(5))).Mul(tickSize)
	return tick.Tick{
		Symbol:   symbol,
		BidPrice: mid.Sub(halfSpread).StringFixed(2),
		BidQty:   qty(g.rng),
		AskPrice: mid.Add(halfSpread).StringFixed(2),
		AskQty:   qty(g.rng),
	}
}

func qty(rng *rand.Rand) string {
	return decimal.New(int64(1+rng.Intn(100000)), -4).StringFixed(4)
}
