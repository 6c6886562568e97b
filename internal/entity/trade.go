package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Digits is the fixed fractional scale used for all exchange-facing
// arithmetic. Quantization is applied at every arithmetic boundary, not
// only at the end, to reproduce exchange precision semantics.
const Digits = 8

// Quantize rounds d to the exchange scale using banker's rounding.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Digits)
}

// Side of a trade or order.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// TradeRecord is a single raw trade reported by the exchange. ID is a
// monotonically increasing per-market sequence number used for dedup.
type TradeRecord struct {
	ID        uint64
	Timestamp time.Time
	Price     decimal.Decimal
	Total     decimal.Decimal
	Side      Side
}
