package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a finalized fixed-interval trade summary for one market.
// Exactly one bar exists per elapsed interval; a bar is immutable once
// emitted. During a data gap the aggregator emits carry-forward bars with
// zero volumes and the previous bar's price fields.
type Bar struct {
	Market        Market
	IntervalStart time.Time
	BaseVolume    decimal.Decimal
	BuyVolume     decimal.Decimal
	SellVolume    decimal.Decimal
	BuyCount      uint32
	SellCount     uint32
	MeanPrice     decimal.Decimal
	VWAP          decimal.Decimal
}
