package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// TradeSummary is the immutable record of one completed buy/sell round
// trip, persisted after the sell order settles.
type TradeSummary struct {
	Market    Market          `json:"market"`
	BuyTime   time.Time       `json:"buy_time"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	BuyTotal  decimal.Decimal `json:"buy_total"`
	SellTime  time.Time       `json:"sell_time"`
	SellPrice decimal.Decimal `json:"sell_price"`
	SellTotal decimal.Decimal `json:"sell_total"`
	Profit    decimal.Decimal `json:"profit"`
	Percent   decimal.Decimal `json:"percent"`
}

// NewTradeSummary pairs a completed buy with its completed sell.
// Profit is the net totals difference; percent is profit relative to the
// buy total.
func NewTradeSummary(buy, sell *Order) TradeSummary {
	profit := Quantize(sell.FilledTotal.Sub(buy.FilledTotal))
	percent := decimal.Zero
	if !buy.FilledTotal.IsZero() {
		percent = Quantize(profit.Div(buy.FilledTotal).Mul(hundred))
	}
	return TradeSummary{
		Market:    buy.Market,
		BuyTime:   buy.ClosedAt,
		BuyPrice:  buy.TargetPrice,
		BuyTotal:  buy.FilledTotal,
		SellTime:  sell.ClosedAt,
		SellPrice: sell.TargetPrice,
		SellTotal: sell.FilledTotal,
		Profit:    profit,
		Percent:   percent,
	}
}
