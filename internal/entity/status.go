package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus is the per-market trading state mutated by the signal
// engine on each evaluation cycle. One instance exists per market worker;
// it is never shared across workers.
type MarketStatus struct {
	Market          Market
	Bought          bool
	LastBuyTime     time.Time
	BuySignalPrice  decimal.Decimal
	StopGainActive  bool
	StopGainPercent decimal.Decimal
	// BuyOrder is the completed buy order paired with the next sell.
	BuyOrder *Order
}

func NewMarketStatus(market Market, stopGainPercent decimal.Decimal) *MarketStatus {
	return &MarketStatus{
		Market:          market,
		StopGainPercent: stopGainPercent,
	}
}

// ResetAfterSell returns the status to its initial trading state once a
// sell has been signalled.
func (s *MarketStatus) ResetAfterSell(stopGainPercent decimal.Decimal) {
	s.Bought = false
	s.BuySignalPrice = decimal.Zero
	s.StopGainActive = false
	s.StopGainPercent = stopGainPercent
	s.BuyOrder = nil
}
