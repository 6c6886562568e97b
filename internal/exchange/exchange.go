// Package exchange defines the capabilities the pipeline needs from a
// trading venue and provides Binance and Bybit implementations.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"cryptick/internal/entity"
)

// Ticker is the current best bid/ask for a market.
type Ticker struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// OrderStatusSnapshot is a point-in-time view of an exchange order.
type OrderStatusSnapshot struct {
	// Open reports whether the order can still fill.
	Open           bool
	FilledQuantity decimal.Decimal
	FilledTotal    decimal.Decimal
}

// MarketDataSource fetches recent trade history for a market, ordered
// newest-first. Reads are side-effect free and safe to retry.
type MarketDataSource interface {
	FetchMarketHistory(ctx context.Context, market entity.Market) ([]entity.TradeRecord, error)
}

// Client places and manages orders on the exchange.
type Client interface {
	// PlaceLimitOrder returns the exchange-assigned order identifier.
	PlaceLimitOrder(ctx context.Context, market entity.Market, side entity.Side, quantity, price decimal.Decimal) (string, error)
	GetOrderStatus(ctx context.Context, market entity.Market, orderID string) (OrderStatusSnapshot, error)
	// CancelOrder reports whether the order was actually cancelled; an
	// already-gone order yields (false, nil).
	CancelOrder(ctx context.Context, market entity.Market, orderID string) (bool, error)
	GetTicker(ctx context.Context, market entity.Market) (Ticker, error)
}
