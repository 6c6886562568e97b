package exchange

import (
	"context"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cryptick/internal/entity"
)

const bybitHistoryLimit = 500

// NewBybitClient builds an authenticated Bybit REST client.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	return bybit.NewClient().WithAuth(apiKey, apiSecret)
}

// BybitSource implements MarketDataSource on the Bybit v5 public trading
// history. Bybit does not expose a dense per-market sequence number, so
// numeric exec ids are used when present and the millisecond timestamp
// otherwise; both are monotone, which is what ledger merging needs.
type BybitSource struct {
	client *bybit.Client
}

func NewBybitSource(client *bybit.Client) *BybitSource {
	return &BybitSource{client: client}
}

func (s *BybitSource) FetchMarketHistory(ctx context.Context, market entity.Market) ([]entity.TradeRecord, error) {
	limit := bybitHistoryLimit
	resp, err := s.client.V5().Market().GetPublicTradingHistory(bybit.V5GetPublicTradingHistoryParam{
		Category: "spot",
		Symbol:   bybit.SymbolV5(market.Symbol()),
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch trading history for %s", market.String())
	}

	// Bybit returns newest-first already.
	records := make([]entity.TradeRecord, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse trade price %q", item.Price)
		}
		size, err := decimal.NewFromString(item.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse trade size %q", item.Size)
		}
		ms, err := strconv.ParseInt(item.Time, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse trade time %q", item.Time)
		}

		id, err := strconv.ParseUint(item.ExecID, 10, 64)
		if err != nil {
			id = uint64(ms)
		}

		side := entity.SideBuy
		if item.Side == bybit.SideSell {
			side = entity.SideSell
		}

		records = append(records, entity.TradeRecord{
			ID:        id,
			Timestamp: time.UnixMilli(ms),
			Price:     price,
			Total:     entity.Quantize(price.Mul(size)),
			Side:      side,
		})
	}

	return records, nil
}

// BybitExchange implements Client against the Bybit v5 spot API.
type BybitExchange struct {
	client *bybit.Client
}

func NewBybitExchange(client *bybit.Client) *BybitExchange {
	return &BybitExchange{client: client}
}

func (e *BybitExchange) PlaceLimitOrder(ctx context.Context, market entity.Market, side entity.Side, quantity, price decimal.Decimal) (string, error) {
	sideType := bybit.SideBuy
	if side == entity.SideSell {
		sideType = bybit.SideSell
	}

	priceStr := price.String()
	resp, err := e.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:  "spot",
		Symbol:    bybit.SymbolV5(market.Symbol()),
		Side:      sideType,
		OrderType: bybit.OrderTypeLimit,
		Qty:       quantity.String(),
		Price:     &priceStr,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to place %s limit order for %s", side, market.String())
	}

	return resp.Result.OrderID, nil
}

func (e *BybitExchange) GetOrderStatus(ctx context.Context, market entity.Market, orderID string) (OrderStatusSnapshot, error) {
	symbol := bybit.SymbolV5(market.Symbol())
	resp, err := e.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: "spot",
		Symbol:   &symbol,
		OrderID:  &orderID,
	})
	if err != nil {
		return OrderStatusSnapshot{}, errors.Wrapf(err, "failed to query order %s for %s", orderID, market.String())
	}
	if len(resp.Result.List) == 0 {
		// The realtime query window has moved past the order.
		return OrderStatusSnapshot{}, errors.Errorf("order %s not found for %s", orderID, market.String())
	}

	item := resp.Result.List[0]
	filled := decimal.Zero
	if item.CumExecQty != "" {
		filled, err = decimal.NewFromString(item.CumExecQty)
		if err != nil {
			return OrderStatusSnapshot{}, errors.Wrap(err, "failed to parse executed quantity")
		}
	}
	total := decimal.Zero
	if item.CumExecValue != "" {
		total, err = decimal.NewFromString(item.CumExecValue)
		if err != nil {
			return OrderStatusSnapshot{}, errors.Wrap(err, "failed to parse executed value")
		}
	}

	open := item.OrderStatus == bybit.OrderStatusNew ||
		item.OrderStatus == bybit.OrderStatusPartiallyFilled

	return OrderStatusSnapshot{
		Open:           open,
		FilledQuantity: filled,
		FilledTotal:    total,
	}, nil
}

func (e *BybitExchange) CancelOrder(ctx context.Context, market entity.Market, orderID string) (bool, error) {
	_, err := e.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category: "spot",
		Symbol:   bybit.SymbolV5(market.Symbol()),
		OrderID:  &orderID,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to cancel order %s for %s", orderID, market.String())
	}
	return true, nil
}

func (e *BybitExchange) GetTicker(ctx context.Context, market entity.Market) (Ticker, error) {
	symbol := bybit.SymbolV5(market.Symbol())
	resp, err := e.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return Ticker{}, errors.Wrapf(err, "failed to fetch tickers for %s", market.String())
	}
	if len(resp.Result.Spot.List) == 0 {
		return Ticker{}, errors.Errorf("empty ticker response for %s", market.String())
	}

	item := resp.Result.Spot.List[0]
	bid, err := decimal.NewFromString(item.Bid1Price)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "failed to parse bid price")
	}
	ask, err := decimal.NewFromString(item.Ask1Price)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "failed to parse ask price")
	}

	return Ticker{Bid: bid, Ask: ask}, nil
}
