package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cryptick/internal/entity"
)

const binanceHistoryLimit = 500

// NewBinanceClient builds an authenticated Binance REST client.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// BinanceSource implements MarketDataSource on Binance aggregated trades.
// Aggregated trade ids are a dense per-market sequence, which makes them
// usable as the dedup key for ledger merging.
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource(client *binance.Client) *BinanceSource {
	return &BinanceSource{client: client}
}

func (s *BinanceSource) FetchMarketHistory(ctx context.Context, market entity.Market) ([]entity.TradeRecord, error) {
	trades, err := s.client.NewAggTradesService().
		Symbol(market.Symbol()).
		Limit(binanceHistoryLimit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch agg trades for %s", market.String())
	}

	// Binance returns oldest-first; the pipeline consumes newest-first.
	records := make([]entity.TradeRecord, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		tr := trades[i]

		price, err := decimal.NewFromString(tr.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse trade price %q", tr.Price)
		}
		quantity, err := decimal.NewFromString(tr.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse trade quantity %q", tr.Quantity)
		}

		side := entity.SideBuy
		if tr.IsBuyerMaker {
			// Maker was the buyer, so the aggressor sold.
			side = entity.SideSell
		}

		records = append(records, entity.TradeRecord{
			ID:        uint64(tr.AggTradeID),
			Timestamp: time.UnixMilli(tr.Timestamp),
			Price:     price,
			Total:     entity.Quantize(price.Mul(quantity)),
			Side:      side,
		})
	}

	return records, nil
}

// BinanceExchange implements Client against the Binance spot API.
type BinanceExchange struct {
	client *binance.Client
}

func NewBinanceExchange(client *binance.Client) *BinanceExchange {
	return &BinanceExchange{client: client}
}

func (e *BinanceExchange) PlaceLimitOrder(ctx context.Context, market entity.Market, side entity.Side, quantity, price decimal.Decimal) (string, error) {
	sideType := binance.SideTypeBuy
	if side == entity.SideSell {
		sideType = binance.SideTypeSell
	}

	resp, err := e.client.NewCreateOrderService().
		Symbol(market.Symbol()).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(quantity.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "failed to place %s limit order for %s", side, market.String())
	}

	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (e *BinanceExchange) GetOrderStatus(ctx context.Context, market entity.Market, orderID string) (OrderStatusSnapshot, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderStatusSnapshot{}, errors.Wrapf(err, "invalid binance order id %q", orderID)
	}

	order, err := e.client.NewGetOrderService().
		Symbol(market.Symbol()).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return OrderStatusSnapshot{}, errors.Wrapf(err, "failed to query order %s for %s", orderID, market.String())
	}

	filled, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return OrderStatusSnapshot{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	total, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return OrderStatusSnapshot{}, errors.Wrap(err, "failed to parse cumulative quote quantity")
	}

	open := order.Status == binance.OrderStatusTypeNew ||
		order.Status == binance.OrderStatusTypePartiallyFilled

	return OrderStatusSnapshot{
		Open:           open,
		FilledQuantity: filled,
		FilledTotal:    total,
	}, nil
}

func (e *BinanceExchange) CancelOrder(ctx context.Context, market entity.Market, orderID string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, errors.Wrapf(err, "invalid binance order id %q", orderID)
	}

	_, err = e.client.NewCancelOrderService().
		Symbol(market.Symbol()).
		OrderID(id).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == -2011 {
			// Unknown order: already filled or cancelled.
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to cancel order %s for %s", orderID, market.String())
	}

	return true, nil
}

func (e *BinanceExchange) GetTicker(ctx context.Context, market entity.Market) (Ticker, error) {
	tickers, err := e.client.NewListBookTickersService().
		Symbol(market.Symbol()).
		Do(ctx)
	if err != nil {
		return Ticker{}, errors.Wrapf(err, "failed to fetch book ticker for %s", market.String())
	}
	if len(tickers) == 0 {
		return Ticker{}, errors.Errorf("empty book ticker response for %s", market.String())
	}

	bid, err := decimal.NewFromString(tickers[0].BidPrice)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "failed to parse bid price")
	}
	ask, err := decimal.NewFromString(tickers[0].AskPrice)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "failed to parse ask price")
	}

	return Ticker{Bid: bid, Ask: ask}, nil
}
