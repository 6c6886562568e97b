// Package manager owns the order lifecycle: it prices intents against the
// live book, places limit orders, polls them to a terminal state and keeps
// the wallet ledger consistent with confirmed fills.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptick/internal/entity"
	"cryptick/internal/exchange"
	"cryptick/internal/services/wallet"
)

const (
	completedBuffer = 64

	// A shutdown liquidation order is polled this many times before it is
	// cancelled and settled with whatever filled.
	liquidationPolls    = 10
	liquidationInterval = 500 * time.Millisecond
	liquidationAttempts = 3
)

// Manager drives orders through Unexecuted -> Executed -> Completed/Skipped.
// An order is owned by the manager until it reaches a terminal state, at
// which point it is published on the Completed channel.
type Manager struct {
	client exchange.Client
	ledger *wallet.Ledger
	l      *zap.Logger

	// offsetPercent is the fraction of the bid/ask spread used to bias
	// limit prices toward the far side of the book.
	offsetPercent decimal.Decimal
	// maxOpen bounds how long an order may rest before it is cancelled.
	maxOpen time.Duration
	clock   func() time.Time

	mu        sync.Mutex
	active    []*entity.Order
	markets   map[string]entity.Market
	completed chan *entity.Order
}

func New(client exchange.Client, ledger *wallet.Ledger, offsetPercent decimal.Decimal, maxOpen time.Duration, l *zap.Logger) *Manager {
	return &Manager{
		client:        client,
		ledger:        ledger,
		l:             l,
		offsetPercent: offsetPercent,
		maxOpen:       maxOpen,
		clock:         time.Now,
		markets:       make(map[string]entity.Market),
		completed:     make(chan *entity.Order, completedBuffer),
	}
}

// Completed delivers orders that reached a terminal state.
func (m *Manager) Completed() <-chan *entity.Order {
	return m.completed
}

// ActiveCount returns the number of orders still resting on the exchange.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Submit prices and places an order for the intent. Failures never
// propagate as errors: an order that cannot be placed is Skipped and
// published, so a stuck exchange can only ever lose one opportunity.
func (m *Manager) Submit(ctx context.Context, intent entity.OrderIntent) {
	order := entity.NewOrder(intent)

	if err := m.place(ctx, order); err != nil {
		m.l.Warn("order placement failed, skipping",
			zap.String("market", order.Market.String()),
			zap.String("side", order.Side.String()),
			zap.Error(err))
		m.skip(ctx, order)
		return
	}

	m.l.Info("order placed",
		zap.String("market", order.Market.String()),
		zap.String("side", order.Side.String()),
		zap.String("price", order.TargetPrice.String()),
		zap.String("quantity", order.TargetQuantity.String()),
		zap.String("exchange_id", order.ExchangeID))

	m.mu.Lock()
	m.active = append(m.active, order)
	m.markets[order.Market.String()] = order.Market
	m.mu.Unlock()
}

func (m *Manager) place(ctx context.Context, order *entity.Order) error {
	if err := m.checkFunds(order); err != nil {
		return err
	}

	ticker, err := m.client.GetTicker(ctx, order.Market)
	if err != nil {
		return errors.Wrap(err, "failed to fetch ticker")
	}

	order.TargetPrice = limitPrice(order.Side, ticker, m.offsetPercent)
	if order.Side == entity.SideSell {
		// Sell the whole position, not just the signalled quantity, so
		// dust from earlier partial fills is flushed too.
		held := m.ledger.Quantity(order.Market.Coin)
		if held.GreaterThan(order.TargetQuantity) {
			order.TargetQuantity = held
		}
	}

	exchangeID, err := m.client.PlaceLimitOrder(ctx, order.Market, order.Side, order.TargetQuantity, order.TargetPrice)
	if err != nil {
		return errors.Wrap(err, "failed to place limit order")
	}

	order.ExchangeID = exchangeID
	order.Status = entity.OrderExecuted
	order.OpenedAt = m.clock()
	return nil
}

func (m *Manager) checkFunds(order *entity.Order) error {
	switch order.Side {
	case entity.SideBuy:
		if m.ledger.Quantity(m.ledger.Base()).LessThan(order.BaseQuantity) {
			return errors.Wrapf(wallet.ErrInsufficientFunds, "need %s %s", order.BaseQuantity, m.ledger.Base())
		}
	case entity.SideSell:
		if m.ledger.Quantity(order.Market.Coin).IsZero() {
			return errors.Wrapf(wallet.ErrInsufficientFunds, "no %s held", order.Market.Coin)
		}
	}
	return nil
}

// limitPrice biases the limit price into the spread: buys sit a fraction
// of the spread above the bid, sells the same fraction below the ask. A
// bias that would cross the book falls back to the near side.
func limitPrice(side entity.Side, ticker exchange.Ticker, offsetPercent decimal.Decimal) decimal.Decimal {
	buffer := entity.Quantize(ticker.Ask.Sub(ticker.Bid).Mul(offsetPercent))

	if side == entity.SideBuy {
		price := entity.Quantize(ticker.Bid.Add(buffer))
		if price.GreaterThanOrEqual(ticker.Ask) {
			return ticker.Bid
		}
		return price
	}

	price := entity.Quantize(ticker.Ask.Sub(buffer))
	if price.LessThanOrEqual(ticker.Bid) {
		return ticker.Ask
	}
	return price
}

// Poll advances every resting order one step. Orders that closed on the
// exchange are settled; orders resting longer than maxOpen are cancelled
// and settled with whatever filled. A status-poll failure triggers a
// best-effort cancel and skips the order, which fails safe: the wallet
// only ever reflects confirmed fills.
func (m *Manager) Poll(ctx context.Context) {
	m.mu.Lock()
	orders := m.active
	m.active = nil
	m.mu.Unlock()

	var still []*entity.Order
	for _, order := range orders {
		if m.pollOne(ctx, order) {
			still = append(still, order)
		}
	}

	m.mu.Lock()
	m.active = append(m.active, still...)
	m.mu.Unlock()
}

// pollOne reports whether the order is still resting.
func (m *Manager) pollOne(ctx context.Context, order *entity.Order) bool {
	snapshot, err := m.client.GetOrderStatus(ctx, order.Market, order.ExchangeID)
	if err != nil {
		m.l.Warn("order status poll failed, cancelling",
			zap.String("market", order.Market.String()),
			zap.String("exchange_id", order.ExchangeID),
			zap.Error(err))
		m.cancelAndSkip(ctx, order)
		return false
	}

	if !snapshot.Open {
		m.settle(ctx, order, snapshot)
		return false
	}

	if m.clock().Sub(order.OpenedAt) > m.maxOpen {
		m.l.Info("order open past deadline, cancelling",
			zap.String("market", order.Market.String()),
			zap.String("exchange_id", order.ExchangeID))
		m.cancelAndSettle(ctx, order, snapshot)
		return false
	}

	return true
}

// settle moves a closed order to its terminal state and commits its fills
// to the wallet. Zero-fill closes are Skipped; anything that filled, even
// partially, is Completed with the confirmed quantities.
func (m *Manager) settle(ctx context.Context, order *entity.Order, snapshot exchange.OrderStatusSnapshot) {
	order.FilledQuantity = entity.Quantize(snapshot.FilledQuantity)
	order.FilledTotal = entity.Quantize(snapshot.FilledTotal)
	order.ClosedAt = m.clock()

	if order.FilledQuantity.IsZero() {
		order.Status = entity.OrderSkipped
		m.publish(ctx, order)
		return
	}

	var err error
	if order.Side == entity.SideBuy {
		err = m.ledger.Update(order.Market.Coin, order.FilledQuantity, order.FilledTotal.Neg())
	} else {
		err = m.ledger.Update(order.Market.Coin, order.FilledQuantity.Neg(), order.FilledTotal)
	}
	if err != nil {
		// The exchange confirmed the fill; a ledger mismatch means our
		// view of balances has drifted.
		m.l.Error("wallet update failed after confirmed fill",
			zap.String("market", order.Market.String()),
			zap.String("exchange_id", order.ExchangeID),
			zap.Error(err))
	}

	order.Status = entity.OrderCompleted
	m.l.Info("order completed",
		zap.String("market", order.Market.String()),
		zap.String("side", order.Side.String()),
		zap.String("filled_quantity", order.FilledQuantity.String()),
		zap.String("filled_total", order.FilledTotal.String()))
	m.publish(ctx, order)
}

// cancelAndSettle cancels a resting order and settles it. last is the most
// recent confirmed status snapshot: if the exchange cannot be reached again,
// the order settles with those fills rather than discarding them.
func (m *Manager) cancelAndSettle(ctx context.Context, order *entity.Order, last exchange.OrderStatusSnapshot) {
	if _, err := m.client.CancelOrder(ctx, order.Market, order.ExchangeID); err != nil {
		m.l.Error("manual intervention required: cancel failed, order may still rest on the exchange",
			zap.String("market", order.Market.String()),
			zap.String("exchange_id", order.ExchangeID),
			zap.Error(err))
		m.settle(ctx, order, last)
		return
	}

	// Re-query once to capture fills that landed before the cancel.
	snapshot, err := m.client.GetOrderStatus(ctx, order.Market, order.ExchangeID)
	if err != nil {
		m.l.Warn("post-cancel status poll failed, settling with last known fills",
			zap.String("market", order.Market.String()),
			zap.String("exchange_id", order.ExchangeID),
			zap.Error(err))
		m.settle(ctx, order, last)
		return
	}
	m.settle(ctx, order, snapshot)
}

func (m *Manager) cancelAndSkip(ctx context.Context, order *entity.Order) {
	if _, err := m.client.CancelOrder(ctx, order.Market, order.ExchangeID); err != nil {
		m.l.Warn("best-effort cancel failed",
			zap.String("market", order.Market.String()),
			zap.String("exchange_id", order.ExchangeID),
			zap.Error(err))
	}
	m.skip(ctx, order)
}

func (m *Manager) skip(ctx context.Context, order *entity.Order) {
	order.Status = entity.OrderSkipped
	order.ClosedAt = m.clock()
	m.publish(ctx, order)
}

// publish delivers the terminal order, blocking until the consumer takes it
// so a burst of completions cannot silently strand a position. Only context
// cancellation may drop a notification.
func (m *Manager) publish(ctx context.Context, order *entity.Order) {
	select {
	case m.completed <- order:
	case <-ctx.Done():
		m.l.Error("terminal order notification dropped on cancelled context",
			zap.String("market", order.Market.String()),
			zap.String("exchange_id", order.ExchangeID),
			zap.String("status", order.Status.String()))
	}
}

// Flatten is the shutdown path: it cancels every resting order, settles
// whatever filled, then liquidates residual coin holdings with bid-priced
// sells that are polled to settlement. The wallet ends flat for every traded
// market, or a manual-intervention entry is logged.
func (m *Manager) Flatten(ctx context.Context) {
	m.mu.Lock()
	orders := m.active
	m.active = nil
	m.mu.Unlock()

	for _, order := range orders {
		snapshot, err := m.client.GetOrderStatus(ctx, order.Market, order.ExchangeID)
		if err != nil {
			m.cancelAndSkip(ctx, order)
			continue
		}
		if !snapshot.Open {
			m.settle(ctx, order, snapshot)
			continue
		}
		m.cancelAndSettle(ctx, order, snapshot)
	}

	for _, market := range m.tradedMarkets() {
		m.flattenPosition(ctx, market)
	}
}

// flattenPosition sells the market's residual holding and waits for the
// wallet to reflect the exit, retrying for dust left by partial fills.
func (m *Manager) flattenPosition(ctx context.Context, market entity.Market) {
	for attempt := 0; attempt < liquidationAttempts; attempt++ {
		held := m.ledger.Quantity(market.Coin)
		if held.IsZero() {
			return
		}
		if err := m.liquidate(ctx, market, held); err != nil {
			m.l.Error("manual intervention required: residual position not flat",
				zap.String("market", market.String()),
				zap.String("quantity", held.String()),
				zap.Error(err))
			return
		}
	}

	if remaining := m.ledger.Quantity(market.Coin); !remaining.IsZero() {
		m.l.Error("manual intervention required: residual position not flat",
			zap.String("market", market.String()),
			zap.String("quantity", remaining.String()))
	}
}

// liquidate places one bid-priced sell for the holding and drives it to a
// terminal state so confirmed fills reach the wallet.
func (m *Manager) liquidate(ctx context.Context, market entity.Market, held decimal.Decimal) error {
	ticker, err := m.client.GetTicker(ctx, market)
	if err != nil {
		return errors.Wrap(err, "could not price residual position")
	}

	order := entity.NewOrder(entity.OrderIntent{
		Market:         market,
		Side:           entity.SideSell,
		TargetQuantity: held,
	})
	// Sell at the bid so the order crosses immediately.
	order.TargetPrice = ticker.Bid

	exchangeID, err := m.client.PlaceLimitOrder(ctx, market, entity.SideSell, held, ticker.Bid)
	if err != nil {
		return errors.Wrap(err, "residual sell rejected")
	}
	order.ExchangeID = exchangeID
	order.Status = entity.OrderExecuted
	order.OpenedAt = m.clock()

	var last exchange.OrderStatusSnapshot
poll:
	for i := 0; i < liquidationPolls; i++ {
		snapshot, err := m.client.GetOrderStatus(ctx, order.Market, order.ExchangeID)
		if err == nil {
			if !snapshot.Open {
				m.settle(ctx, order, snapshot)
				m.l.Info("residual position liquidated on shutdown",
					zap.String("market", market.String()),
					zap.String("quantity", order.FilledQuantity.String()))
				return nil
			}
			last = snapshot
		}
		select {
		case <-ctx.Done():
			break poll
		case <-time.After(liquidationInterval):
		}
	}

	m.cancelAndSettle(ctx, order, last)
	return nil
}

// tradedMarkets is every market an order was ever placed on, so residual
// positions from earlier sessions of this run are flattened too.
func (m *Manager) tradedMarkets() []entity.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	markets := make([]entity.Market, 0, len(m.markets))
	for _, market := range m.markets {
		markets = append(markets, market)
	}
	return markets
}
