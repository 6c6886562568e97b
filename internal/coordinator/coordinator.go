// Package coordinator wires the pipeline: a scraper worker polls trade
// history into interval bars, a signal worker evaluates bar windows into
// order intents, and a manager worker drives orders to completion. The
// workers share nothing and communicate over channels.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptick/internal/entity"
	"cryptick/internal/exchange"
	"cryptick/internal/services/aggregator"
	"cryptick/internal/services/signal"
	"cryptick/pkg/retrier"
)

const (
	barBuffer    = 64
	intentBuffer = 16
	flattenGrace = 30 * time.Second
)

// BarSink persists finalized bars and completed trade summaries.
type BarSink interface {
	EnsureMarketTable(ctx context.Context, market entity.Market) error
	InsertBars(ctx context.Context, market entity.Market, bars []entity.Bar) error
	InsertTradeSummary(ctx context.Context, summary entity.TradeSummary) error
}

// TradeJournal is the local append-only log of completed round trips.
type TradeJournal interface {
	Append(summary entity.TradeSummary) error
}

// OrderManager is the order lifecycle surface the coordinator drives.
type OrderManager interface {
	Submit(ctx context.Context, intent entity.OrderIntent)
	Poll(ctx context.Context)
	Flatten(ctx context.Context)
	Completed() <-chan *entity.Order
}

type Config struct {
	Markets []entity.Market
	// ScrapeInterval is the history polling cadence; it is shorter than
	// the bar interval so overlapping batches keep coverage gapless.
	ScrapeInterval    time.Duration
	OrderPollInterval time.Duration
	// Lookback caps the bar window kept per market.
	Lookback int
}

type marketBars struct {
	market entity.Market
	bars   []entity.Bar
}

// Coordinator owns the worker goroutines and the control gates.
type Coordinator struct {
	cfg     Config
	source  exchange.MarketDataSource
	book    *aggregator.Book
	rules   signal.Rules
	engine  *signal.Engine
	manager OrderManager
	sink    BarSink
	journal TradeJournal
	retrier *retrier.Retrier
	l       *zap.Logger

	scraping  atomic.Bool
	trading   atomic.Bool
	buyAmount atomic.Pointer[decimal.Decimal]

	barCh    chan marketBars
	intentCh chan entity.OrderIntent
	amountCh chan decimal.Decimal
}

// New assembles a coordinator. Sink and journal may be nil, in which case
// persistence is skipped.
func New(cfg Config, source exchange.MarketDataSource, book *aggregator.Book, rules signal.Rules, mgr OrderManager, sink BarSink, journal TradeJournal, l *zap.Logger) *Coordinator {
	if cfg.Lookback < rules.MinHistory() {
		cfg.Lookback = rules.MinHistory()
	}
	c := &Coordinator{
		cfg:      cfg,
		source:   source,
		book:     book,
		rules:    rules,
		engine:   signal.New(rules, l),
		manager:  mgr,
		sink:     sink,
		journal:  journal,
		retrier:  retrier.New(),
		l:        l,
		barCh:    make(chan marketBars, barBuffer),
		intentCh: make(chan entity.OrderIntent, intentBuffer),
		amountCh: make(chan decimal.Decimal, 1),
	}
	c.buyAmount.Store(&rules.BuyAmount)
	return c
}

// Control steers the pipeline gates. Stopping scraping also stops trading;
// starting trading implies scraping.
func (c *Coordinator) Control(sig entity.ControlSignal) {
	switch sig {
	case entity.ControlStart:
		c.scraping.Store(true)
	case entity.ControlStop:
		c.trading.Store(false)
		c.scraping.Store(false)
	case entity.ControlStartTrading:
		c.scraping.Store(true)
		c.trading.Store(true)
	case entity.ControlStopTrading:
		c.trading.Store(false)
	}
	c.l.Info("control signal applied",
		zap.String("signal", sig.String()),
		zap.Bool("scraping", c.scraping.Load()),
		zap.Bool("trading", c.trading.Load()))
}

// Scraping reports whether history polling is active.
func (c *Coordinator) Scraping() bool { return c.scraping.Load() }

// Trading reports whether signals are acted on.
func (c *Coordinator) Trading() bool { return c.trading.Load() }

// BuyAmount returns the base-currency amount committed per buy.
func (c *Coordinator) BuyAmount() decimal.Decimal { return *c.buyAmount.Load() }

// SetBuyAmount updates the per-buy base amount. The change is applied by
// the signal worker before its next evaluation.
func (c *Coordinator) SetBuyAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("buy amount must be positive")
	}
	// Only the latest pending update matters.
	select {
	case <-c.amountCh:
	default:
	}
	c.amountCh <- amount
	c.buyAmount.Store(&amount)
	return nil
}

// Run starts the workers and blocks until ctx is cancelled and shutdown
// has finished. Shutdown is ordered: production stops first, then every
// resting order is flattened.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.sink != nil {
		for _, market := range c.cfg.Markets {
			if err := c.sink.EnsureMarketTable(ctx, market); err != nil {
				return errors.Wrapf(err, "failed to prepare storage for %s", market.String())
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.scrapeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.signalLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.managerLoop(ctx)
	}()
	wg.Wait()

	flattenCtx, cancel := context.WithTimeout(context.Background(), flattenGrace)
	defer cancel()
	c.l.Info("flattening open orders on shutdown")
	c.manager.Flatten(flattenCtx)

	return nil
}

func (c *Coordinator) scrapeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ScrapeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !c.scraping.Load() {
			continue
		}
		c.scrapeOnce(ctx)
	}
}

func (c *Coordinator) scrapeOnce(ctx context.Context) {
	for _, market := range c.cfg.Markets {
		records, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]entity.TradeRecord, error) {
			return c.source.FetchMarketHistory(ctx, market)
		})
		if err != nil {
			// The next scrape's overlap covers the missed window; the
			// aggregator fills any true gap with carry-forward bars.
			c.l.Error("history fetch failed",
				zap.String("market", market.String()),
				zap.Error(err))
			continue
		}

		bars := c.book.Ingest(market, records)
		if len(bars) == 0 {
			continue
		}

		if c.sink != nil {
			err := c.retrier.Do(ctx, func(ctx context.Context) error {
				return c.sink.InsertBars(ctx, market, bars)
			})
			if err != nil {
				c.l.Error("bar insert failed",
					zap.String("market", market.String()),
					zap.Int("bars", len(bars)),
					zap.Error(err))
			}
		}

		select {
		case c.barCh <- marketBars{market: market, bars: bars}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) signalLoop(ctx context.Context) {
	windows := make(map[string][]entity.Bar, len(c.cfg.Markets))
	statuses := make(map[string]*entity.MarketStatus, len(c.cfg.Markets))
	pendingBuys := make(map[string]*entity.Order, len(c.cfg.Markets))

	for {
		select {
		case <-ctx.Done():
			return

		case amount := <-c.amountCh:
			c.rules.BuyAmount = amount
			c.engine = signal.New(c.rules, c.l)
			c.l.Info("buy amount updated", zap.String("amount", amount.String()))

		case mb := <-c.barCh:
			key := mb.market.String()
			window := append(windows[key], mb.bars...)
			if len(window) > c.cfg.Lookback {
				window = window[len(window)-c.cfg.Lookback:]
			}
			windows[key] = window

			if !c.trading.Load() {
				continue
			}

			status, ok := statuses[key]
			if !ok {
				status = entity.NewMarketStatus(mb.market, c.rules.StopGainPercent)
				statuses[key] = status
			}

			intent := c.engine.Evaluate(window, status)
			if intent == nil {
				continue
			}
			select {
			case c.intentCh <- *intent:
			case <-ctx.Done():
				return
			}

		case order := <-c.manager.Completed():
			c.handleCompleted(order, statuses, pendingBuys)
		}
	}
}

// handleCompleted folds a terminal order back into the market state: buys
// arm the sell leg, sells close the round trip and produce a summary.
func (c *Coordinator) handleCompleted(order *entity.Order, statuses map[string]*entity.MarketStatus, pendingBuys map[string]*entity.Order) {
	key := order.Market.String()
	status, ok := statuses[key]
	if !ok {
		status = entity.NewMarketStatus(order.Market, c.rules.StopGainPercent)
		statuses[key] = status
	}

	switch {
	case order.Side == entity.SideBuy && order.Status == entity.OrderCompleted:
		status.BuyOrder = order
		pendingBuys[key] = order

	case order.Side == entity.SideBuy && order.Status == entity.OrderSkipped:
		// The position never opened; clear the buy flag so the market can
		// be entered again after the cooldown.
		c.l.Warn("buy order skipped, re-arming entry",
			zap.String("market", key))
		status.ResetAfterSell(c.rules.StopGainPercent)

	case order.Side == entity.SideSell && order.Status == entity.OrderCompleted:
		buy, ok := pendingBuys[key]
		if !ok {
			c.l.Warn("completed sell has no paired buy",
				zap.String("market", key))
			return
		}
		delete(pendingBuys, key)
		c.recordRoundTrip(buy, order)

	case order.Side == entity.SideSell && order.Status == entity.OrderSkipped:
		// The position is still held. Restore the exit state so the next
		// evaluation retries the sell.
		buy, ok := pendingBuys[key]
		if !ok {
			c.l.Error("skipped sell with no paired buy, position untracked",
				zap.String("market", key))
			return
		}
		c.l.Warn("sell order skipped, retrying exit",
			zap.String("market", key))
		status.Bought = true
		status.BuyOrder = buy
		status.BuySignalPrice = buy.TargetPrice
	}
}

func (c *Coordinator) recordRoundTrip(buy, sell *entity.Order) {
	summary := entity.NewTradeSummary(buy, sell)
	c.l.Info("round trip completed",
		zap.String("market", summary.Market.String()),
		zap.String("profit", summary.Profit.String()),
		zap.String("percent", summary.Percent.String()))

	if c.journal != nil {
		if err := c.journal.Append(summary); err != nil {
			c.l.Error("trade journal append failed", zap.Error(err))
		}
	}
	if c.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.sink.InsertTradeSummary(ctx, summary)
		})
		if err != nil {
			c.l.Error("trade summary insert failed", zap.Error(err))
		}
	}
}

func (c *Coordinator) managerLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.OrderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-c.intentCh:
			c.manager.Submit(ctx, intent)
		case <-ticker.C:
			c.manager.Poll(ctx)
		}
	}
}
