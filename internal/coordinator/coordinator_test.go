package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cryptick/internal/entity"
	"cryptick/internal/services/aggregator"
	"cryptick/internal/services/signal"
)

var testMarket = entity.Market{Base: "BTC", Coin: "XYZ"}

type fakeSource struct {
	mu      sync.Mutex
	records []entity.TradeRecord
}

func (s *fakeSource) FetchMarketHistory(_ context.Context, _ entity.Market) ([]entity.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, nil
}

type fakeManager struct {
	mu        sync.Mutex
	intents   []entity.OrderIntent
	polls     int
	flattens  int
	completed chan *entity.Order
}

func newFakeManager() *fakeManager {
	return &fakeManager{completed: make(chan *entity.Order, 8)}
}

func (m *fakeManager) Submit(_ context.Context, intent entity.OrderIntent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, intent)
}

func (m *fakeManager) Poll(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
}

func (m *fakeManager) Flatten(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flattens++
}

func (m *fakeManager) Completed() <-chan *entity.Order { return m.completed }

type fakeJournal struct {
	mu        sync.Mutex
	summaries []entity.TradeSummary
}

func (j *fakeJournal) Append(summary entity.TradeSummary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.summaries = append(j.summaries, summary)
	return nil
}

func testRules() signal.Rules {
	r := signal.DefaultRules()
	r.SampleBars = 1
	r.PriceLagBars = 5
	r.PriceLagWindow = 2
	r.VolumeLagBars = 5
	r.BuyAmount = decimal.RequireFromString("0.01")
	return r
}

// buyWindow satisfies every entry condition of testRules.
func buyWindow(now time.Time) []marketBars {
	price := decimal.NewFromInt(100)
	bars := make([]entity.Bar, 7)
	for i := range bars {
		bars[i] = entity.Bar{
			Market:        testMarket,
			IntervalStart: now.Add(time.Duration(i-6) * time.Minute),
			BuyVolume:     decimal.NewFromInt(4),
			SellVolume:    decimal.NewFromInt(4),
			MeanPrice:     price,
			VWAP:          price,
		}
	}
	bars[6].BuyVolume = decimal.NewFromInt(5)
	return []marketBars{{market: testMarket, bars: bars}}
}

func newTestCoordinator(mgr OrderManager, journal TradeJournal) *Coordinator {
	cfg := Config{
		Markets:           []entity.Market{testMarket},
		ScrapeInterval:    time.Second,
		OrderPollInterval: time.Second,
	}
	book := aggregator.NewBook(time.Minute, zap.NewNop())
	return New(cfg, &fakeSource{}, book, testRules(), mgr, nil, journal, zap.NewNop())
}

func TestControlGates(t *testing.T) {
	c := newTestCoordinator(newFakeManager(), nil)

	require.False(t, c.Scraping())
	require.False(t, c.Trading())

	c.Control(entity.ControlStart)
	require.True(t, c.Scraping())
	require.False(t, c.Trading())

	c.Control(entity.ControlStartTrading)
	require.True(t, c.Trading())

	c.Control(entity.ControlStopTrading)
	require.True(t, c.Scraping())
	require.False(t, c.Trading())

	c.Control(entity.ControlStop)
	require.False(t, c.Scraping())
	require.False(t, c.Trading())
}

func TestScrapeOncePublishesClosedBars(t *testing.T) {
	mgr := newFakeManager()
	c := newTestCoordinator(mgr, nil)

	now := time.Now()
	// Two trades inside the first interval and one after it, so exactly
	// one bar closes.
	c.source = &fakeSource{records: []entity.TradeRecord{
		{ID: 3, Timestamp: now.Add(70 * time.Second), Price: decimal.NewFromInt(2), Total: decimal.NewFromInt(1), Side: entity.SideBuy},
		{ID: 2, Timestamp: now.Add(20 * time.Second), Price: decimal.NewFromInt(2), Total: decimal.NewFromInt(1), Side: entity.SideBuy},
		{ID: 1, Timestamp: now.Add(10 * time.Second), Price: decimal.NewFromInt(2), Total: decimal.NewFromInt(1), Side: entity.SideSell},
	}}

	c.scrapeOnce(context.Background())

	select {
	case mb := <-c.barCh:
		require.Equal(t, testMarket, mb.market)
		require.Len(t, mb.bars, 1)
		require.True(t, mb.bars[0].BaseVolume.Equal(decimal.NewFromInt(2)))
	default:
		t.Fatal("expected a published bar batch")
	}
}

func TestSignalLoopSubmitsIntentWhenTrading(t *testing.T) {
	mgr := newFakeManager()
	c := newTestCoordinator(mgr, nil)
	c.Control(entity.ControlStartTrading)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.signalLoop(ctx)
	}()

	for _, mb := range buyWindow(time.Now()) {
		c.barCh <- mb
	}

	require.Eventually(t, func() bool {
		select {
		case intent := <-c.intentCh:
			return intent.Side == entity.SideBuy && intent.Market == testMarket
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSignalLoopIgnoresBarsWhenNotTrading(t *testing.T) {
	mgr := newFakeManager()
	c := newTestCoordinator(mgr, nil)
	c.Control(entity.ControlStart)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.signalLoop(ctx)
	}()

	for _, mb := range buyWindow(time.Now()) {
		c.barCh <- mb
	}

	time.Sleep(50 * time.Millisecond)
	select {
	case intent := <-c.intentCh:
		t.Fatalf("unexpected intent: %+v", intent)
	default:
	}

	cancel()
	<-done
}

func TestHandleCompletedBuyArmsSellLeg(t *testing.T) {
	c := newTestCoordinator(newFakeManager(), nil)
	statuses := map[string]*entity.MarketStatus{}
	pending := map[string]*entity.Order{}

	buy := entity.NewOrder(entity.OrderIntent{Market: testMarket, Side: entity.SideBuy})
	buy.Status = entity.OrderCompleted
	buy.FilledQuantity = decimal.NewFromInt(1)
	buy.FilledTotal = decimal.RequireFromString("0.01")

	c.handleCompleted(buy, statuses, pending)

	require.Same(t, buy, statuses[testMarket.String()].BuyOrder)
	require.Same(t, buy, pending[testMarket.String()])
}

func TestHandleCompletedSellRecordsRoundTrip(t *testing.T) {
	journal := &fakeJournal{}
	c := newTestCoordinator(newFakeManager(), journal)
	statuses := map[string]*entity.MarketStatus{}
	pending := map[string]*entity.Order{}

	buy := entity.NewOrder(entity.OrderIntent{Market: testMarket, Side: entity.SideBuy})
	buy.Status = entity.OrderCompleted
	buy.FilledTotal = decimal.RequireFromString("0.01")
	c.handleCompleted(buy, statuses, pending)

	sell := entity.NewOrder(entity.OrderIntent{Market: testMarket, Side: entity.SideSell})
	sell.Status = entity.OrderCompleted
	sell.FilledTotal = decimal.RequireFromString("0.011")
	c.handleCompleted(sell, statuses, pending)

	require.Empty(t, pending)
	require.Len(t, journal.summaries, 1)
	require.True(t, journal.summaries[0].Profit.Equal(decimal.RequireFromString("0.001")))
}

func TestHandleCompletedSkippedSellRetriesExit(t *testing.T) {
	c := newTestCoordinator(newFakeManager(), nil)
	statuses := map[string]*entity.MarketStatus{}
	pending := map[string]*entity.Order{}

	buy := entity.NewOrder(entity.OrderIntent{Market: testMarket, Side: entity.SideBuy})
	buy.Status = entity.OrderCompleted
	buy.TargetPrice = decimal.NewFromInt(100)
	c.handleCompleted(buy, statuses, pending)

	// The sell signal reset the status before the order skipped.
	statuses[testMarket.String()].ResetAfterSell(c.rules.StopGainPercent)

	sell := entity.NewOrder(entity.OrderIntent{Market: testMarket, Side: entity.SideSell})
	sell.Status = entity.OrderSkipped
	c.handleCompleted(sell, statuses, pending)

	status := statuses[testMarket.String()]
	require.True(t, status.Bought)
	require.Same(t, buy, status.BuyOrder)
	require.True(t, status.BuySignalPrice.Equal(decimal.NewFromInt(100)))
}

func TestRunFlattensOnShutdown(t *testing.T) {
	mgr := newFakeManager()
	c := newTestCoordinator(mgr, nil)
	c.cfg.ScrapeInterval = 10 * time.Millisecond
	c.cfg.OrderPollInterval = 10 * time.Millisecond
	c.Control(entity.ControlStart)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	require.Equal(t, 1, mgr.flattens)
	require.Positive(t, mgr.polls)
}

func TestSetBuyAmountValidatesAndCoalesces(t *testing.T) {
	c := newTestCoordinator(newFakeManager(), nil)

	require.Error(t, c.SetBuyAmount(decimal.Zero))
	require.NoError(t, c.SetBuyAmount(decimal.NewFromInt(1)))
	// A second update before the worker drains replaces the first.
	require.NoError(t, c.SetBuyAmount(decimal.NewFromInt(2)))
	require.True(t, (<-c.amountCh).Equal(decimal.NewFromInt(2)))
}
