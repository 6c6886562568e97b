// Package signal evaluates rolling bar windows against entry and exit
// rules, emitting buy/sell order intents. The engine is a pure decision
// function: no network calls, no blocking, no clock reads.
package signal

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptick/internal/entity"
)

// Rules holds the tunable thresholds of the trading heuristic. Windows
// are measured in bars.
type Rules struct {
	// SampleBars is the short window used for the current activity mean.
	SampleBars int
	// PriceLagBars/PriceLagWindow locate the lagged reference price: the
	// mean VWAP over PriceLagWindow bars ending PriceLagBars-PriceLagWindow
	// bars before the sample window.
	PriceLagBars   int
	PriceLagWindow int
	// PriceLagThreshold is the max relative deviation of the current
	// price from the lagged reference.
	PriceLagThreshold decimal.Decimal
	// VolumeLagBars is the longer lag window whose buy/sell volume sums
	// must stay inside the configured bands.
	VolumeLagBars    int
	BuyVolumeLagMin  decimal.Decimal
	BuyVolumeLagMax  decimal.Decimal
	SellVolumeLagMin decimal.Decimal
	SellVolumeLagMax decimal.Decimal
	// ActivityFloor is the minimum short-window mean buy volume.
	ActivityFloor decimal.Decimal

	// BuyAmount is the base-currency amount committed per buy.
	BuyAmount decimal.Decimal

	StopLossPercent   decimal.Decimal
	StopGainPercent   decimal.Decimal
	StopGainIncrement decimal.Decimal
	// StopGainBuffer widens the exit threshold once the ratchet has moved
	// past its initial level.
	StopGainBuffer decimal.Decimal

	MaxHoldTime time.Duration
	WaitTime    time.Duration
}

// DefaultRules mirrors the production tuning.
func DefaultRules() Rules {
	return Rules{
		SampleBars:        1,
		PriceLagBars:      30,
		PriceLagWindow:    5,
		PriceLagThreshold: decimal.RequireFromString("0.05"),
		VolumeLagBars:     60,
		BuyVolumeLagMin:   decimal.NewFromInt(10),
		BuyVolumeLagMax:   decimal.NewFromInt(40),
		SellVolumeLagMin:  decimal.NewFromInt(10),
		SellVolumeLagMax:  decimal.NewFromInt(40),
		ActivityFloor:     decimal.NewFromInt(2),
		BuyAmount:         decimal.RequireFromString("0.005"),
		StopLossPercent:   decimal.RequireFromString("0.01"),
		StopGainPercent:   decimal.RequireFromString("0.02"),
		StopGainIncrement: decimal.RequireFromString("0.02"),
		StopGainBuffer:    decimal.RequireFromString("0.01"),
		MaxHoldTime:       4 * time.Hour,
		WaitTime:          4 * time.Hour,
	}
}

// MinHistory returns the number of bars needed before evaluation can run.
func (r Rules) MinHistory() int {
	n := r.SampleBars + r.VolumeLagBars
	if m := r.SampleBars + r.PriceLagBars; m > n {
		n = m
	}
	return n
}

type Engine struct {
	rules Rules
	l     *zap.Logger
}

func New(rules Rules, l *zap.Logger) *Engine {
	if l == nil {
		l = zap.NewNop()
	}
	return &Engine{rules: rules, l: l}
}

// Evaluate inspects the market's bar history and mutates status, possibly
// returning an order intent. History is oldest-first; the newest bar
// carries the current price and evaluation time.
func (e *Engine) Evaluate(history []entity.Bar, status *entity.MarketStatus) *entity.OrderIntent {
	if len(history) < e.rules.MinHistory() {
		return nil
	}

	current := history[len(history)-1]
	now := current.IntervalStart
	price := current.VWAP

	if price.IsZero() {
		return nil
	}

	if !status.Bought {
		return e.evaluateBuy(history, status, now, price)
	}
	return e.evaluateSell(status, now, price)
}

func (e *Engine) evaluateBuy(history []entity.Bar, status *entity.MarketStatus, now time.Time, price decimal.Decimal) *entity.OrderIntent {
	r := e.rules

	// Cooldown after the previous buy.
	if now.Sub(status.LastBuyTime) < r.WaitTime {
		return nil
	}

	n := len(history)
	sample := history[n-r.SampleBars:]
	lag := history[n-(r.SampleBars+r.VolumeLagBars) : n-r.SampleBars]

	sampleBuyMean := meanBuyVolume(sample)
	if !sampleBuyMean.IsPositive() {
		return nil
	}

	buyLag := decimal.Zero
	sellLag := decimal.Zero
	for _, bar := range lag {
		buyLag = buyLag.Add(bar.BuyVolume)
		sellLag = sellLag.Add(bar.SellVolume)
	}

	// Accumulation without a volume spike in either direction.
	if !within(buyLag, r.BuyVolumeLagMin, r.BuyVolumeLagMax) ||
		!within(sellLag, r.SellVolumeLagMin, r.SellVolumeLagMax) {
		return nil
	}

	if sampleBuyMean.LessThanOrEqual(r.ActivityFloor) {
		return nil
	}

	refStart := n - (r.SampleBars + r.PriceLagBars)
	reference := entity.Quantize(meanVWAP(history[refStart : refStart+r.PriceLagWindow]))
	if reference.IsZero() {
		return nil
	}

	// Price stability: the current price must sit close to the lagged
	// reference mean.
	deviation := price.Sub(reference).Div(reference).Abs()
	if deviation.GreaterThanOrEqual(r.PriceLagThreshold) {
		return nil
	}

	intent := &entity.OrderIntent{
		Market:         status.Market,
		Side:           entity.SideBuy,
		TargetQuantity: entity.Quantize(r.BuyAmount.Div(price)),
		BaseQuantity:   r.BuyAmount,
	}

	status.Bought = true
	status.BuySignalPrice = price
	status.LastBuyTime = now

	e.l.Info("buy signal",
		zap.String("market", status.Market.String()),
		zap.String("price", price.String()),
		zap.String("target_quantity", intent.TargetQuantity.String()))

	return intent
}

func (e *Engine) evaluateSell(status *entity.MarketStatus, now time.Time, price decimal.Decimal) *entity.OrderIntent {
	r := e.rules

	// The sell leg pairs with a settled buy; until then there is nothing
	// to exit.
	if status.BuyOrder == nil || status.BuyOrder.Status != entity.OrderCompleted {
		e.l.Debug("sell evaluation waiting on buy order settlement",
			zap.String("market", status.Market.String()))
		return nil
	}

	one := decimal.NewFromInt(1)
	buffer := decimal.Zero
	if !status.StopGainPercent.Equal(r.StopGainPercent) {
		buffer = r.StopGainBuffer
	}

	gainThreshold := entity.Quantize(status.BuySignalPrice.Mul(one.Add(status.StopGainPercent)))
	gainFloor := entity.Quantize(status.BuySignalPrice.Mul(one.Add(status.StopGainPercent.Sub(buffer))))
	nextThreshold := entity.Quantize(status.BuySignalPrice.Mul(one.Add(status.StopGainPercent.Add(r.StopGainIncrement))))

	// Trailing stop: arm on the first threshold crossing, then ratchet
	// the armed percent upward. The percent never decreases within a
	// holding period.
	if !status.StopGainActive && price.GreaterThan(gainThreshold) {
		status.StopGainActive = true
	} else if status.StopGainActive && price.GreaterThan(nextThreshold) {
		status.StopGainPercent = status.StopGainPercent.Add(r.StopGainIncrement)
	}

	lossThreshold := entity.Quantize(status.BuySignalPrice.Mul(one.Sub(r.StopLossPercent)))
	holdTime := now.Sub(status.BuyOrder.ClosedAt)

	stopLoss := price.LessThan(lossThreshold)
	held := holdTime > r.MaxHoldTime
	stopGain := status.StopGainActive && price.LessThan(gainFloor)

	if !stopLoss && !held && !stopGain {
		return nil
	}

	intent := &entity.OrderIntent{
		Market:         status.Market,
		Side:           entity.SideSell,
		TargetQuantity: status.BuyOrder.FilledQuantity,
	}

	e.l.Info("sell signal",
		zap.String("market", status.Market.String()),
		zap.String("price", price.String()),
		zap.Bool("stop_loss", stopLoss),
		zap.Bool("max_hold", held),
		zap.Bool("stop_gain", stopGain))

	status.ResetAfterSell(r.StopGainPercent)

	return intent
}

func within(v, min, max decimal.Decimal) bool {
	return v.GreaterThan(min) && v.LessThan(max)
}

func meanBuyVolume(bars []entity.Bar) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, bar := range bars {
		sum = sum.Add(bar.BuyVolume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(bars))))
}

func meanVWAP(bars []entity.Bar) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, bar := range bars {
		sum = sum.Add(bar.VWAP)
	}
	return sum.Div(decimal.NewFromInt(int64(len(bars))))
}
