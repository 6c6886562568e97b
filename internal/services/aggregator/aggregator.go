// Package aggregator converts an unbounded, possibly-overlapping stream of
// raw trade batches into exactly one finalized bar per elapsed interval
// per market.
package aggregator

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptick/internal/entity"
)

// Aggregator owns the working ledger for a single market. The ledger is
// ordered newest-first and holds every trade observed since the last
// closed bar. It is not safe for concurrent use; each market worker owns
// exactly one instance.
type Aggregator struct {
	market   entity.Market
	interval time.Duration
	ledger   []entity.TradeRecord
	// cursor is the start of the currently open interval. Bars close for
	// (cursor, cursor+interval] once a newer trade proves the interval
	// has fully elapsed.
	cursor   time.Time
	lastMean decimal.Decimal
	lastVWAP decimal.Decimal
	seeded   bool
	l        *zap.Logger
}

func New(market entity.Market, interval time.Duration, start time.Time, l *zap.Logger) *Aggregator {
	if l == nil {
		l = zap.NewNop()
	}
	return &Aggregator{
		market:   market,
		interval: interval,
		cursor:   start,
		lastMean: decimal.Zero,
		lastVWAP: decimal.Zero,
		l:        l.With(zap.String("market", market.String())),
	}
}

// Ingest merges a newest-first batch into the working ledger and returns
// the bars finalized by this cycle, oldest first. An empty batch means a
// failed or empty poll: no merge, no cursor advance, no emission.
func (a *Aggregator) Ingest(batch []entity.TradeRecord) []entity.Bar {
	if len(batch) == 0 {
		return nil
	}

	if !a.merge(batch) {
		return nil
	}

	return a.closeElapsed()
}

// merge reconciles the new batch with the ledger, deduplicating the
// overlap on trade IDs. Reports whether the ledger holds usable data.
func (a *Aggregator) merge(batch []entity.TradeRecord) bool {
	if !a.seeded {
		a.ledger = append(a.ledger[:0], batch...)
		a.seeded = true
		return true
	}
	if len(a.ledger) == 0 {
		a.ledger = append(a.ledger, batch...)
		return true
	}

	lastID := a.ledger[0].ID

	// Stale response: the batch's newest trade predates what we already
	// hold. Discard the whole batch for this cycle.
	if batch[0].ID < lastID {
		a.l.Warn("discarding stale batch",
			zap.Uint64("batch_head", batch[0].ID),
			zap.Uint64("ledger_head", lastID))
		return false
	}

	overlap := -1
	for i, rec := range batch {
		if rec.ID == lastID {
			overlap = i
			break
		}
	}

	if overlap >= 0 {
		// The first overlap records are strictly newer than the ledger.
		a.ledger = append(batch[:overlap:overlap], a.ledger...)
	} else {
		// The gap between polls exceeded the batch size. Possible data
		// loss; non-fatal.
		a.l.Warn("coverage gap: ledger head not found in batch, keeping entire batch",
			zap.Uint64("ledger_head", lastID),
			zap.Int("batch_len", len(batch)))
		a.ledger = append(batch[:len(batch):len(batch)], a.ledger...)
	}

	return true
}

// closeElapsed emits one bar per fully elapsed interval, advancing the
// cursor one interval at a time so no bar is ever skipped. Pure gaps emit
// carry-forward bars reusing the previous bar's price fields.
func (a *Aggregator) closeElapsed() []entity.Bar {
	var out []entity.Bar

	for len(a.ledger) > 0 {
		latest := a.ledger[0].Timestamp.Local()
		if latest.Sub(a.cursor) <= a.interval {
			break
		}

		start, stop := a.intervalIndex()

		var bar entity.Bar
		if start == stop {
			// No trades landed inside the interval: carry forward.
			bar = entity.Bar{
				Market:        a.market,
				IntervalStart: a.cursor,
				BaseVolume:    decimal.Zero,
				BuyVolume:     decimal.Zero,
				SellVolume:    decimal.Zero,
				MeanPrice:     a.lastMean,
				VWAP:          a.lastVWAP,
			}
		} else {
			bar = calculateBar(a.market, a.ledger[start:stop], a.cursor)
			if !bar.BaseVolume.IsZero() {
				a.lastMean = bar.MeanPrice
				a.lastVWAP = bar.VWAP
			}
		}

		out = append(out, bar)
		a.cursor = a.cursor.Add(a.interval)

		// Drop settled records older than the new boundary to bound memory.
		a.ledger = a.ledger[:start]
	}

	return out
}

// intervalIndex locates the newest-first ledger slice whose timestamps
// fall within (cursor, cursor+interval]: stop counts records newer than
// the cursor, start counts records newer than the interval end.
func (a *Aggregator) intervalIndex() (start, stop int) {
	for _, rec := range a.ledger {
		ts := rec.Timestamp.Local()
		if ts.After(a.cursor) {
			stop++
		}
		if ts.Sub(a.cursor) > a.interval {
			start++
		}
	}
	return start, stop
}

// calculateBar aggregates the records of one interval. Quantization is
// applied at each step, not only at the end, so results match exchange
// precision exactly.
func calculateBar(market entity.Market, records []entity.TradeRecord, start time.Time) entity.Bar {
	bar := entity.Bar{
		Market:        market,
		IntervalStart: start,
		BaseVolume:    decimal.Zero,
		BuyVolume:     decimal.Zero,
		SellVolume:    decimal.Zero,
		MeanPrice:     decimal.Zero,
		VWAP:          decimal.Zero,
	}

	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.Total)
	}
	bar.BaseVolume = entity.Quantize(total)

	// Zero-volume intervals happen (dust partial fills); prices and
	// counts stay zero to avoid dividing by zero volume.
	if bar.BaseVolume.IsZero() {
		return bar
	}

	buyVolume := decimal.Zero
	sellVolume := decimal.Zero
	priceSum := decimal.Zero
	weightedSum := decimal.Zero

	for _, rec := range records {
		price := entity.Quantize(rec.Price)
		priceSum = priceSum.Add(price)
		weightedSum = weightedSum.Add(price.Mul(rec.Total))

		switch rec.Side {
		case entity.SideBuy:
			buyVolume = buyVolume.Add(rec.Total)
			bar.BuyCount++
		case entity.SideSell:
			sellVolume = sellVolume.Add(rec.Total)
			bar.SellCount++
		}
	}

	bar.BuyVolume = entity.Quantize(buyVolume)
	bar.SellVolume = entity.Quantize(sellVolume)
	bar.MeanPrice = entity.Quantize(priceSum.Div(decimal.NewFromInt(int64(len(records)))))
	bar.VWAP = entity.Quantize(weightedSum.Div(total))

	return bar
}

// LedgerLen exposes the working ledger size for tests and metrics logging.
func (a *Aggregator) LedgerLen() int {
	return len(a.ledger)
}
