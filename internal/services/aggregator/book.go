package aggregator

import (
	"time"

	"go.uber.org/zap"

	"cryptick/internal/entity"
)

// Book routes batches to per-market aggregators, creating them lazily on
// first observation. Owned exclusively by the scraper worker.
type Book struct {
	interval time.Duration
	clock    func() time.Time
	aggs     map[string]*Aggregator
	l        *zap.Logger
}

func NewBook(interval time.Duration, l *zap.Logger) *Book {
	return &Book{
		interval: interval,
		clock:    time.Now,
		aggs:     make(map[string]*Aggregator),
		l:        l,
	}
}

// Ingest merges the batch into the market's working ledger and returns
// any finalized bars.
func (b *Book) Ingest(market entity.Market, batch []entity.TradeRecord) []entity.Bar {
	key := market.String()
	agg, ok := b.aggs[key]
	if !ok {
		agg = New(market, b.interval, b.clock().Local(), b.l)
		b.aggs[key] = agg
	}
	return agg.Ingest(batch)
}
