package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cryptick/internal/entity"
)

var testMarket = entity.Market{Base: "BTC", Coin: "XYZ"}

func trade(id uint64, at time.Time, price, total string, side entity.Side) entity.TradeRecord {
	return entity.TradeRecord{
		ID:        id,
		Timestamp: at,
		Price:     decimal.RequireFromString(price),
		Total:     decimal.RequireFromString(total),
		Side:      side,
	}
}

// newestFirst reverses an ascending-by-id slice into exchange delivery order.
func newestFirst(records []entity.TradeRecord) []entity.TradeRecord {
	out := make([]entity.TradeRecord, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	return out
}

func TestCalculateBarVWAP(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	records := []entity.TradeRecord{
		trade(2, base.Add(20*time.Second), "2.00000000", "2", entity.SideBuy),
		trade(1, base.Add(10*time.Second), "1.00000000", "2", entity.SideBuy),
	}

	bar := calculateBar(testMarket, records, base)

	require.True(t, bar.BaseVolume.Equal(decimal.NewFromInt(4)), "base volume: %s", bar.BaseVolume)
	require.True(t, bar.BuyVolume.Equal(decimal.NewFromInt(4)))
	require.True(t, bar.SellVolume.Equal(decimal.Zero))
	require.Equal(t, uint32(2), bar.BuyCount)
	require.Equal(t, uint32(0), bar.SellCount)
	require.True(t, bar.MeanPrice.Equal(decimal.RequireFromString("1.5")), "mean: %s", bar.MeanPrice)
	require.True(t, bar.VWAP.Equal(decimal.RequireFromString("1.5")), "vwap: %s", bar.VWAP)
}

func TestCalculateBarZeroVolume(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	records := []entity.TradeRecord{
		trade(1, base.Add(time.Second), "0.00021798", "0", entity.SideBuy),
	}

	bar := calculateBar(testMarket, records, base)

	require.True(t, bar.BaseVolume.IsZero())
	require.Equal(t, uint32(0), bar.BuyCount)
	require.True(t, bar.MeanPrice.IsZero())
	require.True(t, bar.VWAP.IsZero())
}

func TestIngestIdempotentMerge(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	agg := New(testMarket, time.Minute, base, zap.NewNop())

	var asc []entity.TradeRecord
	for i := uint64(1); i <= 6; i++ {
		asc = append(asc, trade(i, base.Add(time.Duration(i)*time.Second), "1", "1", entity.SideBuy))
	}

	require.Empty(t, agg.Ingest(newestFirst(asc[0:4])))
	require.Empty(t, agg.Ingest(newestFirst(asc[2:6])))

	// Each id held exactly once despite the two-record overlap.
	require.Equal(t, 6, agg.LedgerLen())
	seen := make(map[uint64]bool)
	prev := uint64(0)
	for i := len(agg.ledger) - 1; i >= 0; i-- {
		rec := agg.ledger[i]
		require.False(t, seen[rec.ID], "duplicate id %d", rec.ID)
		require.Greater(t, rec.ID, prev, "ids must increase oldest-to-newest")
		seen[rec.ID] = true
		prev = rec.ID
	}
}

func TestIngestDiscardsStaleBatch(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	agg := New(testMarket, time.Minute, base, zap.NewNop())

	require.Empty(t, agg.Ingest([]entity.TradeRecord{
		trade(10, base.Add(10*time.Second), "1", "1", entity.SideBuy),
	}))
	// Newest id in the batch is older than the ledger head.
	require.Empty(t, agg.Ingest([]entity.TradeRecord{
		trade(7, base.Add(8*time.Second), "1", "1", entity.SideBuy),
	}))
	require.Equal(t, 1, agg.LedgerLen())
}

func TestIngestCoverageGapKeepsWholeBatch(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	agg := New(testMarket, time.Minute, base, zap.NewNop())

	require.Empty(t, agg.Ingest([]entity.TradeRecord{
		trade(1, base.Add(time.Second), "1", "1", entity.SideBuy),
	}))
	// Poll gap exceeded the batch size: ledger head id 1 is absent.
	require.Empty(t, agg.Ingest([]entity.TradeRecord{
		trade(9, base.Add(3*time.Second), "1", "1", entity.SideBuy),
		trade(8, base.Add(2*time.Second), "1", "1", entity.SideBuy),
	}))
	require.Equal(t, 3, agg.LedgerLen())
}

func TestIngestNoDuplicateOrSkippedBars(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	agg := New(testMarket, time.Minute, base, zap.NewNop())

	var asc []entity.TradeRecord
	for i := uint64(1); i <= 12; i++ {
		asc = append(asc, trade(i, base.Add(time.Duration(i)*30*time.Second), "1", "1", entity.SideBuy))
	}

	var bars []entity.Bar
	for lo := 0; lo+4 <= len(asc); lo += 2 {
		bars = append(bars, agg.Ingest(newestFirst(asc[lo:lo+4]))...)
	}

	require.Len(t, bars, 5)
	for i, bar := range bars {
		want := base.Add(time.Duration(i) * time.Minute)
		require.True(t, bar.IntervalStart.Equal(want),
			"bar %d interval start: got %s want %s", i, bar.IntervalStart, want)
		require.Equal(t, uint32(2), bar.BuyCount)
	}
}

func TestIngestCarryForwardBars(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	agg := New(testMarket, time.Minute, base, zap.NewNop())

	require.Empty(t, agg.Ingest(newestFirst([]entity.TradeRecord{
		trade(1, base.Add(30*time.Second), "2", "1", entity.SideBuy),
		trade(2, base.Add(50*time.Second), "4", "3", entity.SideSell),
	})))

	// Next trade lands three whole intervals later.
	bars := agg.Ingest(newestFirst([]entity.TradeRecord{
		trade(2, base.Add(50*time.Second), "4", "3", entity.SideSell),
		trade(3, base.Add(250*time.Second), "5", "1", entity.SideBuy),
	}))

	require.Len(t, bars, 4)

	real := bars[0]
	require.True(t, real.BaseVolume.Equal(decimal.NewFromInt(4)))
	require.True(t, real.MeanPrice.Equal(decimal.NewFromInt(3)))
	require.True(t, real.VWAP.Equal(decimal.RequireFromString("3.5")))

	for i, bar := range bars[1:] {
		require.True(t, bar.IntervalStart.Equal(base.Add(time.Duration(i+1)*time.Minute)))
		require.True(t, bar.BaseVolume.IsZero(), "carry-forward bar %d must have zero volume", i)
		require.Equal(t, uint32(0), bar.BuyCount)
		require.Equal(t, uint32(0), bar.SellCount)
		require.True(t, bar.MeanPrice.Equal(real.MeanPrice), "carry-forward keeps last mean price")
		require.True(t, bar.VWAP.Equal(real.VWAP), "carry-forward keeps last vwap")
	}
}

func TestIngestOverlappingBatchesAcrossBoundary(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	agg := New(testMarket, time.Minute, base, zap.NewNop())

	batch1 := newestFirst([]entity.TradeRecord{
		trade(1, base.Add(5*time.Second), "1", "1", entity.SideBuy),
		trade(2, base.Add(15*time.Second), "1", "1", entity.SideBuy),
		trade(3, base.Add(25*time.Second), "1", "1", entity.SideSell),
		trade(4, base.Add(35*time.Second), "1", "1", entity.SideBuy),
		trade(5, base.Add(45*time.Second), "1", "1", entity.SideSell),
	})
	batch2 := newestFirst([]entity.TradeRecord{
		trade(4, base.Add(35*time.Second), "1", "1", entity.SideBuy),
		trade(5, base.Add(45*time.Second), "1", "1", entity.SideSell),
		trade(6, base.Add(55*time.Second), "1", "1", entity.SideBuy),
		trade(7, base.Add(62*time.Second), "1", "1", entity.SideBuy),
		trade(8, base.Add(65*time.Second), "1", "1", entity.SideSell),
	})

	require.Empty(t, agg.Ingest(batch1))

	bars := agg.Ingest(batch2)
	require.Len(t, bars, 1)
	require.True(t, bars[0].IntervalStart.Equal(base))
	require.Equal(t, uint32(4), bars[0].BuyCount)
	require.Equal(t, uint32(2), bars[0].SellCount)

	// Only the two post-boundary records remain.
	require.Equal(t, 2, agg.LedgerLen())
}

func TestBookCreatesAggregatorPerMarket(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)
	book := NewBook(time.Minute, zap.NewNop())
	book.clock = func() time.Time { return base }

	other := entity.Market{Base: "BTC", Coin: "ETH"}
	book.Ingest(testMarket, []entity.TradeRecord{trade(1, base.Add(time.Second), "1", "1", entity.SideBuy)})
	book.Ingest(other, []entity.TradeRecord{trade(1, base.Add(time.Second), "1", "1", entity.SideBuy)})

	require.Len(t, book.aggs, 2)
}
