package journal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cryptick/internal/entity"
)

func TestAppendAndReadBack(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	summary := entity.TradeSummary{
		Market:    entity.Market{Base: "BTC", Coin: "LTC"},
		BuyTime:   time.Now().UTC().Truncate(time.Second),
		BuyPrice:  decimal.RequireFromString("0.001"),
		BuyTotal:  decimal.RequireFromString("0.01"),
		SellTime:  time.Now().UTC().Truncate(time.Second),
		SellPrice: decimal.RequireFromString("0.0011"),
		SellTotal: decimal.RequireFromString("0.011"),
		Profit:    decimal.RequireFromString("0.001"),
		Percent:   decimal.NewFromInt(10),
	}

	require.NoError(t, j.Append(summary))
	require.NoError(t, j.Append(summary))

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, summary.Market, entries[0].Market)
	require.True(t, entries[0].Profit.Equal(summary.Profit))
}

func TestEntriesSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := New(dir)
	require.NoError(t, err)

	summary := entity.TradeSummary{
		Market:   entity.Market{Base: "BTC", Coin: "ETH"},
		Profit:   decimal.RequireFromString("-0.0005"),
		Percent:  decimal.NewFromInt(-5),
		BuyTime:  time.Now().UTC().Truncate(time.Second),
		SellTime: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, j.Append(summary))
	require.NoError(t, j.Close())

	j, err = New(dir)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Profit.Equal(summary.Profit))
}
