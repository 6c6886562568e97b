package wallet

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestUpdateAppliesBothDeltas(t *testing.T) {
	l := NewLedger("BTC", decimal.NewFromInt(1))

	// Buy: credit the coin, debit the base.
	err := l.Update("LTC", decimal.NewFromInt(10), decimal.RequireFromString("-0.5"))
	require.NoError(t, err)
	require.True(t, l.Quantity("LTC").Equal(decimal.NewFromInt(10)))
	require.True(t, l.Quantity("BTC").Equal(decimal.RequireFromString("0.5")))

	// Sell mirror.
	err = l.Update("LTC", decimal.NewFromInt(-10), decimal.RequireFromString("0.6"))
	require.NoError(t, err)
	require.True(t, l.Quantity("LTC").IsZero())
	require.True(t, l.Quantity("BTC").Equal(decimal.RequireFromString("1.1")))
}

func TestUpdateRejectsNegativeResult(t *testing.T) {
	l := NewLedger("BTC", decimal.NewFromInt(1))

	err := l.Update("LTC", decimal.NewFromInt(10), decimal.NewFromInt(-2))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Neither side applied.
	require.True(t, l.Quantity("LTC").IsZero())
	require.True(t, l.Quantity("BTC").Equal(decimal.NewFromInt(1)))
}

func TestQuantityUnknownAssetIsZero(t *testing.T) {
	l := NewLedger("BTC", decimal.Zero)
	require.True(t, l.Quantity("DOGE").IsZero())
}

func TestSetQuantity(t *testing.T) {
	l := NewLedger("BTC", decimal.Zero)
	require.NoError(t, l.SetQuantity("BTC", decimal.NewFromInt(2)))
	require.True(t, l.Quantity("BTC").Equal(decimal.NewFromInt(2)))
	require.Error(t, l.SetQuantity("BTC", decimal.NewFromInt(-1)))
}

func TestConcurrentUpdatesStayConsistent(t *testing.T) {
	l := NewLedger("BTC", decimal.NewFromInt(1000))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Update("LTC", decimal.NewFromInt(1), decimal.NewFromInt(-1)))
		}()
	}
	wg.Wait()

	require.True(t, l.Quantity("LTC").Equal(decimal.NewFromInt(100)))
	require.True(t, l.Quantity("BTC").Equal(decimal.NewFromInt(900)))
}
