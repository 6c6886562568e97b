// Package wallet tracks confirmed balances per asset. The ledger mutates
// only on confirmed fills; pending orders never reserve quantity here.
package wallet

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrInsufficientFunds = errors.New("wallet update would drive a balance negative")

// Ledger maps asset symbols to committed quantities. The base asset
// (e.g. BTC) is always present. Reads observe only committed updates.
type Ledger struct {
	mu       sync.RWMutex
	base     string
	balances map[string]decimal.Decimal
}

// NewLedger creates a ledger holding the initial base-asset amount.
func NewLedger(base string, initial decimal.Decimal) *Ledger {
	return &Ledger{
		base:     base,
		balances: map[string]decimal.Decimal{base: initial},
	}
}

// Update atomically adjusts the traded asset's quantity and the base
// asset's quantity in one committed step. Either both deltas apply or
// neither does; a delta that would drive a balance negative is rejected.
func (l *Ledger) Update(asset string, quantityDelta, baseDelta decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	quantity := l.balances[asset].Add(quantityDelta)
	baseQuantity := l.balances[l.base].Add(baseDelta)

	if quantity.IsNegative() || baseQuantity.IsNegative() {
		return errors.Wrapf(ErrInsufficientFunds, "asset %s", asset)
	}

	l.balances[asset] = quantity
	l.balances[l.base] = baseQuantity
	return nil
}

// Quantity returns the committed balance for the asset, zero if unknown.
func (l *Ledger) Quantity(asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[asset]
}

// Base returns the base asset symbol.
func (l *Ledger) Base() string {
	return l.base
}

// SetQuantity overwrites an asset balance. Used by the control surface to
// set the wallet total; rejects negative amounts.
func (l *Ledger) SetQuantity(asset string, quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return errors.Wrapf(ErrInsufficientFunds, "asset %s", asset)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[asset] = quantity
	return nil
}
