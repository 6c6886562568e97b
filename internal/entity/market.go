package entity

import (
	"fmt"
	"strings"
)

// Market identifies a trading market as BASE-COIN, e.g. BTC-LTC:
// LTC bought and sold against a BTC base balance.
type Market struct {
	Base string
	Coin string
}

func (m Market) String() string {
	return fmt.Sprintf("%s-%s", m.Base, m.Coin)
}

// Symbol returns the exchange symbol form, e.g. LTCBTC.
func (m Market) Symbol() string {
	return m.Coin + m.Base
}

func MarketFromString(s string) (Market, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Market{}, fmt.Errorf("invalid market %q, expected BASE-COIN", s)
	}
	return Market{Base: parts[0], Coin: parts[1]}, nil
}
