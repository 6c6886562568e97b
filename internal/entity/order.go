package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the order lifecycle state machine:
// Unexecuted -> Executed -> {Completed | Skipped}.
// Completed and Skipped are terminal.
type OrderStatus uint8

const (
	OrderUnexecuted OrderStatus = iota + 1
	OrderExecuted
	OrderCompleted
	OrderSkipped
)

func (s OrderStatus) String() string {
	switch s {
	case OrderUnexecuted:
		return "UNEXECUTED"
	case OrderExecuted:
		return "EXECUTED"
	case OrderCompleted:
		return "COMPLETED"
	case OrderSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderSkipped
}

// OrderIntent is an immutable buy/sell request emitted by the signal
// engine and consumed by the order lifecycle manager.
type OrderIntent struct {
	Market         Market
	Side           Side
	TargetQuantity decimal.Decimal
	// BaseQuantity is the base-currency amount to spend; set for buys only.
	BaseQuantity decimal.Decimal
}

// Order tracks one buy/sell order from intent to terminal state. It is
// owned exclusively by the lifecycle manager until Completed or Skipped.
type Order struct {
	ID             uuid.UUID
	Market         Market
	Side           Side
	TargetPrice    decimal.Decimal
	TargetQuantity decimal.Decimal
	BaseQuantity   decimal.Decimal
	FilledQuantity decimal.Decimal
	FilledTotal    decimal.Decimal
	Status         OrderStatus
	ExchangeID     string
	OpenedAt       time.Time
	ClosedAt       time.Time
}

// NewOrder creates an Unexecuted order from an intent.
func NewOrder(intent OrderIntent) *Order {
	return &Order{
		ID:             uuid.New(),
		Market:         intent.Market,
		Side:           intent.Side,
		TargetQuantity: intent.TargetQuantity,
		BaseQuantity:   intent.BaseQuantity,
		Status:         OrderUnexecuted,
	}
}
