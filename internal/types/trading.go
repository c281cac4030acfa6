package types

import "time"

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind distinguishes market from limit orders.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// OrderState is the lifecycle state of an order.
//
// Transitions: PENDING -> SUBMITTED -> {PARTIALLY_FILLED -> FILLED, FILLED,
// REJECTED, CANCELLED}. Terminal states never transition again.
type OrderState string

const (
	OrderPending         OrderState = "PENDING"
	OrderSubmitted       OrderState = "SUBMITTED"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderRejected        OrderState = "REJECTED"
	OrderCancelled       OrderState = "CANCELLED"
)

// Terminal reports whether s is a terminal order state.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

// Order is a single order through its lifecycle. It is owned exclusively by
// the execution manager until it reaches a terminal state, after which it is
// immutable.
type Order struct {
	OrderID     string     `json:"order_id"`
	Symbol      string     `json:"symbol"`
	Side        Side       `json:"side"`
	Kind        OrderKind  `json:"kind"`
	Quantity    int64      `json:"quantity"`
	Price       float64    `json:"price"`
	State       OrderState `json:"state"`
	FilledQty   int64      `json:"filled_qty"`
	FilledPrice float64    `json:"filled_price"`
	Reason      string     `json:"reason,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Retries     int        `json:"retries"`
}

// Position is an open holding for one symbol. Quantity is always positive
// while the position exists; a position that reaches zero is removed from the
// ledger rather than kept at zero.
type Position struct {
	Symbol      string    `json:"symbol"`
	Quantity    int64     `json:"quantity"`
	AvgPrice    float64   `json:"avg_price"`
	LastPrice   float64   `json:"last_price"`
	EntryTime   time.Time `json:"entry_time"`
	RealizedFee float64   `json:"realized_fee"`
}

// MarketValue is the position's value at the last known price.
func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.LastPrice
}

// UnrealizedReturn is the fractional return at the last known price,
// ignoring fees. Zero when no price has been seen yet.
func (p Position) UnrealizedReturn() float64 {
	if p.AvgPrice <= 0 || p.LastPrice <= 0 {
		return 0
	}
	return (p.LastPrice - p.AvgPrice) / p.AvgPrice
}

// Quote is a single market data tick delivered by the gateway.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ChangeRate float64   `json:"change_rate"`
	Volume     int64     `json:"volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// Holding is one line of a balance snapshot from the gateway.
type Holding struct {
	Symbol   string  `json:"symbol"`
	Quantity int64   `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Balance is an account snapshot from the gateway.
type Balance struct {
	Cash     float64   `json:"cash"`
	Holdings []Holding `json:"holdings"`
}
