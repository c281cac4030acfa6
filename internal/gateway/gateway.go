// Package gateway defines the contract the core requires from the brokerage
// gateway, plus a simulated implementation used for local runs and the
// scenario driver.
//
// The gateway is asynchronous and callback-driven: SubmitOrder returns a
// request id immediately and the outcome arrives later through the order
// event handler. The core never sees the vendor wire format, only this
// contract.
package gateway

import (
	"context"

	"github.com/tradekit/autotrader/internal/types"
)

// MaxSymbolsPerSubscribe is the vendor cap on symbols per subscription call.
const MaxSymbolsPerSubscribe = 50

// EventState is the order outcome reported by the gateway.
type EventState string

const (
	EventAccepted        EventState = "ACCEPTED"
	EventFilled          EventState = "FILLED"
	EventPartiallyFilled EventState = "PARTIALLY_FILLED"
	EventRejected        EventState = "REJECTED"
	EventCancelled       EventState = "CANCELLED"
)

// OrderEvent is an asynchronous order confirmation. FilledQty is cumulative
// for the request, so a redelivered event carries the same quantity rather
// than an increment.
type OrderEvent struct {
	RequestID   string
	State       EventState
	FilledQty   int64
	FilledPrice float64
	ErrorCode   string
}

// OrderEventHandler receives order confirmations. Handlers are invoked on the
// gateway's dispatch goroutine and must hand work off rather than block.
type OrderEventHandler func(OrderEvent)

// QuoteHandler receives market data ticks.
type QuoteHandler func(types.Quote)

// Gateway is the brokerage connection consumed by the core.
type Gateway interface {
	// Login establishes the session. No other call is valid before it.
	Login(ctx context.Context) error

	// SubmitOrder sends an order and returns the gateway request id. The
	// result arrives later via the order event handler. A synchronous error
	// means the order never reached the venue.
	SubmitOrder(ctx context.Context, accountID, symbol string, side types.Side, qty int64, price float64, kind types.OrderKind) (string, error)

	// CancelOrder asks the venue to cancel an outstanding request. Until the
	// gateway confirms via an event, the order remains open.
	CancelOrder(ctx context.Context, requestID string) error

	// SubscribeQuotes registers symbols for live ticks, at most
	// MaxSymbolsPerSubscribe per call.
	SubscribeQuotes(symbols []string) error

	// QueryBalance fetches cash and holdings for the account.
	QueryBalance(ctx context.Context, accountID string) (types.Balance, error)

	SetOrderEventHandler(OrderEventHandler)
	SetQuoteHandler(QuoteHandler)
}
