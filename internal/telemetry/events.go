// Package telemetry is the observability sink for the trading core. Every
// decision worth reconstructing after the fact — rejections, vetoes,
// stop/take triggers, admission outcomes — is emitted here as a structured
// event, logged, broadcast to websocket observers and handed to the
// configured notifier.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/pkg/id"
)

// EventKind classifies telemetry events.
type EventKind string

const (
	KindOrderSubmitted  EventKind = "order_submitted"
	KindOrderFilled     EventKind = "order_filled"
	KindOrderRejected   EventKind = "order_rejected"
	KindOrderCancelled  EventKind = "order_cancelled"
	KindOrderRetry      EventKind = "order_retry"
	KindRiskVeto        EventKind = "risk_veto"
	KindStopLoss        EventKind = "stop_loss"
	KindTakeProfit      EventKind = "take_profit"
	KindSurgeDetected   EventKind = "surge_detected"
	KindSurgeApproved   EventKind = "surge_approved"
	KindSurgeRejected   EventKind = "surge_rejected"
	KindLedgerViolation EventKind = "ledger_inconsistency"
)

// Event is one discrete observable decision or transition.
type Event struct {
	EventID  string    `json:"event_id"`
	Kind     EventKind `json:"kind"`
	Symbol   string    `json:"symbol,omitempty"`
	OrderID  string    `json:"order_id,omitempty"`
	Quantity int64     `json:"quantity,omitempty"`
	Price    float64   `json:"price,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier pushes events to an optional external channel (chat webhook,
// pager). The default is a no-op; the core never branches on whether a
// notifier is configured.
type Notifier interface {
	Notify(ev Event) error
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) error { return nil }

// Sink fans events out to the log, the websocket hub and the notifier.
// Emission never blocks the trading path.
type Sink struct {
	hub      *Hub
	notifier Notifier
}

// NewSink builds a sink. Either argument may be nil.
func NewSink(hub *Hub, notifier Notifier) *Sink {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Sink{hub: hub, notifier: notifier}
}

// Emit records the event and returns it with the event id and timestamp
// filled in, so callers can mirror the completed record.
func (s *Sink) Emit(ev Event) Event {
	ev.EventID = id.Event()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	s.logEvent(ev)

	if s.hub != nil {
		if data, err := json.Marshal(ev); err == nil {
			s.hub.Broadcast(data)
		}
	}

	notifier := s.notifier
	go func() {
		if err := notifier.Notify(ev); err != nil {
			log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("notifier delivery failed")
		}
	}()

	return ev
}

func (s *Sink) logEvent(ev Event) {
	var e *zerolog.Event
	switch ev.Kind {
	case KindOrderRejected, KindLedgerViolation:
		e = log.Error()
	case KindRiskVeto, KindOrderRetry, KindSurgeRejected:
		e = log.Warn()
	default:
		e = log.Info()
	}

	e = e.Str("event_id", ev.EventID).Str("kind", string(ev.Kind))
	if ev.Symbol != "" {
		e = e.Str("symbol", ev.Symbol)
	}
	if ev.OrderID != "" {
		e = e.Str("order_id", ev.OrderID)
	}
	if ev.Quantity != 0 {
		e = e.Int64("quantity", ev.Quantity)
	}
	if ev.Price != 0 {
		e = e.Float64("price", ev.Price)
	}
	e.Msg(ev.Reason)
}
