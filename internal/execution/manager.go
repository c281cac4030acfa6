// Package execution owns the order lifecycle: admission through the rate
// governor, submission to the gateway, retries on transient failures,
// confirmation tracking, and idempotent fill application to the ledger.
//
// Orders move PENDING -> SUBMITTED -> {PARTIALLY_FILLED -> FILLED, FILLED,
// REJECTED, CANCELLED}. Transitions are monotonic; a terminal order is never
// mutated again, no matter what the gateway redelivers.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/config"
	"github.com/tradekit/autotrader/internal/gateway"
	"github.com/tradekit/autotrader/internal/ledger"
	"github.com/tradekit/autotrader/internal/metrics"
	"github.com/tradekit/autotrader/internal/ratelimit"
	"github.com/tradekit/autotrader/internal/store"
	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/internal/types"
)

// ErrUnknownOrder is returned for operations on an order id the manager does
// not own.
var ErrUnknownOrder = errors.New("execution: unknown order")

// FillListener observes order progress: every applied fill delta and every
// terminal transition, including rejections and cancels that carry no fill.
// Callbacks run after the manager releases its internal locks, so a listener
// may submit follow-up orders.
type FillListener interface {
	// OnFill fires for partial fill deltas and once more with the terminal
	// order.
	OnFill(order types.Order)
	// OnRealized fires when a sell fill realizes P&L.
	OnRealized(symbol string, realized float64)
}

// orderEntry pairs an order with its completion signal in the
// pending-request table.
type orderEntry struct {
	order     *types.Order
	requestID string
	done      chan struct{}
	// progress is pulsed on each applied fill delta so the confirmation
	// timeout measures gateway silence, not total time to fill.
	progress chan struct{}
}

// Manager drives orders through their lifecycle. It is the only writer of
// order state and of the position ledger.
type Manager struct {
	accountID string
	cfg       config.ExecutionConfig

	gw       gateway.Gateway
	governor *ratelimit.Governor
	book     *ledger.Ledger
	sink     *telemetry.Sink
	mirror   *store.Store

	mu        sync.Mutex
	orders    map[string]*orderEntry // by order id
	byRequest map[string]*orderEntry // pending-request table, by gateway request id
	listener  FillListener
}

// NewManager wires the lifecycle manager. mirror may be nil in tests.
func NewManager(accountID string, cfg config.ExecutionConfig, gw gateway.Gateway, governor *ratelimit.Governor, book *ledger.Ledger, sink *telemetry.Sink, mirror *store.Store) *Manager {
	m := &Manager{
		accountID: accountID,
		cfg:       cfg,
		gw:        gw,
		governor:  governor,
		book:      book,
		sink:      sink,
		mirror:    mirror,
		orders:    make(map[string]*orderEntry),
		byRequest: make(map[string]*orderEntry),
	}
	gw.SetOrderEventHandler(m.onOrderEvent)
	return m
}

// SetFillListener registers the fill listener (normally the risk manager).
func (m *Manager) SetFillListener(l FillListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// Submit creates an order and drives it asynchronously. The returned order is
// a snapshot in PENDING state; use Await to observe completion.
func (m *Manager) Submit(ctx context.Context, symbol string, side types.Side, qty int64, price float64, kind types.OrderKind) (types.Order, error) {
	if qty <= 0 {
		return types.Order{}, fmt.Errorf("execution: quantity must be positive, got %d", qty)
	}

	entry := &orderEntry{
		order: &types.Order{
			OrderID:  uuid.New().String(),
			Symbol:   symbol,
			Side:     side,
			Kind:     kind,
			Quantity: qty,
			Price:    price,
			State:    types.OrderPending,
		},
		done:     make(chan struct{}),
		progress: make(chan struct{}, 1),
	}

	m.mu.Lock()
	m.orders[entry.order.OrderID] = entry
	snapshot := *entry.order
	m.mu.Unlock()

	m.mirrorOrder(snapshot)

	go m.drive(ctx, entry)

	return snapshot, nil
}

// Await returns the completion channel for an order; it is closed when the
// order reaches a terminal state.
func (m *Manager) Await(orderID string) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	return entry.done, nil
}

// Get returns a snapshot of an order.
func (m *Manager) Get(orderID string) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, ErrUnknownOrder
	}
	return *entry.order, nil
}

// drive performs governor admission, submission with retries, and the
// bounded wait for gateway confirmation. It runs on its own goroutine so one
// slow order never blocks another.
func (m *Manager) drive(ctx context.Context, entry *orderEntry) {
	orderID := entry.order.OrderID

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * m.cfg.BackoffStep
			metrics.OrderRetries.Inc()
			m.emit(telemetry.Event{
				Kind:    telemetry.KindOrderRetry,
				Symbol:  entry.order.Symbol,
				OrderID: orderID,
				Reason:  fmt.Sprintf("transient failure, retry %d/%d after %s", attempt, m.cfg.MaxRetries, backoff),
			})
			select {
			case <-ctx.Done():
				m.finish(entry, types.OrderRejected, "context cancelled during backoff")
				return
			case <-time.After(backoff):
			}
		}

		// Cancelled while still pending admission?
		if m.terminal(entry) {
			return
		}

		// Each attempt consumes exactly one order-class slot. A full daily
		// cap fails closed with no wait.
		if err := m.governor.Wait(ctx, ratelimit.ClassOrder); err != nil {
			m.finish(entry, types.OrderRejected, err.Error())
			return
		}

		if m.terminal(entry) {
			return
		}

		requestID, err := m.gw.SubmitOrder(ctx, m.accountID, entry.order.Symbol, entry.order.Side,
			entry.order.Quantity, entry.order.Price, entry.order.Kind)
		if err == nil {
			m.markSubmitted(entry, requestID, attempt)
			break
		}

		if gateway.IsTransient(err) && attempt < m.cfg.MaxRetries {
			continue
		}

		reason := err.Error()
		if gateway.IsTransient(err) {
			reason = fmt.Sprintf("retries exhausted after %d attempts: %v", attempt+1, err)
		}
		m.finish(entry, types.OrderRejected, reason)
		return
	}

	// Submitted: block this goroutine (and nothing else) until the gateway
	// confirms or the confirmation window elapses. Each applied fill delta
	// re-arms the window, so a slowly filling order is never timed out while
	// the gateway is still talking to us.
	timer := time.NewTimer(m.cfg.ConfirmTimeout)
	defer timer.Stop()
	for {
		select {
		case <-entry.done:
			return
		case <-entry.progress:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.cfg.ConfirmTimeout)
		case <-timer.C:
			m.finish(entry, types.OrderRejected, "no gateway confirmation within timeout; reconcile on next balance refresh")
			return
		case <-ctx.Done():
			m.finish(entry, types.OrderRejected, "context cancelled awaiting confirmation")
			return
		}
	}
}

func (m *Manager) terminal(entry *orderEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entry.order.State.Terminal()
}

func (m *Manager) markSubmitted(entry *orderEntry, requestID string, attempt int) {
	m.mu.Lock()
	if entry.order.State.Terminal() {
		// Cancelled in the gap between admission and venue accept.
		m.mu.Unlock()
		return
	}
	entry.requestID = requestID
	entry.order.State = types.OrderSubmitted
	entry.order.SubmittedAt = time.Now()
	entry.order.Retries = attempt
	m.byRequest[requestID] = entry
	snapshot := *entry.order
	m.mu.Unlock()

	m.mirrorOrder(snapshot)
	m.emit(telemetry.Event{
		Kind:     telemetry.KindOrderSubmitted,
		Symbol:   snapshot.Symbol,
		OrderID:  snapshot.OrderID,
		Quantity: snapshot.Quantity,
		Price:    snapshot.Price,
		Reason:   string(snapshot.Side),
	})
}

// finish moves an order to a terminal state exactly once. The fill listener
// is notified with the terminal snapshot, so exits that end rejected or
// cancelled reach the risk manager the same way filled ones do.
func (m *Manager) finish(entry *orderEntry, state types.OrderState, reason string) {
	m.mu.Lock()
	if entry.order.State.Terminal() {
		m.mu.Unlock()
		return
	}
	entry.order.State = state
	entry.order.Reason = reason
	if entry.requestID != "" {
		delete(m.byRequest, entry.requestID)
	}
	snapshot := *entry.order
	listener := m.listener
	close(entry.done)
	m.mu.Unlock()

	metrics.Orders.WithLabelValues(string(snapshot.Side), string(snapshot.State)).Inc()
	m.mirrorOrder(snapshot)

	kind := telemetry.KindOrderRejected
	switch state {
	case types.OrderFilled:
		kind = telemetry.KindOrderFilled
	case types.OrderCancelled:
		kind = telemetry.KindOrderCancelled
	}
	m.emit(telemetry.Event{
		Kind:     kind,
		Symbol:   snapshot.Symbol,
		OrderID:  snapshot.OrderID,
		Quantity: snapshot.FilledQty,
		Price:    snapshot.FilledPrice,
		Reason:   reason,
	})

	if listener != nil {
		listener.OnFill(snapshot)
	}
}

// Cancel cancels an order. A PENDING order cancels locally with no gateway
// interaction; a SUBMITTED order requires a venue cancel and stays open (and
// at risk) until the gateway confirms.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	entry, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}

	switch entry.order.State {
	case types.OrderPending:
		m.mu.Unlock()
		m.finish(entry, types.OrderCancelled, "cancelled before submission")
		return nil
	case types.OrderSubmitted, types.OrderPartiallyFilled:
		requestID := entry.requestID
		m.mu.Unlock()
		return m.gw.CancelOrder(ctx, requestID)
	default:
		m.mu.Unlock()
		return fmt.Errorf("execution: order %s already %s", orderID, entry.order.State)
	}
}

// onOrderEvent is the gateway confirmation callback. Duplicate deliveries of
// the same cumulative fill are absorbed here: only the delta beyond what was
// already applied ever reaches the ledger.
func (m *Manager) onOrderEvent(ev gateway.OrderEvent) {
	m.mu.Lock()
	entry, ok := m.byRequest[ev.RequestID]
	if !ok {
		m.mu.Unlock()
		log.Debug().Str("request_id", ev.RequestID).Str("state", string(ev.State)).
			Msg("event for unknown or completed request ignored")
		return
	}
	if entry.order.State.Terminal() {
		m.mu.Unlock()
		return
	}

	switch ev.State {
	case gateway.EventAccepted:
		m.mu.Unlock()
		return

	case gateway.EventRejected:
		m.mu.Unlock()
		m.finish(entry, types.OrderRejected, fmt.Sprintf("gateway rejection: %s", ev.ErrorCode))
		return

	case gateway.EventCancelled:
		m.mu.Unlock()
		m.finish(entry, types.OrderCancelled, "cancel confirmed by gateway")
		return

	case gateway.EventFilled, gateway.EventPartiallyFilled:
		m.applyFillLocked(entry, ev)
		return

	default:
		m.mu.Unlock()
		log.Warn().Str("state", string(ev.State)).Msg("unknown gateway event state")
	}
}

// applyFillLocked applies the fill delta. Caller holds m.mu; it is released
// here before listener callbacks fire.
func (m *Manager) applyFillLocked(entry *orderEntry, ev gateway.OrderEvent) {
	o := entry.order

	if ev.FilledQty > o.Quantity {
		snapshot := *o
		m.mu.Unlock()
		m.emit(telemetry.Event{
			Kind:     telemetry.KindLedgerViolation,
			Symbol:   snapshot.Symbol,
			OrderID:  snapshot.OrderID,
			Quantity: ev.FilledQty,
			Reason:   fmt.Sprintf("cumulative fill %d exceeds requested %d, refused", ev.FilledQty, snapshot.Quantity),
		})
		return
	}

	delta := ev.FilledQty - o.FilledQty
	if delta < 0 {
		snapshot := *o
		m.mu.Unlock()
		m.emit(telemetry.Event{
			Kind:     telemetry.KindLedgerViolation,
			Symbol:   snapshot.Symbol,
			OrderID:  snapshot.OrderID,
			Quantity: ev.FilledQty,
			Reason:   fmt.Sprintf("cumulative fill went backwards (%d -> %d), refused", snapshot.FilledQty, ev.FilledQty),
		})
		return
	}
	if delta == 0 {
		// Duplicate delivery of an already-applied fill.
		m.mu.Unlock()
		return
	}

	realized, err := m.book.ApplyFill(o.Symbol, o.Side, delta, ev.FilledPrice)
	if err != nil {
		snapshot := *o
		m.mu.Unlock()
		m.emit(telemetry.Event{
			Kind:     telemetry.KindLedgerViolation,
			Symbol:   snapshot.Symbol,
			OrderID:  snapshot.OrderID,
			Quantity: delta,
			Price:    ev.FilledPrice,
			Reason:   err.Error(),
		})
		return
	}

	o.FilledQty = ev.FilledQty
	o.FilledPrice = ev.FilledPrice
	full := ev.State == gateway.EventFilled || o.FilledQty == o.Quantity
	if !full {
		o.State = types.OrderPartiallyFilled
	}
	snapshot := *o
	listener := m.listener
	m.mu.Unlock()

	metrics.OpenPositions.Set(float64(m.book.Count()))

	if snapshot.Side == types.SideSell && m.mirror != nil {
		m.mirror.MirrorTrade(snapshot.OrderID, snapshot.Symbol, delta, ev.FilledPrice, realized)
	}

	if listener != nil && snapshot.Side == types.SideSell {
		listener.OnRealized(snapshot.Symbol, realized)
	}

	if full {
		// finish delivers the FILLED snapshot to the listener.
		m.finish(entry, types.OrderFilled, "filled")
		return
	}

	m.mirrorOrder(snapshot)
	select {
	case entry.progress <- struct{}{}:
	default:
	}
	if listener != nil {
		listener.OnFill(snapshot)
	}
}

// ListOpenOrders snapshots every non-terminal order, oldest first.
func (m *Manager) ListOpenOrders() []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Order, 0)
	for _, entry := range m.orders {
		if !entry.order.State.Terminal() {
			out = append(out, *entry.order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// OpenBuyExposure returns the full requested value of open buy orders.
// Conservative accounting: until the gateway confirms a fill or cancel, the
// whole requested quantity counts as at-risk.
func (m *Manager) OpenBuyExposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0.0
	for _, entry := range m.orders {
		o := entry.order
		if o.Side == types.SideBuy && !o.State.Terminal() {
			total += float64(o.Quantity-o.FilledQty) * o.Price
		}
	}
	return total
}

// Reconcile refreshes account state through the query budget and reports
// ledger drift. Called after confirmation timeouts and periodically.
func (m *Manager) Reconcile(ctx context.Context) error {
	if err := m.governor.Wait(ctx, ratelimit.ClassQuery); err != nil {
		return err
	}
	bal, err := m.gw.QueryBalance(ctx, m.accountID)
	if err != nil {
		return fmt.Errorf("execution: balance refresh: %w", err)
	}

	held := make(map[string]int64)
	for _, h := range bal.Holdings {
		held[h.Symbol] = h.Quantity
	}
	for _, p := range m.book.All() {
		if got := held[p.Symbol]; got != p.Quantity {
			m.emit(telemetry.Event{
				Kind:     telemetry.KindLedgerViolation,
				Symbol:   p.Symbol,
				Quantity: p.Quantity,
				Reason:   fmt.Sprintf("ledger holds %d but account reports %d", p.Quantity, got),
			})
		}
	}
	return nil
}

func (m *Manager) emit(ev telemetry.Event) {
	if m.sink != nil {
		ev = m.sink.Emit(ev)
	}
	if m.mirror != nil && ev.EventID != "" {
		m.mirror.MirrorEvent(ev)
	}
}

func (m *Manager) mirrorOrder(o types.Order) {
	if m.mirror != nil {
		m.mirror.MirrorOrder(o)
	}
}
