package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/types"
)

// SimConfig tunes the simulated venue.
type SimConfig struct {
	MinLatency time.Duration
	MaxLatency time.Duration
	// SuccessRate is the probability a submission reaches the venue instead
	// of failing with a transient error.
	SuccessRate float64
	// LiquidityFactor is the probability an order fills in one piece; below
	// it, the venue fills in two partial legs.
	LiquidityFactor float64
	// PriceVariance is the max fractional slippage applied to market fills.
	PriceVariance float64
	StartingCash  float64
	Seed          int64
}

// DefaultSimConfig mimics a reasonably liquid venue.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		MinLatency:      5 * time.Millisecond,
		MaxLatency:      40 * time.Millisecond,
		SuccessRate:     0.97,
		LiquidityFactor: 0.85,
		PriceVariance:   0.002,
		StartingCash:    10_000_000,
		Seed:            time.Now().UnixNano(),
	}
}

// Sim is an in-process Gateway implementation. Order events are delivered on
// a single dispatch goroutine in submission-completion order, mirroring how a
// real vendor session serializes its callbacks.
type Sim struct {
	cfg SimConfig

	mu         sync.Mutex
	rng        *rand.Rand
	loggedIn   bool
	subscribed map[string]bool
	cash       float64
	holdings   map[string]*types.Holding

	onOrderEvent OrderEventHandler
	onQuote      QuoteHandler

	events chan OrderEvent
	done   chan struct{}
}

// NewSim builds a simulated gateway. Call Login before anything else.
func NewSim(cfg SimConfig) *Sim {
	s := &Sim{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		subscribed: make(map[string]bool),
		cash:       cfg.StartingCash,
		holdings:   make(map[string]*types.Holding),
		events:     make(chan OrderEvent, 256),
		done:       make(chan struct{}),
	}
	go s.dispatch()
	return s
}

func (s *Sim) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.mu.Lock()
			h := s.onOrderEvent
			s.mu.Unlock()
			if h != nil {
				h(ev)
			}
		}
	}
}

// Close stops the dispatch goroutine.
func (s *Sim) Close() {
	close(s.done)
}

func (s *Sim) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	log.Info().Str("component", "sim_gateway").Msg("session established")
	return nil
}

func (s *Sim) SetOrderEventHandler(h OrderEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOrderEvent = h
}

func (s *Sim) SetQuoteHandler(h QuoteHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuote = h
}

func (s *Sim) SubscribeQuotes(symbols []string) error {
	if len(symbols) > MaxSymbolsPerSubscribe {
		return ErrTooManySymbols
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return ErrNotLoggedIn
	}
	for _, sym := range symbols {
		s.subscribed[sym] = true
	}
	return nil
}

// PublishQuote injects a tick, delivered to the quote handler when the symbol
// is subscribed. Used by the scenario driver.
func (s *Sim) PublishQuote(q types.Quote) {
	s.mu.Lock()
	sub := s.subscribed[q.Symbol]
	h := s.onQuote
	s.mu.Unlock()
	if sub && h != nil {
		h(q)
	}
}

func (s *Sim) SubmitOrder(ctx context.Context, accountID, symbol string, side types.Side, qty int64, price float64, kind types.OrderKind) (string, error) {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return "", ErrNotLoggedIn
	}
	if qty <= 0 {
		s.mu.Unlock()
		return "", &RejectedError{Code: "BAD_QTY", Reason: fmt.Sprintf("quantity %d", qty)}
	}
	if kind == types.KindLimit && price <= 0 {
		s.mu.Unlock()
		return "", &RejectedError{Code: "BAD_PRICE", Reason: fmt.Sprintf("limit price %v", price)}
	}
	if side == types.SideBuy && price*float64(qty) > s.cash {
		s.mu.Unlock()
		return "", &RejectedError{Code: "INSUFFICIENT_FUNDS", Reason: "order value exceeds cash"}
	}
	if s.rng.Float64() > s.cfg.SuccessRate {
		s.mu.Unlock()
		return "", &TransientError{Op: "submit", Err: fmt.Errorf("venue busy")}
	}

	requestID := uuid.New().String()
	latency := s.latencyLocked()
	fillPrice := price * (1 + (s.rng.Float64()*2-1)*s.cfg.PriceVariance)
	partial := s.rng.Float64() > s.cfg.LiquidityFactor
	s.mu.Unlock()

	go s.fill(requestID, symbol, side, qty, fillPrice, latency, partial)

	return requestID, nil
}

func (s *Sim) latencyLocked() time.Duration {
	span := s.cfg.MaxLatency - s.cfg.MinLatency
	if span <= 0 {
		return s.cfg.MinLatency
	}
	return s.cfg.MinLatency + time.Duration(s.rng.Int63n(int64(span)))
}

// fill delivers the confirmation events for one accepted order, optionally as
// two partial legs.
func (s *Sim) fill(requestID, symbol string, side types.Side, qty int64, price float64, latency time.Duration, partial bool) {
	time.Sleep(latency)

	if partial && qty > 1 {
		first := qty / 2
		s.events <- OrderEvent{
			RequestID:   requestID,
			State:       EventPartiallyFilled,
			FilledQty:   first,
			FilledPrice: price,
		}
		time.Sleep(latency)
	}

	s.applyFill(symbol, side, qty, price)
	s.events <- OrderEvent{
		RequestID:   requestID,
		State:       EventFilled,
		FilledQty:   qty,
		FilledPrice: price,
	}
}

func (s *Sim) applyFill(symbol string, side types.Side, qty int64, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := price * float64(qty)
	if side == types.SideBuy {
		s.cash -= value
		h, ok := s.holdings[symbol]
		if !ok {
			s.holdings[symbol] = &types.Holding{Symbol: symbol, Quantity: qty, AvgPrice: price}
			return
		}
		total := h.Quantity + qty
		h.AvgPrice = (h.AvgPrice*float64(h.Quantity) + value) / float64(total)
		h.Quantity = total
		return
	}

	s.cash += value
	if h, ok := s.holdings[symbol]; ok {
		h.Quantity -= qty
		if h.Quantity <= 0 {
			delete(s.holdings, symbol)
		}
	}
}

func (s *Sim) CancelOrder(ctx context.Context, requestID string) error {
	s.mu.Lock()
	loggedIn := s.loggedIn
	s.mu.Unlock()
	if !loggedIn {
		return ErrNotLoggedIn
	}
	// The sim venue fills fast enough that cancels race real fills; report
	// the cancel and let the event stream decide which lands first. The send
	// happens outside the mutex: the dispatcher needs it between deliveries,
	// so holding it across a send on a saturated queue would wedge the
	// session.
	s.events <- OrderEvent{RequestID: requestID, State: EventCancelled}
	return nil
}

func (s *Sim) QueryBalance(ctx context.Context, accountID string) (types.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return types.Balance{}, ErrNotLoggedIn
	}

	b := types.Balance{Cash: s.cash}
	for _, h := range s.holdings {
		b.Holdings = append(b.Holdings, *h)
	}
	return b, nil
}
