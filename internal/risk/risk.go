// Package risk enforces account-level limits. It watches every price update
// and fill, triggers stop-loss/take-profit exits, and gives a synchronous
// yes/no on every proposed entry before an order may exist.
//
// A veto is a decision, not a fault: it is returned to the caller, logged and
// counted, and never queued.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/config"
	"github.com/tradekit/autotrader/internal/ledger"
	"github.com/tradekit/autotrader/internal/metrics"
	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/internal/types"
)

// Veto rule identifiers.
const (
	RuleDailyLoss    = "daily_loss_limit"
	RuleMaxPositions = "max_positions"
	RuleMaxSize      = "max_position_size"
)

// Violation is one broken rule in a vetoed decision.
type Violation struct {
	Rule string
	Msg  string
}

// Decision is the synchronous answer to an entry authorization request.
type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(rule, msg string) {
	d.Violations = append(d.Violations, Violation{Rule: rule, Msg: msg})
	d.Allowed = false
}

// Reason flattens the violations for logging.
func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	out := ""
	for i, v := range d.Violations {
		if i > 0 {
			out += "; "
		}
		out += v.Msg
	}
	return out
}

// orderSubmitter is the slice of the execution manager the risk manager uses.
type orderSubmitter interface {
	Submit(ctx context.Context, symbol string, side types.Side, qty int64, price float64, kind types.OrderKind) (types.Order, error)
	ListOpenOrders() []types.Order
	OpenBuyExposure() float64
}

// Manager owns RiskState for the account: daily realized P&L against the
// loss limit, exposure limits, and exit triggers.
type Manager struct {
	cfg            config.RiskConfig
	startingEquity float64

	exec orderSubmitter
	book *ledger.Ledger
	sink *telemetry.Sink

	mu            sync.Mutex
	clock         func() time.Time
	dailyRealized float64
	dailyEpoch    string
	// exiting guards one in-flight risk exit per symbol so a burst of ticks
	// below the stop produces exactly one sell order.
	exiting map[string]bool
}

// NewManager wires the risk manager. Register it as the execution manager's
// fill listener so realized P&L and fills flow back in.
func NewManager(cfg config.RiskConfig, startingEquity float64, exec orderSubmitter, book *ledger.Ledger, sink *telemetry.Sink) *Manager {
	return &Manager{
		cfg:            cfg,
		startingEquity: startingEquity,
		exec:           exec,
		book:           book,
		sink:           sink,
		clock:          time.Now,
		exiting:        make(map[string]bool),
	}
}

// rollEpochLocked resets daily counters when the calendar day changes,
// checked on every access rather than by a background timer.
func (m *Manager) rollEpochLocked() {
	epoch := m.clock().Format("2006-01-02")
	if epoch != m.dailyEpoch {
		m.dailyEpoch = epoch
		m.dailyRealized = 0
		metrics.DailyPnL.Set(0)
	}
}

// DailyPnL returns realized P&L for the current trading day.
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollEpochLocked()
	return m.dailyRealized
}

// OnRealized implements execution.FillListener.
func (m *Manager) OnRealized(symbol string, realized float64) {
	m.mu.Lock()
	m.rollEpochLocked()
	m.dailyRealized += realized
	total := m.dailyRealized
	m.mu.Unlock()

	metrics.DailyPnL.Set(total)
	log.Info().Str("symbol", symbol).Float64("realized", realized).Float64("daily_pnl", total).
		Msg("realized P&L booked")
}

// OnFill implements execution.FillListener. It clears the in-flight exit
// guard once a risk exit reaches any terminal state, rejected and cancelled
// included, and re-evaluates the symbol if a position remains.
func (m *Manager) OnFill(o types.Order) {
	if o.Side == types.SideSell && o.State.Terminal() {
		m.mu.Lock()
		delete(m.exiting, o.Symbol)
		m.mu.Unlock()
	}
	if p, ok := m.book.Get(o.Symbol); ok {
		m.evaluate(p)
	}
}

// OnQuote marks the price and evaluates the position, if held. Wire this as
// the gateway quote handler.
func (m *Manager) OnQuote(q types.Quote) {
	m.book.MarkPrice(q.Symbol, q.Price)
	if p, ok := m.book.Get(q.Symbol); ok {
		m.evaluate(p)
	}
}

// evaluate checks one position against the stop-loss and take-profit
// thresholds and issues at most one sell order per trigger.
func (m *Manager) evaluate(p types.Position) {
	ret := p.UnrealizedReturn()

	var kind telemetry.EventKind
	var reason string
	switch {
	case ret <= m.cfg.StopLossPct:
		kind, reason = telemetry.KindStopLoss, "stop_loss"
	case ret >= m.cfg.TakeProfitPct:
		kind, reason = telemetry.KindTakeProfit, "take_profit"
	default:
		return
	}

	m.mu.Lock()
	if m.exiting[p.Symbol] {
		m.mu.Unlock()
		return
	}
	m.exiting[p.Symbol] = true
	m.mu.Unlock()

	o, err := m.exec.Submit(context.Background(), p.Symbol, types.SideSell, p.Quantity, p.LastPrice, types.KindMarket)
	if err != nil {
		m.mu.Lock()
		delete(m.exiting, p.Symbol)
		m.mu.Unlock()
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("risk exit submission failed")
		return
	}

	metrics.ExitTriggers.WithLabelValues(reason).Inc()
	if m.sink != nil {
		m.sink.Emit(telemetry.Event{
			Kind:     kind,
			Symbol:   p.Symbol,
			OrderID:  o.OrderID,
			Quantity: p.Quantity,
			Price:    p.LastPrice,
			Reason:   fmt.Sprintf("%s triggered at %.2f%% return", reason, ret*100),
		})
	}
}

// Authorize decides whether a proposed new entry may proceed. The decision is
// returned synchronously; when vetoed, no order is created anywhere.
func (m *Manager) Authorize(symbol string, qty int64, price float64) Decision {
	d := Decision{Allowed: true}

	m.mu.Lock()
	m.rollEpochLocked()
	dailyRealized := m.dailyRealized
	m.mu.Unlock()

	lossLimit := m.cfg.DailyLossPct * m.startingEquity
	if dailyRealized <= lossLimit {
		d.add(RuleDailyLoss, fmt.Sprintf(
			"daily realized %.0f breaches limit %.0f, new entries disabled for the day", dailyRealized, lossLimit))
	}

	// Submitted-but-unconfirmed buys count in full toward exposure.
	pendingSymbols := make(map[string]bool)
	for _, o := range m.exec.ListOpenOrders() {
		if o.Side == types.SideBuy {
			pendingSymbols[o.Symbol] = true
		}
	}
	openCount := m.book.Count()
	for sym := range pendingSymbols {
		if _, held := m.book.Get(sym); !held {
			openCount++
		}
	}
	if _, held := m.book.Get(symbol); !held && !pendingSymbols[symbol] && openCount >= m.cfg.MaxPositions {
		d.add(RuleMaxPositions, fmt.Sprintf("open positions %d >= max %d", openCount, m.cfg.MaxPositions))
	}

	equity := m.startingEquity + dailyRealized
	proposed := float64(qty) * price
	maxValue := m.cfg.MaxPositionFrac * equity
	if proposed > maxValue {
		d.add(RuleMaxSize, fmt.Sprintf("proposed value %.0f exceeds %.0f (%.0f%% of equity)",
			proposed, maxValue, m.cfg.MaxPositionFrac*100))
	}

	if !d.Allowed {
		for _, v := range d.Violations {
			metrics.RiskVetoes.WithLabelValues(v.Rule).Inc()
		}
		if m.sink != nil {
			m.sink.Emit(telemetry.Event{
				Kind:     telemetry.KindRiskVeto,
				Symbol:   symbol,
				Quantity: qty,
				Price:    price,
				Reason:   d.Reason(),
			})
		}
	}
	return d
}

// PositionBudget returns the max order value currently allowed for one new
// entry. Used by the surge pipeline for sizing.
func (m *Manager) PositionBudget() float64 {
	m.mu.Lock()
	m.rollEpochLocked()
	equity := m.startingEquity + m.dailyRealized
	m.mu.Unlock()
	return m.cfg.MaxPositionFrac * equity
}
