// Package ledger owns the authoritative in-memory view of open positions.
//
// The ledger is the single synchronization point for position state: only the
// execution manager writes to it (via confirmed fills), everything else reads
// consistent snapshots. A mutation that would leave the ledger inconsistent
// is refused and the last-known-good state kept.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/fees"
	"github.com/tradekit/autotrader/internal/types"
)

var (
	// ErrOversell is returned when a sell fill exceeds the held quantity.
	ErrOversell = errors.New("ledger: sell quantity exceeds held quantity")
	// ErrUnknownSymbol is returned when a sell arrives for a symbol not held.
	ErrUnknownSymbol = errors.New("ledger: no position for symbol")
	// ErrInvalidFill is returned for non-positive quantities or prices.
	ErrInvalidFill = errors.New("ledger: fill quantity and price must be positive")
)

// Ledger tracks open positions for one account.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
	schedule  fees.Schedule
	clock     func() time.Time
}

// New returns an empty ledger using the given fee schedule for realized P&L.
func New(schedule fees.Schedule) *Ledger {
	return &Ledger{
		positions: make(map[string]*types.Position),
		schedule:  schedule,
		clock:     time.Now,
	}
}

// ApplyFill mutates the ledger with a confirmed fill.
//
// A buy creates the position or folds the fill into a quantity-weighted
// average price. A sell reduces quantity and returns the realized P&L for the
// closed portion, net of both legs' fees; the position is removed when it
// reaches zero. A sell larger than the held quantity is refused without
// mutating anything.
func (l *Ledger) ApplyFill(symbol string, side types.Side, qty int64, price float64) (realized float64, err error) {
	if qty <= 0 || price <= 0 {
		return 0, fmt.Errorf("%w: qty=%d price=%v", ErrInvalidFill, qty, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch side {
	case types.SideBuy:
		return 0, l.applyBuyLocked(symbol, qty, price)
	case types.SideSell:
		return l.applySellLocked(symbol, qty, price)
	default:
		return 0, fmt.Errorf("%w: side %q", ErrInvalidFill, side)
	}
}

func (l *Ledger) applyBuyLocked(symbol string, qty int64, price float64) error {
	p, ok := l.positions[symbol]
	if !ok {
		l.positions[symbol] = &types.Position{
			Symbol:      symbol,
			Quantity:    qty,
			AvgPrice:    price,
			LastPrice:   price,
			EntryTime:   l.clock(),
			RealizedFee: l.schedule.BuyFee(price, qty),
		}
		return nil
	}

	total := p.Quantity + qty
	p.AvgPrice = (p.AvgPrice*float64(p.Quantity) + price*float64(qty)) / float64(total)
	p.Quantity = total
	p.LastPrice = price
	p.RealizedFee += l.schedule.BuyFee(price, qty)
	return nil
}

func (l *Ledger) applySellLocked(symbol string, qty int64, price float64) (float64, error) {
	p, ok := l.positions[symbol]
	if !ok {
		log.Error().Str("symbol", symbol).Int64("qty", qty).Msg("sell fill for symbol not in ledger")
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if qty > p.Quantity {
		log.Error().
			Str("symbol", symbol).
			Int64("sell_qty", qty).
			Int64("held_qty", p.Quantity).
			Msg("sell fill exceeds held quantity, mutation refused")
		return 0, fmt.Errorf("%w: sell %d > held %d", ErrOversell, qty, p.Quantity)
	}

	realized := l.schedule.RealizedPnL(p.AvgPrice, price, qty)

	p.Quantity -= qty
	p.LastPrice = price
	p.RealizedFee += l.schedule.SellFee(price, qty)

	if p.Quantity == 0 {
		delete(l.positions, symbol)
	}
	return realized, nil
}

// MarkPrice updates the last known price for a held symbol. Quotes for
// symbols not in the ledger are ignored.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok {
		p.LastPrice = price
	}
}

// Get returns a copy of the position for symbol, if held.
func (l *Ledger) Get(symbol string) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// All returns copies of every open position, sorted by symbol.
func (l *Ledger) All() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
