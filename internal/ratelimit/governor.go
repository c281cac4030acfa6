// Package ratelimit implements the request governor that keeps gateway
// traffic below the vendor's documented limits.
//
// Two request classes are budgeted independently: data queries and order
// submissions. Each class has a sliding one-second window; the order class
// additionally carries a calendar-day cap that fails closed once exhausted.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tradekit/autotrader/internal/config"
)

// Class identifies an independently budgeted request class.
type Class int

const (
	// ClassQuery covers balance, holdings and instrument queries.
	ClassQuery Class = iota
	// ClassOrder covers order submissions and cancels.
	ClassOrder
)

func (c Class) String() string {
	if c == ClassOrder {
		return "order"
	}
	return "query"
}

// ErrDailyCapExhausted is returned when the order class has used its full
// daily budget. There is no wait to offer; the caller must not submit.
var ErrDailyCapExhausted = errors.New("ratelimit: daily order cap exhausted")

// window is a sliding-window budget for one class. Grants are recorded at
// their scheduled time, so reservations issued while the window is full are
// pushed into the future in FIFO order.
type window struct {
	cap    int
	size   time.Duration
	grants []time.Time
}

// reserve books the next free slot at or after now and returns the scheduled
// time. Stale grants are pruned lazily here, on the next reservation.
func (w *window) reserve(now time.Time) time.Time {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.grants) && !w.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.grants = append(w.grants[:0], w.grants[i:]...)
	}

	scheduled := now
	if len(w.grants) >= w.cap {
		// The slot frees when the cap-th most recent grant leaves the window.
		anchor := w.grants[len(w.grants)-w.cap]
		if t := anchor.Add(w.size); t.After(scheduled) {
			scheduled = t
		}
	}
	w.grants = append(w.grants, scheduled)
	return scheduled
}

// inWindow counts grants scheduled within the trailing window as of now.
func (w *window) inWindow(now time.Time) int {
	cutoff := now.Add(-w.size)
	n := 0
	for _, t := range w.grants {
		if t.After(cutoff) && !t.After(now) {
			n++
		}
	}
	return n
}

// Governor admits gateway requests against per-second and per-day budgets.
// A request counts against its budget once admitted, whether or not the
// downstream call succeeds.
type Governor struct {
	mu      sync.Mutex
	clock   func() time.Time
	windows map[Class]*window

	dailyCap   int
	dailyCount int
	dailyEpoch string
}

// New builds a governor from config. The configured caps are expected to sit
// below the gateway's documented limits as a safety margin.
func New(cfg config.RateLimitConfig) *Governor {
	return &Governor{
		clock: time.Now,
		windows: map[Class]*window{
			ClassQuery: {cap: cfg.QueryPerSec, size: time.Second},
			ClassOrder: {cap: cfg.OrderPerSec, size: time.Second},
		},
		dailyCap: cfg.OrderDailyCap,
	}
}

// Reserve books the next free slot for the class and returns how long the
// caller must wait before proceeding. A zero wait means the request is
// admitted immediately. For the order class the daily cap is checked first;
// once exhausted the reservation is refused outright with
// ErrDailyCapExhausted and no slot is consumed.
//
// Reservations are granted in call order, so an early caller can never be
// starved by later ones.
func (g *Governor) Reserve(class Class) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()

	if class == ClassOrder {
		g.rollEpochLocked(now)
		if g.dailyCount >= g.dailyCap {
			return 0, ErrDailyCapExhausted
		}
		g.dailyCount++
	}

	scheduled := g.windows[class].reserve(now)
	return scheduled.Sub(now), nil
}

// Wait reserves a slot and blocks until it opens or the context is
// cancelled. The slot stays consumed even when the caller gives up; admitted
// requests count against the budget regardless of outcome.
func (g *Governor) Wait(ctx context.Context, class Class) error {
	wait, err := g.Reserve(class)
	if err != nil {
		return err
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rollEpochLocked resets the daily counter when the calendar day has moved on
// since the last order-class reservation. The epoch is compared on access
// rather than reset by a background timer.
func (g *Governor) rollEpochLocked(now time.Time) {
	epoch := now.Format("2006-01-02")
	if epoch != g.dailyEpoch {
		g.dailyEpoch = epoch
		g.dailyCount = 0
	}
}

// ClassStats is a point-in-time view of one class budget.
type ClassStats struct {
	Class      string `json:"class"`
	PerSecCap  int    `json:"per_sec_cap"`
	InWindow   int    `json:"in_window"`
	DailyCap   int    `json:"daily_cap,omitempty"`
	DailyUsed  int    `json:"daily_used,omitempty"`
	DailyEpoch string `json:"daily_epoch,omitempty"`
}

// Stats snapshots both class budgets for the query surface.
func (g *Governor) Stats() []ClassStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	g.rollEpochLocked(now)

	return []ClassStats{
		{
			Class:     ClassQuery.String(),
			PerSecCap: g.windows[ClassQuery].cap,
			InWindow:  g.windows[ClassQuery].inWindow(now),
		},
		{
			Class:      ClassOrder.String(),
			PerSecCap:  g.windows[ClassOrder].cap,
			InWindow:   g.windows[ClassOrder].inWindow(now),
			DailyCap:   g.dailyCap,
			DailyUsed:  g.dailyCount,
			DailyEpoch: g.dailyEpoch,
		},
	}
}
