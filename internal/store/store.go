// Package store mirrors confirmed transitions to durable storage. The mirror
// is fire-and-forget: writes are queued onto a buffered channel drained by a
// single writer goroutine, and the trading path never waits on the database.
// When the queue is saturated the record is dropped with a warning — the
// in-memory state remains authoritative.
package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/internal/types"
	"github.com/tradekit/autotrader/pkg/id"
)

const queueDepth = 512

// Store is the asynchronous mirror.
type Store struct {
	db    *gorm.DB
	queue chan func(*gorm.DB) error
}

// New returns a store draining into db. Call Run on its own goroutine.
func New(db *gorm.DB) *Store {
	return &Store{
		db:    db,
		queue: make(chan func(*gorm.DB) error, queueDepth),
	}
}

// Run drains the write queue until the context is cancelled.
func (s *Store) Run(ctx context.Context) {
	logger := log.With().Str("component", "store").Logger()
	logger.Info().Msg("starting mirror writer")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down mirror writer")
			return
		case write := <-s.queue:
			if err := write(s.db); err != nil {
				logger.Error().Err(err).Msg("mirror write failed")
			}
		}
	}
}

func (s *Store) enqueue(write func(*gorm.DB) error) {
	select {
	case s.queue <- write:
	default:
		log.Warn().Msg("mirror queue saturated, record dropped")
	}
}

// QueueLen reports the current backlog, for tests and stats.
func (s *Store) QueueLen() int { return len(s.queue) }

// MirrorOrder upserts the order's latest state.
func (s *Store) MirrorOrder(o types.Order) {
	rec := OrderRecord{
		OrderID:     o.OrderID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Kind:        string(o.Kind),
		Quantity:    o.Quantity,
		Price:       o.Price,
		State:       string(o.State),
		FilledQty:   o.FilledQty,
		FilledPrice: o.FilledPrice,
		Reason:      o.Reason,
		Retries:     o.Retries,
		SubmittedAt: o.SubmittedAt,
	}
	s.enqueue(func(db *gorm.DB) error {
		var existing OrderRecord
		err := db.Where("order_id = ?", rec.OrderID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Create(&rec).Error
		}
		if err != nil {
			return err
		}
		rec.Model = existing.Model
		return db.Save(&rec).Error
	})
}

// MirrorTrade records a realized sell.
func (s *Store) MirrorTrade(orderID, symbol string, qty int64, price, realized float64) {
	rec := TradeRecord{
		TradeID:  "TRD_" + id.New(),
		OrderID:  orderID,
		Symbol:   symbol,
		Quantity: qty,
		Price:    price,
		Realized: realized,
	}
	s.enqueue(func(db *gorm.DB) error {
		return db.Create(&rec).Error
	})
}

// MirrorCandidate records a surge candidate's latest state.
func (s *Store) MirrorCandidate(c types.SurgeCandidate) {
	rec := CandidateRecord{
		CandidateID: c.CandidateID,
		Symbol:      c.Symbol,
		Name:        c.Name,
		Score:       c.Score,
		ChangeRate:  c.ChangeRate,
		VolumeRatio: c.VolumeRatio,
		State:       string(c.State),
		Reason:      c.Reason,
		DetectedAt:  c.DetectedAt,
	}
	s.enqueue(func(db *gorm.DB) error {
		var existing CandidateRecord
		err := db.Where("candidate_id = ?", rec.CandidateID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Create(&rec).Error
		}
		if err != nil {
			return err
		}
		rec.Model = existing.Model
		return db.Save(&rec).Error
	})
}

// MirrorEvent records a telemetry event.
func (s *Store) MirrorEvent(ev telemetry.Event) {
	rec := EventRecord{
		EventID:  ev.EventID,
		Kind:     string(ev.Kind),
		Symbol:   ev.Symbol,
		OrderID:  ev.OrderID,
		Quantity: ev.Quantity,
		Price:    ev.Price,
		Reason:   ev.Reason,
		At:       ev.At,
	}
	s.enqueue(func(db *gorm.DB) error {
		return db.Create(&rec).Error
	})
}
