package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "mirror.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&OrderRecord{}, &TradeRecord{}, &CandidateRecord{}, &EventRecord{}))

	s := New(db)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

func TestMirrorOrderUpserts(t *testing.T) {
	s := newTestStore(t)

	o := types.Order{
		OrderID:     "ORD-1",
		Symbol:      "S1",
		Side:        types.SideBuy,
		Kind:        types.KindLimit,
		Quantity:    100,
		Price:       1000,
		State:       types.OrderSubmitted,
		SubmittedAt: time.Now(),
	}
	s.MirrorOrder(o)

	o.State = types.OrderFilled
	o.FilledQty = 100
	o.FilledPrice = 1001
	s.MirrorOrder(o)

	require.Eventually(t, func() bool {
		var count int64
		s.db.Model(&OrderRecord{}).Where("order_id = ?", "ORD-1").Count(&count)
		if count != 1 {
			return false
		}
		var rec OrderRecord
		s.db.Where("order_id = ?", "ORD-1").First(&rec)
		return rec.State == string(types.OrderFilled) && rec.FilledQty == 100
	}, 2*time.Second, 10*time.Millisecond, "two mirrors of one order end as a single row with the latest state")
}

func TestMirrorTradeAppendsRows(t *testing.T) {
	s := newTestStore(t)

	s.MirrorTrade("ORD-1", "S1", 50, 1100, 4800)
	s.MirrorTrade("ORD-1", "S1", 50, 1105, 5000)

	require.Eventually(t, func() bool {
		var count int64
		s.db.Model(&TradeRecord{}).Where("order_id = ?", "ORD-1").Count(&count)
		return count == 2
	}, 2*time.Second, 10*time.Millisecond)

	var recs []TradeRecord
	require.NoError(t, s.db.Where("order_id = ?", "ORD-1").Find(&recs).Error)
	assert.NotEqual(t, recs[0].TradeID, recs[1].TradeID)
}

func TestMirrorCandidateUpserts(t *testing.T) {
	s := newTestStore(t)

	c := types.SurgeCandidate{
		CandidateID: "CND-1",
		Symbol:      "S1",
		Name:        "Test Corp",
		Score:       82,
		State:       types.CandidateDetected,
		DetectedAt:  time.Now(),
	}
	s.MirrorCandidate(c)

	c.State = types.CandidateExecuted
	s.MirrorCandidate(c)

	require.Eventually(t, func() bool {
		var count int64
		s.db.Model(&CandidateRecord{}).Where("candidate_id = ?", "CND-1").Count(&count)
		if count != 1 {
			return false
		}
		var rec CandidateRecord
		s.db.Where("candidate_id = ?", "CND-1").First(&rec)
		return rec.State == string(types.CandidateExecuted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMirrorEvent(t *testing.T) {
	s := newTestStore(t)

	s.MirrorEvent(telemetry.Event{
		EventID: "EVT-1",
		Kind:    telemetry.KindRiskVeto,
		Symbol:  "S1",
		Reason:  "daily loss limit",
		At:      time.Now(),
	})

	require.Eventually(t, func() bool {
		var rec EventRecord
		return s.db.Where("event_id = ?", "EVT-1").First(&rec).Error == nil
	}, 2*time.Second, 10*time.Millisecond)
}
