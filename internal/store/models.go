package store

import (
	"time"

	"gorm.io/gorm"
)

// OrderRecord mirrors an order's latest state.
type OrderRecord struct {
	gorm.Model  `json:"-"`
	OrderID     string    `gorm:"uniqueIndex" json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Kind        string    `json:"kind"`
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price"`
	State       string    `json:"state"`
	FilledQty   int64     `json:"filled_qty"`
	FilledPrice float64   `json:"filled_price"`
	Reason      string    `json:"reason"`
	Retries     int       `json:"retries"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TradeRecord mirrors one realized round trip (a sell fill with its P&L).
type TradeRecord struct {
	gorm.Model `json:"-"`
	TradeID    string    `gorm:"uniqueIndex" json:"trade_id"`
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Realized   float64   `json:"realized"`
	TradedAt   time.Time `json:"traded_at"`
}

// CandidateRecord mirrors a surge candidate's admission outcome.
type CandidateRecord struct {
	gorm.Model  `json:"-"`
	CandidateID string    `gorm:"uniqueIndex" json:"candidate_id"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	Score       float64   `json:"score"`
	ChangeRate  float64   `json:"change_rate"`
	VolumeRatio float64   `json:"volume_ratio"`
	State       string    `json:"state"`
	Reason      string    `json:"reason"`
	DetectedAt  time.Time `json:"detected_at"`
}

// EventRecord mirrors a telemetry event for after-the-fact reconstruction.
type EventRecord struct {
	gorm.Model `json:"-"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	Kind       string    `json:"kind"`
	Symbol     string    `json:"symbol"`
	OrderID    string    `json:"order_id"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}
