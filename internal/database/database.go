package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradekit/autotrader/internal/store"
)

// New opens the mirror database and migrates its schema.
func New(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mirror database: %w", err)
	}

	if err := db.AutoMigrate(
		&store.OrderRecord{},
		&store.TradeRecord{},
		&store.CandidateRecord{},
		&store.EventRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate mirror schema: %w", err)
	}

	return db, nil
}
