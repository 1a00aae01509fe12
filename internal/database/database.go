package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aurax/trading-engine/internal/broker"
	"github.com/aurax/trading-engine/internal/contracts"
	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/strategy"
	"github.com/aurax/trading-engine/internal/system"
	"github.com/aurax/trading-engine/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "aurax.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Trade{},
		&types.User{},
		&strategy.SignalRecord{},
		&system.State{},
		&system.PausedInfo{},
		&system.GuardOverrides{},
		&broker.Token{},
		&contracts.Contract{},
		&notify.LogEntry{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
