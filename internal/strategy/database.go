package strategy

import (
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateSignal(rec *SignalRecord) error {
	return d.db.Create(rec).Error
}

func (d *Database) RecentSignals(limit int) ([]SignalRecord, error) {
	var recs []SignalRecord
	if err := d.db.Order("created_at desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
