package notify

import (
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateLog(entry *LogEntry) error {
	return d.db.Create(entry).Error
}

func (d *Database) RecentLogs(limit int) ([]LogEntry, error) {
	var entries []LogEntry
	if err := d.db.Order("created_at desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
