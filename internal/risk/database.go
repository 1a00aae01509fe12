package risk

import (
	"time"

	"gorm.io/gorm"

	"github.com/aurax/trading-engine/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// RealizedPnLSince24h sums the pnl of the account's trades created in
// the trailing 24 hours. Open trades carry pnl 0 so including them is
// harmless.
func (d *Database) RealizedPnLSince24h(accountID string) (float64, error) {
	since := time.Now().Add(-24 * time.Hour)
	var total float64
	err := d.db.Model(&types.Trade{}).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Select("COALESCE(SUM(pnl), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
