package trading

import (
	"errors"
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

func (d *Database) CreateTrade(trade *types.Trade) error {
	return d.db.Create(trade).Error
}

func (d *Database) GetTrade(tradeKey string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_key = ?", tradeKey).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) ListTrades(accountID string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Where("account_id = ?", accountID).Order("created_at desc").Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// OpenTrades returns every trade across all accounts that the watcher
// still monitors.
func (d *Database) OpenTrades() ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("status IN ?", []string{types.TradeStatusSuccess, types.TradeStatusTrailing}).
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// OpenTradeCount counts an account's open positions, simulated ones
// included: the position cap applies to both modes.
func (d *Database) OpenTradeCount(accountID string) (int64, error) {
	var count int64
	err := d.db.Model(&types.Trade{}).
		Where("account_id = ? AND status IN ?", accountID,
			[]string{types.TradeStatusSimulated, types.TradeStatusSuccess, types.TradeStatusTrailing}).
		Count(&count).Error
	return count, err
}

// TodayRealized sums realized P&L and counts trades exited since local
// midnight. Used by the guard.
func (d *Database) TodayRealized(accountID string) (pnl float64, count int64, err error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	row := struct {
		Total float64
		N     int64
	}{}
	err = d.db.Model(&types.Trade{}).
		Where("account_id = ? AND exit_time IS NOT NULL AND exit_time >= ?", accountID, dayStart).
		Select("COALESCE(SUM(pnl), 0) AS total, COUNT(*) AS n").
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.N, nil
}

// UpdateTrailingStop tightens the stop on an open trade and marks it
// TRAILING. The status guard keeps a concurrently-exited trade
// untouched.
func (d *Database) UpdateTrailingStop(tradeID uint, newSL float64) error {
	return d.db.Model(&types.Trade{}).
		Where("id = ? AND status IN ?", tradeID,
			[]string{types.TradeStatusSuccess, types.TradeStatusTrailing}).
		Updates(map[string]interface{}{
			"stoploss": newSL,
			"status":   types.TradeStatusTrailing,
		}).Error
}

// MarkExit records the terminal state of a trade in one update. The
// status guard makes the transition monotonic: a trade already at a
// terminal status is never rewritten.
func (d *Database) MarkExit(tradeID uint, status string, exitPrice, pnl float64, exitTime time.Time) error {
	return d.db.Model(&types.Trade{}).
		Where("id = ? AND status IN ?", tradeID,
			[]string{types.TradeStatusSimulated, types.TradeStatusSuccess, types.TradeStatusTrailing}).
		Updates(map[string]interface{}{
			"status":     status,
			"exit_price": exitPrice,
			"exit_time":  exitTime,
			"pnl":        pnl,
		}).Error
}

func (d *Database) GetUser(accountID string) (*types.User, error) {
	var user types.User
	if err := d.db.Where("account_id = ?", accountID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) ListUsers() ([]types.User, error) {
	var users []types.User
	if err := d.db.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
