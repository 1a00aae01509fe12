package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/trading"
	"github.com/aurax/trading-engine/internal/types"
	"github.com/aurax/trading-engine/pkg/metrics"
)

var testMetrics = metrics.New()

type stubPrices struct {
	prices map[string]float64
}

func (s *stubPrices) LTP(_ context.Context, symbol string) (float64, error) {
	p, ok := s.prices[symbol]
	if !ok {
		return 0, errors.New("no price for " + symbol)
	}
	return p, nil
}

func newTestWatcher(t *testing.T) (*Watcher, *stubPrices, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Trade{}, &types.User{}, &notify.LogEntry{}))

	prices := &stubPrices{prices: map[string]float64{}}
	w := New(DefaultConfig(), trading.NewDatabase(db), prices, notify.New(notify.Config{}, db), testMetrics)
	return w, prices, db
}

func openTrade(symbol string, entry, stoploss, target float64) *types.Trade {
	return &types.Trade{
		TradeKey:   symbol + "-open",
		AccountID:  "u1",
		Symbol:     symbol,
		Side:       types.SideBuy,
		Quantity:   100,
		EntryPrice: entry,
		Stoploss:   stoploss,
		Target:     target,
		Status:     types.TradeStatusSuccess,
	}
}

func reload(t *testing.T, db *gorm.DB, id uint) *types.Trade {
	t.Helper()
	var trade types.Trade
	require.NoError(t, db.First(&trade, id).Error)
	return &trade
}

func TestRunCycle_PutTradeAtEntryStaysOpen(t *testing.T) {
	w, prices, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550PE", 150, 135, 180)
	require.NoError(t, db.Create(trade).Error)
	prices.prices[trade.Symbol] = 150

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, types.TradeStatusSuccess, got.Status)
	assert.Equal(t, 135.0, got.Stoploss)
	assert.Nil(t, got.ExitTime)
}

func TestRunCycle_StoplossExit(t *testing.T) {
	w, prices, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550CE", 150, 135, 180)
	require.NoError(t, db.Create(trade).Error)
	prices.prices[trade.Symbol] = 134

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, types.TradeStatusStoploss, got.Status)
	assert.Equal(t, 134.0, got.ExitPrice)
	assert.Equal(t, -1600.0, got.PnL)
	require.NotNil(t, got.ExitTime)
}

func TestRunCycle_TargetExit(t *testing.T) {
	w, prices, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550CE", 150, 135, 180)
	require.NoError(t, db.Create(trade).Error)
	prices.prices[trade.Symbol] = 181

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, types.TradeStatusTarget, got.Status)
	assert.Equal(t, 3100.0, got.PnL)
}

func TestRunCycle_SellSideMirror(t *testing.T) {
	w, prices, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550PE", 150, 165, 120)
	trade.Side = types.SideSell
	require.NoError(t, db.Create(trade).Error)
	prices.prices[trade.Symbol] = 166

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, types.TradeStatusStoploss, got.Status)
	assert.Equal(t, -1600.0, got.PnL)
}

func TestRunCycle_TrailingTightensStop(t *testing.T) {
	w, prices, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550CE", 150, 135, 180)
	require.NoError(t, db.Create(trade).Error)
	// +4 over entry clears the +0.2% trigger; stop moves to price-0.3%
	prices.prices[trade.Symbol] = 154

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, types.TradeStatusTrailing, got.Status)
	assert.InDelta(t, 154-154*0.003, got.Stoploss, 0.01)
}

func TestRunCycle_TrailingNeverLoosens(t *testing.T) {
	w, prices, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550CE", 150, 160, 180)
	trade.Status = types.TradeStatusTrailing
	require.NoError(t, db.Create(trade).Error)
	// above the trigger but the buffer stop would sit below the current one
	prices.prices[trade.Symbol] = 155

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, 160.0, got.Stoploss)
}

func TestRunCycle_BelowTriggerNoTrailing(t *testing.T) {
	w, prices, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550CE", 150, 135, 180)
	require.NoError(t, db.Create(trade).Error)
	// +0.1% move, below the +0.2% trigger
	prices.prices[trade.Symbol] = 150.15

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, types.TradeStatusSuccess, got.Status)
	assert.Equal(t, 135.0, got.Stoploss)
}

func TestRunCycle_PriceFetchFailureSkipsTrade(t *testing.T) {
	w, _, db := newTestWatcher(t)
	trade := openTrade("NIFTY25NOV2722550CE", 150, 135, 180)
	require.NoError(t, db.Create(trade).Error)

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, trade.ID)
	assert.Equal(t, types.TradeStatusSuccess, got.Status)
}

func TestRunCycle_TerminalStatusNeverMutated(t *testing.T) {
	w, prices, db := newTestWatcher(t)

	exitTime := time.Now().Add(-time.Hour)
	done := openTrade("NIFTY25NOV2722550CE", 150, 135, 180)
	done.Status = types.TradeStatusStoploss
	done.ExitPrice = 135
	done.PnL = -1500
	done.ExitTime = &exitTime
	require.NoError(t, db.Create(done).Error)
	prices.prices[done.Symbol] = 200

	require.NoError(t, w.RunCycle(context.Background()))

	got := reload(t, db, done.ID)
	assert.Equal(t, types.TradeStatusStoploss, got.Status)
	assert.Equal(t, 135.0, got.ExitPrice)
	assert.Equal(t, -1500.0, got.PnL)
}

func TestExitStatus(t *testing.T) {
	buy := openTrade("X", 150, 135, 180)
	assert.Equal(t, "", exitStatus(buy, 150))
	assert.Equal(t, types.TradeStatusStoploss, exitStatus(buy, 135))
	assert.Equal(t, types.TradeStatusTarget, exitStatus(buy, 180))

	sell := openTrade("X", 150, 165, 120)
	sell.Side = types.SideSell
	assert.Equal(t, "", exitStatus(sell, 150))
	assert.Equal(t, types.TradeStatusStoploss, exitStatus(sell, 165))
	assert.Equal(t, types.TradeStatusTarget, exitStatus(sell, 120))
}
