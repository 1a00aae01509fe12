package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aurax/trading-engine/internal/types"
)

func TestComputeATR_FallbackWithFewCandles(t *testing.T) {
	candles := []types.Candle{
		{High: 110, Low: 100, Close: 105},
		{High: 120, Low: 104, Close: 118},
		{High: 119, Low: 98, Close: 101},
	}
	// fewer than period+1 candles: (max(high)-min(low))/2
	assert.Equal(t, (120.0-98.0)/2, ComputeATR(candles, 14))
}

func TestComputeATR_EmptyCandles(t *testing.T) {
	assert.Equal(t, 1.0, ComputeATR(nil, 14))
}

func TestComputeATR_FullPeriod(t *testing.T) {
	// 16 identical candles with a constant true range of 10
	candles := make([]types.Candle, 16)
	for i := range candles {
		candles[i] = types.Candle{High: 110, Low: 100, Close: 105}
	}
	assert.InDelta(t, 10.0, ComputeATR(candles, 14), 1e-9)
}

func TestComputeATR_NeverZero(t *testing.T) {
	candles := make([]types.Candle, 20)
	for i := range candles {
		candles[i] = types.Candle{High: 100, Low: 100, Close: 100}
	}
	assert.Equal(t, 1.0, ComputeATR(candles, 14))
}

func TestSizePosition(t *testing.T) {
	// 2% of 100000 = 2000 risk budget, 15 points of stop distance
	assert.Equal(t, 133, SizePosition(100000, 100, 85, 0.02))
}

func TestSizePosition_Rejections(t *testing.T) {
	assert.Equal(t, 0, SizePosition(100000, 100, 100, 0.02), "zero stop distance")
	assert.Equal(t, 0, SizePosition(100, 100, 85, 0.02), "budget below one unit")
	assert.Equal(t, 0, SizePosition(0, 100, 85, 0.02), "no capital")
}

func TestComputeStopTarget_Buy(t *testing.T) {
	candles := make([]types.Candle, 16)
	for i := range candles {
		candles[i] = types.Candle{High: 110, Low: 100, Close: 105}
	}
	plan := ComputeStopTarget(candles, 200, types.SideBuy, 1.5, 3.0)
	assert.InDelta(t, 10.0, plan.ATR, 1e-9)
	assert.InDelta(t, 185.0, plan.Stoploss, 1e-9) // entry - 1.5*atr
	assert.InDelta(t, 230.0, plan.Target, 1e-9)   // entry + 3.0*atr
	assert.InDelta(t, 15.0, plan.SLDistance, 1e-9)
	assert.InDelta(t, 30.0, plan.TargetDistance, 1e-9)
}

func TestComputeStopTarget_Sell(t *testing.T) {
	candles := make([]types.Candle, 16)
	for i := range candles {
		candles[i] = types.Candle{High: 110, Low: 100, Close: 105}
	}
	plan := ComputeStopTarget(candles, 200, types.SideSell, 1.5, 3.0)
	assert.InDelta(t, 215.0, plan.Stoploss, 1e-9)
	assert.InDelta(t, 170.0, plan.Target, 1e-9)
}

func TestRecomputeTrailingStop_LocksToEntry(t *testing.T) {
	// +1% move on a BUY: past the 0.5% step, stop locks to entry
	newSL := RecomputeTrailingStop(100, 101, types.SideBuy, 90, 0.5)
	assert.Equal(t, 100.0, newSL)
}

func TestRecomputeTrailingStop_NoMoveBelowOneStep(t *testing.T) {
	newSL := RecomputeTrailingStop(100, 100.3, types.SideBuy, 90, 0.5)
	assert.Equal(t, 90.0, newSL)
}

func TestRecomputeTrailingStop_NeverLoosens(t *testing.T) {
	sl := 90.0
	prices := []float64{100.6, 101.2, 100.1, 103.0, 99.0}
	for _, px := range prices {
		next := RecomputeTrailingStop(100, px, types.SideBuy, sl, 0.5)
		assert.GreaterOrEqual(t, next, sl, "stop loosened at price %v", px)
		sl = next
	}
}

func TestRecomputeTrailingStop_Sell(t *testing.T) {
	// favorable move for SELL is downwards
	newSL := RecomputeTrailingStop(100, 99, types.SideSell, 110, 0.5)
	assert.Equal(t, 100.0, newSL)

	// adverse move leaves the stop alone
	assert.Equal(t, 110.0, RecomputeTrailingStop(100, 101, types.SideSell, 110, 0.5))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Trade{}, &types.User{}))
	return db
}

func TestCheckDailyLossLimit(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)

	now := time.Now()
	require.NoError(t, db.Create(&types.Trade{
		TradeKey: "t1", AccountID: "acct-1", Symbol: "NIFTY25SEP0422550CE",
		Side: types.SideBuy, Quantity: 100, EntryPrice: 120,
		Status: types.TradeStatusStoploss, PnL: -6000, ExitTime: &now,
	}).Error)

	allowed, pnl, limit, err := m.CheckDailyLossLimit("acct-1", 100000)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, -6000.0, pnl)
	assert.Equal(t, -5000.0, limit)
}

func TestCheckDailyLossLimit_AllowedWithinBudget(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)

	require.NoError(t, db.Create(&types.Trade{
		TradeKey: "t1", AccountID: "acct-1", Symbol: "NIFTY25SEP0422550CE",
		Side: types.SideBuy, Quantity: 10, EntryPrice: 120,
		Status: types.TradeStatusTarget, PnL: -1000,
	}).Error)

	allowed, pnl, limit, err := m.CheckDailyLossLimit("acct-1", 100000)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, -1000.0, pnl)
	assert.Equal(t, -5000.0, limit)
}

func TestCheckDailyLossLimit_IgnoresOtherAccounts(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db)

	require.NoError(t, db.Create(&types.Trade{
		TradeKey: "t1", AccountID: "acct-2", Symbol: "NIFTY25SEP0422550CE",
		Side: types.SideBuy, Quantity: 100, EntryPrice: 120,
		Status: types.TradeStatusStoploss, PnL: -9000,
	}).Error)

	allowed, pnl, _, err := m.CheckDailyLossLimit("acct-1", 100000)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 0.0, pnl)
}
