package executor

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aurax/trading-engine/internal/broker"
	"github.com/aurax/trading-engine/internal/contracts"
	"github.com/aurax/trading-engine/internal/market"
	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/risk"
	"github.com/aurax/trading-engine/internal/system"
	"github.com/aurax/trading-engine/internal/trading"
	"github.com/aurax/trading-engine/internal/types"
	"github.com/aurax/trading-engine/internal/verifier"
	"github.com/aurax/trading-engine/pkg/metrics"
)

var testMetrics = metrics.New()

func TestExpiryWeekday(t *testing.T) {
	assert.Equal(t, time.Wednesday, ExpiryWeekday("BANKNIFTY"))
	assert.Equal(t, time.Tuesday, ExpiryWeekday("FINNIFTY"))
	assert.Equal(t, time.Thursday, ExpiryWeekday("NIFTY"))
	assert.Equal(t, time.Thursday, ExpiryWeekday("SENSEX"))
}

func TestNextWeeklyExpiry(t *testing.T) {
	monday := time.Date(2025, 11, 24, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC), NextWeeklyExpiry("NIFTY", monday))
	assert.Equal(t, time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC), NextWeeklyExpiry("BANKNIFTY", monday))
	assert.Equal(t, time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC), NextWeeklyExpiry("FINNIFTY", monday))

	// the expiry weekday itself counts as the next expiry
	thursday := time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, thursday, NextWeeklyExpiry("NIFTY", thursday))
}

func TestRoundStrike(t *testing.T) {
	assert.Equal(t, 22550, RoundStrike(22537, 50))
	assert.Equal(t, 22500, RoundStrike(22520, 50))
	assert.Equal(t, 48700, RoundStrike(48651, 100))
	assert.Equal(t, 22537, RoundStrike(22537.2, 0))
}

func TestBuildOptionSymbol(t *testing.T) {
	expiry := time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC)
	sym := BuildOptionSymbol("NIFTY", expiry, 22550, "CE")
	assert.Equal(t, "NIFTY25NOV2722550CE", sym)

	pattern := regexp.MustCompile(`^([A-Z]+)(\d{2})([A-Z]{3})(\d{2})(\d+)(CE|PE)$`)
	assert.Regexp(t, pattern, sym)
	assert.Regexp(t, pattern, BuildOptionSymbol("BANKNIFTY", expiry.AddDate(0, 0, -1), 48700, "PE"))
}

func TestATMOptionSymbol(t *testing.T) {
	monday := time.Date(2025, 11, 24, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, "NIFTY25NOV2722550CE", ATMOptionSymbol("NIFTY", 22537, "CE", 0, monday))
	// one step out of the money
	assert.Equal(t, "NIFTY25NOV2722600CE", ATMOptionSymbol("NIFTY", 22537, "CE", 1, monday))
	// bank strikes step by 100 and expire Wednesday
	assert.Equal(t, "BANKNIFTY25NOV2648700PE", ATMOptionSymbol("BANKNIFTY", 48651, "PE", 0, monday))
}

func TestOptionLevels(t *testing.T) {
	sl, tgt := optionLevels(150)
	assert.Equal(t, 135.0, sl)
	assert.Equal(t, 180.0, tgt)
	assert.Less(t, sl, 150.0)
	assert.Greater(t, tgt, 150.0)
}

func TestTrendOptionType(t *testing.T) {
	up := market.IndexSnapshot{EMA20: market.Float(22500), EMA50: market.Float(22400)}
	opt, ok := trendOptionType(up)
	require.True(t, ok)
	assert.Equal(t, types.OptionCall, opt)

	down := market.IndexSnapshot{EMA20: market.Float(22400), EMA50: market.Float(22500)}
	opt, ok = trendOptionType(down)
	require.True(t, ok)
	assert.Equal(t, types.OptionPut, opt)

	// Heikin-Ashi fallback when the EMAs are missing
	haUp := market.IndexSnapshot{HALast3: []string{"red", "green", "green"}}
	opt, ok = trendOptionType(haUp)
	require.True(t, ok)
	assert.Equal(t, types.OptionCall, opt)

	_, ok = trendOptionType(market.IndexSnapshot{})
	assert.False(t, ok)
}

func TestCooldown(t *testing.T) {
	clock := time.Date(2025, 11, 24, 11, 0, 0, 0, time.UTC)
	e := New(DefaultConfig(), market.NewCache(time.Minute), nil, nil, nil, nil, nil, testMetrics).
		WithClock(func() time.Time { return clock })

	assert.False(t, e.onCooldown("NIFTY25NOV2722550CE"))
	e.setCooldown("NIFTY25NOV2722550CE")
	assert.True(t, e.onCooldown("NIFTY25NOV2722550CE"))

	clock = clock.Add(9 * time.Second)
	assert.False(t, e.onCooldown("NIFTY25NOV2722550CE"))
}

type stubPlacer struct {
	placed []broker.OrderRequest
}

func (p *stubPlacer) PlaceOrder(_ context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	p.placed = append(p.placed, req)
	return &broker.OrderResult{OrderID: "STUB-1"}, nil
}

func newTestEngine(t *testing.T) (*Executor, *market.Cache, *stubPlacer, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Trade{}, &types.User{},
		&system.State{}, &system.PausedInfo{}, &system.GuardOverrides{},
		&contracts.Contract{}, &notify.LogEntry{},
	))

	cache := market.NewCache(time.Minute)
	clock := func() time.Time { return time.Date(2025, 11, 24, 11, 0, 0, 0, time.Local) }

	v := verifier.New(verifier.DefaultConfig(), cache).WithClock(clock)
	sys, err := system.NewService(db)
	require.NoError(t, err)
	contractSvc := contracts.NewService(db)
	notifier := notify.New(notify.Config{}, db)
	rm := risk.NewManager(db)

	placer := &stubPlacer{}
	tradingSvc := trading.NewService(db, v, rm, sys, contractSvc, notifier, placer, placer, testMetrics)

	e := New(DefaultConfig(), cache, v, tradingSvc, contractSvc, rm, notifier, testMetrics).WithClock(clock)
	return e, cache, placer, db
}

func strongOptionSnapshot(ltp float64) market.Snapshot {
	return market.Snapshot{
		Option: market.OptionSnapshot{
			LTP:           market.Float(ltp),
			Bid:           market.Float(ltp - 0.5),
			Ask:           market.Float(ltp + 0.5),
			IV:            market.Float(18),
			IVDelta30mPct: market.Float(4),
			Delta:         market.Float(0.45),
			Gamma:         market.Float(0.06),
			Theta:         market.Float(-4),
		},
		OI:     market.OISnapshot{ATMNetDelta15m: market.Float(2500), HourAvg: market.Float(70000)},
		Volume: market.VolumeSnapshot{CandleVol: market.Float(18000), Avg5: market.Float(9000)},
		Ticks:  market.TickSnapshot{Last3DeltaPct: market.Float(3.8)},
	}
}

func TestEvaluate_PlacesATMTradeInDemoMode(t *testing.T) {
	e, cache, placer, db := newTestEngine(t)

	cache.Put("NIFTY", market.Snapshot{Index: market.IndexSnapshot{
		Price:   market.Float(22537),
		EMA20:   market.Float(22450),
		EMA50:   market.Float(22400),
		HALast3: []string{"green", "green", "green"},
	}})
	cache.Put("NIFTY25NOV2722550CE", strongOptionSnapshot(150))
	e.contracts.Put("NIFTY25NOV2722550CE", "42315", "NFO")

	var seeded = types.User{AccountID: AccountID, Capital: 100000}
	require.NoError(t, db.Create(&seeded).Error)

	reason, trade, err := e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.NotNil(t, trade, "expected a trade, got skip reason %q", reason)

	assert.Equal(t, "NIFTY25NOV2722550CE", trade.Symbol)
	assert.Equal(t, types.SideBuy, trade.Side)
	assert.Equal(t, types.TradeStatusSimulated, trade.Status)
	assert.Equal(t, 150.0, trade.EntryPrice)
	assert.Equal(t, 135.0, trade.Stoploss)
	assert.Equal(t, 180.0, trade.Target)
	// 2% of 100000 over a 15 point stop distance
	assert.Equal(t, 133, trade.Quantity)
	require.Len(t, placer.placed, 1)

	// immediate re-evaluation is blocked by the cooldown
	reason, trade, err = e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Equal(t, "cooldown", reason)
}

func TestEvaluate_PutTradeKeepsStopBelowEntry(t *testing.T) {
	e, cache, placer, db := newTestEngine(t)

	cache.Put("NIFTY", market.Snapshot{Index: market.IndexSnapshot{
		Price:   market.Float(22537),
		EMA20:   market.Float(22400),
		EMA50:   market.Float(22450),
		HALast3: []string{"red", "red", "red"},
	}})
	cache.Put("NIFTY25NOV2722550PE", strongOptionSnapshot(150))
	e.contracts.Put("NIFTY25NOV2722550PE", "42316", "NFO")

	var seeded = types.User{AccountID: AccountID, Capital: 100000}
	require.NoError(t, db.Create(&seeded).Error)

	reason, trade, err := e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.NotNil(t, trade, "expected a trade, got skip reason %q", reason)

	assert.Equal(t, "NIFTY25NOV2722550PE", trade.Symbol)
	assert.Equal(t, types.SideBuy, trade.Side)
	// a bought put still risks premium downward: stop under the
	// entry, target above, same as a call
	assert.Equal(t, 150.0, trade.EntryPrice)
	assert.Equal(t, 135.0, trade.Stoploss)
	assert.Equal(t, 180.0, trade.Target)
	assert.Less(t, trade.Stoploss, trade.EntryPrice)
	assert.Greater(t, trade.Target, trade.EntryPrice)
	require.Len(t, placer.placed, 1)
}

func TestEvaluate_ReportsPausedSystem(t *testing.T) {
	e, cache, placer, db := newTestEngine(t)

	cache.Put("NIFTY", market.Snapshot{Index: market.IndexSnapshot{
		Price:   market.Float(22537),
		EMA20:   market.Float(22450),
		EMA50:   market.Float(22400),
		HALast3: []string{"green", "green", "green"},
	}})
	cache.Put("NIFTY25NOV2722550CE", strongOptionSnapshot(150))
	e.contracts.Put("NIFTY25NOV2722550CE", "42315", "NFO")
	require.NoError(t, db.Create(&types.User{AccountID: AccountID, Capital: 100000}).Error)

	sys, err := system.NewService(db)
	require.NoError(t, err)
	paused, err := sys.Pause(system.PausedInfo{Reason: "HARD_STOP", By: "guard"})
	require.NoError(t, err)
	require.True(t, paused)

	reason, trade, err := e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Equal(t, skipSystemPaused, reason)
	assert.Empty(t, placer.placed)
}

func TestEvaluate_SkipsWithoutIndexPrice(t *testing.T) {
	e, _, placer, _ := newTestEngine(t)

	reason, trade, err := e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Equal(t, "no_index_price", reason)
	assert.Empty(t, placer.placed)
}

func TestEvaluate_SkipsOnWideSpread(t *testing.T) {
	e, cache, placer, db := newTestEngine(t)

	cache.Put("NIFTY", market.Snapshot{Index: market.IndexSnapshot{
		Price: market.Float(22537),
		EMA20: market.Float(22450),
		EMA50: market.Float(22400),
	}})
	wide := strongOptionSnapshot(150)
	wide.Option.Bid = market.Float(140)
	wide.Option.Ask = market.Float(151)
	cache.Put("NIFTY25NOV2722550CE", wide)
	e.contracts.Put("NIFTY25NOV2722550CE", "42315", "NFO")
	require.NoError(t, db.Create(&types.User{AccountID: AccountID, Capital: 100000}).Error)

	reason, trade, err := e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Equal(t, "spread_too_high", reason)
	assert.Empty(t, placer.placed)
}

func TestEvaluate_SkipsOnOpenTradeCap(t *testing.T) {
	e, cache, placer, db := newTestEngine(t)

	cache.Put("NIFTY", market.Snapshot{Index: market.IndexSnapshot{
		Price: market.Float(22537),
		EMA20: market.Float(22450),
		EMA50: market.Float(22400),
	}})
	cache.Put("NIFTY25NOV2722550CE", strongOptionSnapshot(150))
	e.contracts.Put("NIFTY25NOV2722550CE", "42315", "NFO")
	require.NoError(t, db.Create(&types.User{AccountID: AccountID, Capital: 100000}).Error)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&types.Trade{
			TradeKey:  "open-" + string(rune('a'+i)),
			AccountID: AccountID,
			Symbol:    "NIFTY25NOV2722550CE",
			Side:      types.SideBuy,
			Status:    types.TradeStatusSuccess,
		}).Error)
	}

	reason, trade, err := e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Equal(t, "too_many_open_trades", reason)
	assert.Empty(t, placer.placed)
}

func TestEvaluate_SkipsOnLowCapital(t *testing.T) {
	e, cache, placer, db := newTestEngine(t)

	cache.Put("NIFTY", market.Snapshot{Index: market.IndexSnapshot{
		Price: market.Float(22537),
		EMA20: market.Float(22450),
		EMA50: market.Float(22400),
	}})
	cache.Put("NIFTY25NOV2722550CE", strongOptionSnapshot(150))
	e.contracts.Put("NIFTY25NOV2722550CE", "42315", "NFO")
	require.NoError(t, db.Create(&types.User{AccountID: AccountID, Capital: 5000}).Error)

	reason, trade, err := e.Evaluate(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Equal(t, "low_capital", reason)
	assert.Empty(t, placer.placed)
}
