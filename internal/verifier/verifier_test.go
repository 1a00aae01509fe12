package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurax/trading-engine/internal/market"
	"github.com/aurax/trading-engine/internal/types"
)

// tradingHours pins the verifier clock inside the trading window.
func tradingHours() func() time.Time {
	return func() time.Time {
		return time.Date(2025, 9, 1, 10, 30, 0, 0, time.Local)
	}
}

func afterHours() func() time.Time {
	return func() time.Time {
		return time.Date(2025, 9, 1, 16, 0, 0, 0, time.Local)
	}
}

func strongSnapshot() market.Snapshot {
	return market.Snapshot{
		Index: market.IndexSnapshot{
			EMA20:   market.Float(22600),
			EMA50:   market.Float(22500),
			HALast3: []string{"green", "green", "green"},
		},
		Option: market.OptionSnapshot{
			Delta:         market.Float(0.42),
			Gamma:         market.Float(0.06),
			Theta:         market.Float(-3.2),
			IVDelta30mPct: market.Float(4.0),
		},
		OI: market.OISnapshot{
			ATMNetDelta15m: market.Float(3000),
			HourAvg:        market.Float(80000),
		},
		Volume: market.VolumeSnapshot{
			CandleVol: market.Float(16000),
			Avg5:      market.Float(8000),
		},
		Ticks: market.TickSnapshot{Last3DeltaPct: market.Float(4.5)},
	}
}

func ceSignal() types.Signal {
	ai := 0.9
	return types.Signal{
		Symbol:     "NIFTY25SEP0422550CE",
		Side:       types.SideBuy,
		OptionType: types.OptionCall,
		Confidence: 95,
		AIScore:    &ai,
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, w := range Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestVerify_StrongSignalExecutes(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()

	res := v.Verify(context.Background(), ceSignal(), &snap)

	assert.Equal(t, ActionExecute, res.Action)
	assert.GreaterOrEqual(t, res.Score, 0.75)
	assert.Equal(t, 1.0, res.Breakdown[FactorMarketDirection])
	assert.Equal(t, 1.0, res.Breakdown[FactorOIBuild])
	assert.Equal(t, 1.0, res.Breakdown[FactorIVSanity])
}

func TestVerify_SellSignalAlwaysSkips(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()
	sig := ceSignal()
	sig.Side = types.SideSell

	res := v.Verify(context.Background(), sig, &snap)

	assert.Equal(t, ActionSkip, res.Action)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, []string{ReasonNotBuySignal}, res.Reasons)
}

func TestVerify_OutsideTimeWindowSkips(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(afterHours())
	snap := strongSnapshot()

	res := v.Verify(context.Background(), ceSignal(), &snap)

	assert.Equal(t, ActionSkip, res.Action)
	assert.Equal(t, []string{ReasonOutsideTimeWindow}, res.Reasons)
}

func TestVerify_EmptySnapshotDegrades(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := market.Snapshot{}

	res := v.Verify(context.Background(), ceSignal(), &snap)

	// missing EMAs are a soft unknown, not a failure
	assert.Equal(t, 0.5, res.Breakdown[FactorMarketDirection])
	assert.Equal(t, 0.0, res.Breakdown[FactorOIBuild])
	assert.Equal(t, 0.0, res.Breakdown[FactorVolumeMomentum])
	// zero IV delta sits inside the default band
	assert.Equal(t, 1.0, res.Breakdown[FactorIVSanity])
	assert.NotEqual(t, ActionExecute, res.Action)
}

func TestVerify_ScoreAlwaysInRange(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snaps := []market.Snapshot{{}, strongSnapshot()}
	for _, snap := range snaps {
		snap := snap
		res := v.Verify(context.Background(), ceSignal(), &snap)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestVerify_TrendMismatchScoresZero(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()
	// bearish trend against a CE signal
	snap.Index.EMA20 = market.Float(22400)
	snap.Index.EMA50 = market.Float(22500)

	res := v.Verify(context.Background(), ceSignal(), &snap)

	assert.Equal(t, 0.0, res.Breakdown[FactorMarketDirection])
	assert.Contains(t, res.Reasons, ReasonMarketDirectionWeak)
}

func TestVerify_PartialCreditWithoutCandleConfirm(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()
	snap.Index.HALast3 = []string{"green", "red", "green"}

	res := v.Verify(context.Background(), ceSignal(), &snap)

	assert.Equal(t, 0.6, res.Breakdown[FactorMarketDirection])
}

func TestVerify_IVOutOfRange(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()
	snap.Option.IVDelta30mPct = market.Float(35)

	res := v.Verify(context.Background(), ceSignal(), &snap)

	assert.Equal(t, 0.0, res.Breakdown[FactorIVSanity])
	assert.Contains(t, res.Reasons, ReasonIVOutOfRange)
}

func TestVerify_GreeksPartialCredit(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()
	// delta and theta hold, gamma misses
	snap.Option.Gamma = market.Float(0.01)

	res := v.Verify(context.Background(), ceSignal(), &snap)
	assert.Equal(t, 0.6, res.Breakdown[FactorGreeks])
}

func TestVerify_VolumePartialCredit(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()
	snap.Ticks.Last3DeltaPct = market.Float(1.0) // tick leg misses

	res := v.Verify(context.Background(), ceSignal(), &snap)
	assert.Equal(t, 0.6, res.Breakdown[FactorVolumeMomentum])
}

func TestVerify_ReasonsReturnedEvenOnExecute(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := strongSnapshot()
	snap.OI.ATMNetDelta15m = market.Float(100) // weak OI, everything else strong

	res := v.Verify(context.Background(), ceSignal(), &snap)

	require.Contains(t, res.Reasons, ReasonOIWeak)
	// a non-empty reason list does not imply rejection
	assert.Equal(t, ActionExecute, res.Action)
}

func TestVerify_ConfidenceBlend(t *testing.T) {
	v := New(DefaultConfig(), nil).WithClock(tradingHours())
	snap := market.Snapshot{}
	ai := 0.5
	sig := types.Signal{Symbol: "NIFTY25SEP0422550CE", Side: types.SideBuy, OptionType: types.OptionCall, Confidence: 80, AIScore: &ai}

	res := v.Verify(context.Background(), sig, &snap)
	assert.InDelta(t, 0.6*0.8+0.4*0.5, res.Breakdown[FactorConfidence], 1e-9)
}

func TestVerify_FetchesFromProviderWhenNil(t *testing.T) {
	cache := market.NewCache(0)
	cache.Put("NIFTY25SEP0422550CE", strongSnapshot())
	v := New(DefaultConfig(), cache).WithClock(tradingHours())

	res := v.Verify(context.Background(), ceSignal(), nil)
	assert.Equal(t, ActionExecute, res.Action)
}
