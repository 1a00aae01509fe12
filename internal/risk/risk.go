package risk

import (
	"math"

	"gorm.io/gorm"

	"github.com/aurax/trading-engine/internal/types"
)

// Built-in risk rules. Overridable per Manager.
const (
	DefaultMaxRiskPct      = 0.02 // 2% of capital at risk per trade
	DefaultDailyLossPct    = 0.05 // 5% of capital daily max loss
	DefaultATRPeriod       = 14
	DefaultATRMultSL       = 1.5
	DefaultATRMultTarget   = 3.0
	DefaultTrailingStepPct = 0.5 // trail after every +0.5% favorable move
)

// Plan holds the stop/target levels derived for one trade attempt.
// Immutable once computed.
type Plan struct {
	ATR            float64 `json:"atr"`
	Stoploss       float64 `json:"stoploss"`
	Target         float64 `json:"target"`
	SLDistance     float64 `json:"sl_distance"`
	TargetDistance float64 `json:"target_distance"`
}

// ComputeATR returns the average true range over the most recent
// period true-range values. With fewer than period+1 candles it falls
// back to half the high-low span, and to 1.0 with no candles at all.
// The result is always positive.
func ComputeATR(candles []types.Candle, period int) float64 {
	if period <= 0 {
		period = DefaultATRPeriod
	}
	if len(candles) == 0 {
		return 1.0
	}
	if len(candles) < period+1 {
		hi, lo := candles[0].High, candles[0].Low
		for _, c := range candles[1:] {
			hi = math.Max(hi, c.High)
			lo = math.Min(lo, c.Low)
		}
		if atr := (hi - lo) / 2; atr > 0 {
			return atr
		}
		return 1.0
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high, low := candles[i].High, candles[i].Low
		prevClose := candles[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trs = append(trs, tr)
	}
	sum := 0.0
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	if atr := sum / float64(period); atr > 0 {
		return atr
	}
	return 1.0
}

// SizePosition converts the per-trade risk budget into a quantity.
// Returns 0 when the stop distance is zero or the budget buys less
// than one unit; callers must treat 0 as a rejection.
func SizePosition(capital, entryPrice, stoplossPrice, maxRiskPct float64) int {
	if maxRiskPct <= 0 {
		maxRiskPct = DefaultMaxRiskPct
	}
	slDistance := math.Abs(entryPrice - stoplossPrice)
	if slDistance <= 0 || capital <= 0 {
		return 0
	}
	qty := int(math.Floor(capital * maxRiskPct / slDistance))
	if qty < 1 {
		return 0
	}
	return qty
}

// ComputeStopTarget derives ATR-based stop and target levels. For BUY
// the stop sits below entry and the target above; SELL is inverted.
func ComputeStopTarget(candles []types.Candle, entryPrice float64, direction string, atrMultSL, atrMultTarget float64) Plan {
	if atrMultSL <= 0 {
		atrMultSL = DefaultATRMultSL
	}
	if atrMultTarget <= 0 {
		atrMultTarget = DefaultATRMultTarget
	}
	atr := ComputeATR(candles, DefaultATRPeriod)
	slDistance := atrMultSL * atr
	targetDistance := atrMultTarget * atr

	var stoploss, target float64
	if direction == types.SideBuy {
		stoploss = entryPrice - slDistance
		target = entryPrice + targetDistance
	} else {
		stoploss = entryPrice + slDistance
		target = entryPrice - targetDistance
	}
	return Plan{
		ATR:            round4(atr),
		Stoploss:       round2(stoploss),
		Target:         round2(target),
		SLDistance:     round4(slDistance),
		TargetDistance: round4(targetDistance),
	}
}

// RecomputeTrailingStop returns the new stop for an open trade. Once
// the price has moved at least one full trailing step in the trade's
// favor, the stop locks to the entry price. The stop never loosens:
// for BUY the result is max(currentSL, entry), for SELL the min.
func RecomputeTrailingStop(entryPrice, currentPrice float64, direction string, currentSL, stepPct float64) float64 {
	if entryPrice == 0 {
		return currentSL
	}
	if stepPct <= 0 {
		stepPct = DefaultTrailingStepPct
	}
	movePct := (currentPrice - entryPrice) / entryPrice * 100
	if direction == types.SideSell {
		movePct = (entryPrice - currentPrice) / entryPrice * 100
	}
	if movePct <= 0 {
		return currentSL
	}
	stepsPassed := math.Floor(movePct / stepPct)
	if stepsPassed < 1 {
		return currentSL
	}
	if direction == types.SideBuy {
		return math.Max(currentSL, round2(entryPrice))
	}
	return math.Min(currentSL, round2(entryPrice))
}

// Manager bundles the risk rules with the trade history needed for the
// daily loss check. All computation methods are pure; only
// CheckDailyLossLimit touches the store.
type Manager struct {
	db *Database

	MaxRiskPct      float64
	DailyLossPct    float64
	ATRMultSL       float64
	ATRMultTarget   float64
	TrailingStepPct float64
}

// NewManager creates a risk manager with the built-in rules.
func NewManager(gormDB *gorm.DB) *Manager {
	return &Manager{
		db:              NewDatabase(gormDB),
		MaxRiskPct:      DefaultMaxRiskPct,
		DailyLossPct:    DefaultDailyLossPct,
		ATRMultSL:       DefaultATRMultSL,
		ATRMultTarget:   DefaultATRMultTarget,
		TrailingStepPct: DefaultTrailingStepPct,
	}
}

// SizePosition applies the manager's per-trade risk budget.
func (m *Manager) SizePosition(capital, entryPrice, stoplossPrice float64) int {
	return SizePosition(capital, entryPrice, stoplossPrice, m.MaxRiskPct)
}

// ComputeStopTarget applies the manager's ATR multipliers.
func (m *Manager) ComputeStopTarget(candles []types.Candle, entryPrice float64, direction string) Plan {
	return ComputeStopTarget(candles, entryPrice, direction, m.ATRMultSL, m.ATRMultTarget)
}

// RecomputeTrailingStop applies the manager's trailing step.
func (m *Manager) RecomputeTrailingStop(entryPrice, currentPrice float64, direction string, currentSL float64) float64 {
	return RecomputeTrailingStop(entryPrice, currentPrice, direction, currentSL, m.TrailingStepPct)
}

// CheckDailyLossLimit sums the realized P&L of the account's trades
// over the trailing 24 hours and compares it against the loss budget.
// allowed is true while pnl stays above limit (limit is negative).
func (m *Manager) CheckDailyLossLimit(accountID string, capital float64) (allowed bool, pnl, limit float64, err error) {
	pnl, err = m.db.RealizedPnLSince24h(accountID)
	if err != nil {
		// conservative: a failed read blocks new trades
		return false, 0, 0, err
	}
	limit = -math.Abs(capital * m.DailyLossPct)
	return pnl > limit, pnl, limit, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
