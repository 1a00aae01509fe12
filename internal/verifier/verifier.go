package verifier

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aurax/trading-engine/internal/market"
	"github.com/aurax/trading-engine/internal/types"
)

// Verification actions.
const (
	ActionExecute = "EXECUTE"
	ActionManual  = "MANUAL"
	ActionSkip    = "SKIP"
)

// Scoring factors. Weights sum to exactly 1.0.
const (
	FactorMarketDirection = "market_direction"
	FactorOIBuild         = "oi_build"
	FactorVolumeMomentum  = "volume_momentum"
	FactorGreeks          = "greeks"
	FactorIVSanity        = "iv_sanity"
	FactorConfidence      = "confidence"
)

// Weights per factor.
var Weights = map[string]float64{
	FactorMarketDirection: 0.25,
	FactorOIBuild:         0.20,
	FactorVolumeMomentum:  0.15,
	FactorGreeks:          0.15,
	FactorIVSanity:        0.10,
	FactorConfidence:      0.15,
}

// Reason codes returned alongside decisions.
const (
	ReasonOutsideTimeWindow   = "outside_time_window"
	ReasonNotBuySignal        = "not_buy_signal"
	ReasonIVOutOfRange        = "iv_out_of_range"
	ReasonMarketDirectionWeak = "market_direction_weak"
	ReasonOIWeak              = "oi_weak"
	ReasonVolumeWeak          = "volume_weak"
	ReasonGreeksWeak          = "greeks_weak"
	ReasonConfidenceWeak      = "confidence_weak"
)

// Config holds the verifier's tunables.
type Config struct {
	TimeWindowStart  string  // "HH:MM", local exchange time
	TimeWindowEnd    string
	AutoThreshold    float64 // score >= this -> EXECUTE
	ManualThreshold  float64 // score >= this -> MANUAL
	VolumeMultiplier float64 // candle volume vs 5-period average
	TickMovePct      float64 // last-3-tick move for momentum credit
	MinDelta         float64
	MinGamma         float64
	MinTheta         float64 // theta must exceed this (negative)
	OIDeltaAbsMin    float64
	OIAvgPct         float64 // fraction of hourly OI average
	IVDeltaMinPct    float64
	IVDeltaMaxPct    float64
}

// DefaultConfig returns the production rubric.
func DefaultConfig() Config {
	return Config{
		TimeWindowStart:  "09:45",
		TimeWindowEnd:    "15:00",
		AutoThreshold:    0.75,
		ManualThreshold:  0.65,
		VolumeMultiplier: 1.5,
		TickMovePct:      3.0,
		MinDelta:         0.30,
		MinGamma:         0.03,
		MinTheta:         -12,
		OIDeltaAbsMin:    2000,
		OIAvgPct:         0.03,
		IVDeltaMinPct:    -5,
		IVDeltaMaxPct:    20,
	}
}

// Result is the verifier's decision for one signal.
type Result struct {
	Action    string             `json:"action"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
	Reasons   []string           `json:"reasons"`
}

// Verifier scores proposed signals against a market snapshot using a
// fixed weighted rubric. Stateless: every call is independent.
type Verifier struct {
	cfg      Config
	provider market.Provider
	now      func() time.Time
}

// New creates a verifier. provider may be nil, in which case callers
// must supply a snapshot on every Verify call.
func New(cfg Config, provider market.Provider) *Verifier {
	return &Verifier{cfg: cfg, provider: provider, now: time.Now}
}

// WithClock overrides the verifier's clock. Test hook.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify scores the signal. A nil snapshot is fetched from the
// provider; an empty snapshot degrades factor scores but never fails.
func (v *Verifier) Verify(ctx context.Context, sig types.Signal, snap *market.Snapshot) Result {
	// Pre-gates bypass scoring entirely.
	if !v.inTimeWindow() {
		return Result{Action: ActionSkip, Score: 0, Breakdown: map[string]float64{}, Reasons: []string{ReasonOutsideTimeWindow}}
	}
	if strings.ToUpper(sig.Side) != types.SideBuy {
		return Result{Action: ActionSkip, Score: 0, Breakdown: map[string]float64{}, Reasons: []string{ReasonNotBuySignal}}
	}

	s := v.snapshot(ctx, sig.Symbol, snap)

	breakdown := map[string]float64{}
	var reasons []string
	total := 0.0

	md := v.scoreMarketDirection(sig, s)
	breakdown[FactorMarketDirection] = md
	total += md * Weights[FactorMarketDirection]

	oi := v.scoreOIBuild(sig, s)
	breakdown[FactorOIBuild] = oi
	total += oi * Weights[FactorOIBuild]

	vol := v.scoreVolumeMomentum(s)
	breakdown[FactorVolumeMomentum] = vol
	total += vol * Weights[FactorVolumeMomentum]

	greeks := v.scoreGreeks(s)
	breakdown[FactorGreeks] = greeks
	total += greeks * Weights[FactorGreeks]

	iv, ivReason := v.scoreIVSanity(s)
	breakdown[FactorIVSanity] = iv
	total += iv * Weights[FactorIVSanity]
	if ivReason != "" {
		reasons = append(reasons, ivReason)
	}

	conf := v.scoreConfidence(sig)
	breakdown[FactorConfidence] = conf
	total += conf * Weights[FactorConfidence]

	score := math.Round(clamp01(total)*10000) / 10000

	action := ActionSkip
	switch {
	case score >= v.cfg.AutoThreshold:
		action = ActionExecute
	case score >= v.cfg.ManualThreshold:
		action = ActionManual
	}

	// Weak-factor reason codes are informational and returned even on
	// EXECUTE decisions.
	if md < 0.5 {
		reasons = append(reasons, ReasonMarketDirectionWeak)
	}
	if oi < 0.5 {
		reasons = append(reasons, ReasonOIWeak)
	}
	if vol < 0.5 {
		reasons = append(reasons, ReasonVolumeWeak)
	}
	if greeks < 0.5 {
		reasons = append(reasons, ReasonGreeksWeak)
	}
	if conf < 0.5 {
		reasons = append(reasons, ReasonConfidenceWeak)
	}

	log.Debug().
		Str("component", "verifier").
		Str("symbol", sig.Symbol).
		Str("action", action).
		Float64("score", score).
		Strs("reasons", reasons).
		Msg("signal verified")

	return Result{Action: action, Score: score, Breakdown: breakdown, Reasons: reasons}
}

func (v *Verifier) snapshot(ctx context.Context, symbol string, snap *market.Snapshot) market.Snapshot {
	if snap != nil {
		return *snap
	}
	if v.provider != nil {
		return v.provider.Snapshot(ctx, symbol)
	}
	return market.Snapshot{}
}

func (v *Verifier) inTimeWindow() bool {
	now := v.now()
	cur := now.Hour()*60 + now.Minute()
	return hhmmToMinutes(v.cfg.TimeWindowStart) <= cur && cur <= hhmmToMinutes(v.cfg.TimeWindowEnd)
}

// scoreMarketDirection compares the EMA20/EMA50 trend against the
// signal's CE/PE polarity. Full credit needs three confirming candle
// colors on top of the trend match; missing EMA data scores a soft 0.5.
func (v *Verifier) scoreMarketDirection(sig types.Signal, s market.Snapshot) float64 {
	idx := s.Index
	if idx.EMA20 == nil || idx.EMA50 == nil {
		return 0.5
	}
	bull := *idx.EMA20 > *idx.EMA50
	wantCall := sig.OptionSide() == types.OptionCall
	if bull != wantCall {
		return 0.0
	}
	confirm := market.ColorRed
	if bull {
		confirm = market.ColorGreen
	}
	if len(idx.HALast3) >= 3 && allColor(idx.HALast3[len(idx.HALast3)-3:], confirm) {
		return 1.0
	}
	return 0.6
}

// scoreOIBuild checks open-interest build near ATM against a floor of
// max(absolute minimum, 3% of the hourly average), in the direction a
// CE signal implies.
func (v *Verifier) scoreOIBuild(sig types.Signal, s market.Snapshot) float64 {
	oiDelta := deref(s.OI.ATMNetDelta15m)
	oiAvg := deref(s.OI.HourAvg)
	thresh := math.Max(v.cfg.OIDeltaAbsMin, v.cfg.OIAvgPct*oiAvg)
	if sig.OptionSide() == types.OptionCall && oiDelta >= thresh {
		return 1.0
	}
	if math.Abs(oiDelta) >= thresh*0.6 {
		return 0.6
	}
	return 0.0
}

// scoreVolumeMomentum needs both a volume spike and a recent tick move
// for full credit; either alone is partial.
func (v *Verifier) scoreVolumeMomentum(s market.Snapshot) float64 {
	cv := deref(s.Volume.CandleVol)
	avg5 := deref(s.Volume.Avg5)
	if avg5 == 0 {
		avg5 = 1
	}
	tickDelta := deref(s.Ticks.Last3DeltaPct)

	volOK := cv >= v.cfg.VolumeMultiplier*avg5
	tickOK := math.Abs(tickDelta) >= v.cfg.TickMovePct
	switch {
	case volOK && tickOK:
		return 1.0
	case volOK || tickOK:
		return 0.6
	default:
		return 0.0
	}
}

// scoreGreeks requires delta, gamma and theta sanity for full credit;
// delta plus one of the others is partial.
func (v *Verifier) scoreGreeks(s market.Snapshot) float64 {
	opt := s.Option
	dOK := math.Abs(deref(opt.Delta)) >= v.cfg.MinDelta
	gOK := deref(opt.Gamma) >= v.cfg.MinGamma
	tOK := deref(opt.Theta) > v.cfg.MinTheta
	switch {
	case dOK && gOK && tOK:
		return 1.0
	case (dOK && gOK) || (dOK && tOK):
		return 0.6
	default:
		return 0.0
	}
}

// scoreIVSanity passes when the 30-minute IV delta sits inside the
// configured band. An absent reading counts as zero delta, which is in
// band.
func (v *Verifier) scoreIVSanity(s market.Snapshot) (float64, string) {
	ivd := deref(s.Option.IVDelta30mPct)
	if v.cfg.IVDeltaMinPct <= ivd && ivd <= v.cfg.IVDeltaMaxPct {
		return 1.0, ""
	}
	return 0.0, ReasonIVOutOfRange
}

// scoreConfidence blends the source confidence with the optional AI
// score. Continuous, unlike the other factors.
func (v *Verifier) scoreConfidence(sig types.Signal) float64 {
	tvNorm := math.Min(100, sig.Confidence) / 100
	aiNorm := 0.0
	if sig.AIScore != nil {
		aiNorm = clamp01(*sig.AIScore)
	}
	return 0.6*tvNorm + 0.4*aiNorm
}

func hhmmToMinutes(t string) int {
	parts := strings.SplitN(t, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h*60 + m
}

func allColor(colors []string, want string) bool {
	for _, c := range colors {
		if !strings.EqualFold(c, want) {
			return false
		}
	}
	return len(colors) > 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
