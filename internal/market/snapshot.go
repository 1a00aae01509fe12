package market

import (
	"context"
	"time"
)

// Candle colors reported by the index feed (Heikin-Ashi).
const (
	ColorGreen = "green"
	ColorRed   = "red"
)

// IndexSnapshot carries index-level readings. Nil fields mean the
// reading is unavailable; consumers must branch on presence.
type IndexSnapshot struct {
	Price  *float64 `json:"price,omitempty"`
	EMA20  *float64 `json:"ema20,omitempty"`
	EMA50  *float64 `json:"ema50,omitempty"`
	HALast3 []string `json:"ha_last3,omitempty"` // last 3 Heikin-Ashi candle colors
}

// OptionSnapshot carries option-level Greeks, IV and quote data.
type OptionSnapshot struct {
	LTP           *float64 `json:"ltp,omitempty"`
	Bid           *float64 `json:"bid,omitempty"`
	Ask           *float64 `json:"ask,omitempty"`
	OI            *float64 `json:"oi,omitempty"`
	IV            *float64 `json:"iv,omitempty"`
	IVDelta30mPct *float64 `json:"iv_delta_30m_pct,omitempty"`
	Delta         *float64 `json:"delta,omitempty"`
	Gamma         *float64 `json:"gamma,omitempty"`
	Theta         *float64 `json:"theta,omitempty"`
	Vega          *float64 `json:"vega,omitempty"`
}

// OISnapshot carries open-interest build readings near ATM.
type OISnapshot struct {
	ATMNetDelta15m *float64 `json:"atm_plus_minus_4_net_oi_delta_15m,omitempty"`
	HourAvg        *float64 `json:"oi_1h_avg,omitempty"`
}

// VolumeSnapshot carries candle volume vs its trailing average.
type VolumeSnapshot struct {
	CandleVol *float64 `json:"candle_vol,omitempty"`
	Avg5      *float64 `json:"avg_5,omitempty"`
}

// TickSnapshot carries short-horizon tick momentum.
type TickSnapshot struct {
	Last3DeltaPct *float64 `json:"last_3_delta_pct,omitempty"`
}

// Snapshot is the full market reading for one symbol at one instant.
// The zero value is a valid, fully-degraded snapshot: every consumer
// scores absent fields conservatively instead of failing.
type Snapshot struct {
	Index     IndexSnapshot  `json:"index"`
	Option    OptionSnapshot `json:"option"`
	OI        OISnapshot     `json:"oi"`
	Volume    VolumeSnapshot `json:"volume"`
	Ticks     TickSnapshot   `json:"ltp_ticks"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsEmpty reports whether no reading at all is present.
func (s Snapshot) IsEmpty() bool {
	return s.Index.Price == nil && s.Index.EMA20 == nil && s.Option.LTP == nil &&
		s.OI.ATMNetDelta15m == nil && s.Volume.CandleVol == nil
}

// Merge overlays option-level readings from o onto the index-level
// snapshot s, producing the combined view the verifier scores. Used by
// the executor, which fetches index and option snapshots separately.
func (s Snapshot) Merge(o Snapshot) Snapshot {
	merged := s
	merged.Option = o.Option
	merged.OI = o.OI
	merged.Volume = o.Volume
	merged.Ticks = o.Ticks
	if !o.Timestamp.IsZero() {
		merged.Timestamp = o.Timestamp
	}
	return merged
}

// Float returns a pointer to v. Snapshot construction helper.
func Float(v float64) *float64 { return &v }

// Provider supplies the latest market snapshot for a symbol. It must
// never fail: an empty snapshot is the degraded-data answer.
type Provider interface {
	Snapshot(ctx context.Context, symbol string) Snapshot
}
