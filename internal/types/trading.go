package types

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Option types
const (
	OptionCall = "CE"
	OptionPut  = "PE"
	OptionNone = "NA"
)

// Trade lifecycle statuses. A trade starts PENDING, becomes SIMULATED
// (demo mode) or SUCCESS (live fill), may move to TRAILING once the
// stop has been tightened, and terminates in STOPLOSS or TARGET.
const (
	TradeStatusPending   = "PENDING"
	TradeStatusSimulated = "SIMULATED"
	TradeStatusSuccess   = "SUCCESS"
	TradeStatusTrailing  = "TRAILING"
	TradeStatusStoploss  = "STOPLOSS"
	TradeStatusTarget    = "TARGET"
)

// Trade is the central stateful entity: one opened position per row,
// owned by the account that opened it. Created by the executor or the
// trade API, mutated afterwards only by the trade watcher.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeKey    string     `gorm:"uniqueIndex" json:"trade_key"`
	AccountID   string     `gorm:"index" json:"account_id"`
	Symbol      string     `json:"symbol"`
	Exchange    string     `json:"exchange"`
	Side        string     `json:"side"` // BUY or SELL
	Quantity    int        `json:"quantity"`
	EntryPrice  float64    `json:"entry_price"`
	Stoploss    float64    `json:"stoploss"` // mutable: trailing
	Target      float64    `json:"target"`
	ATR         float64    `json:"atr"`
	Confidence  float64    `json:"confidence"`
	VerifyScore float64    `json:"verify_score"`
	Status      string     `gorm:"index" json:"status"`
	OrderID     string     `json:"order_id,omitempty"`
	ExitPrice   float64    `json:"exit_price,omitempty"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	PnL         float64    `gorm:"column:pnl" json:"pnl"`
}

// IsOpen reports whether the trade is still being monitored by the watcher.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusSuccess || t.Status == TradeStatusTrailing
}

// IsTerminal reports whether the trade has reached an exit status.
// Terminal trades must never be mutated again.
func (t *Trade) IsTerminal() bool {
	return t.Status == TradeStatusStoploss || t.Status == TradeStatusTarget
}

// User holds per-account capital consulted by the risk checks.
type User struct {
	gorm.Model `json:"-"`
	AccountID  string  `gorm:"uniqueIndex" json:"account_id"`
	Name       string  `json:"name"`
	Capital    float64 `json:"capital"`
}

// Signal is a proposed trade produced by an external alert source, the
// strategy core, or the ATM executor. It is consumed once by the
// verifier and is immutable.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`               // BUY or SELL
	OptionType string    `json:"type,omitempty"`     // CE, PE or NA
	Price      float64   `json:"price,omitempty"`
	Confidence float64   `json:"confidence"`          // 0..100
	AIScore    *float64  `json:"ai_score,omitempty"` // 0..1, optional
	Time       time.Time `json:"time,omitempty"`
}

// OptionSide resolves the effective CE/PE polarity of the signal,
// falling back to the symbol when the type field is absent.
func (s Signal) OptionSide() string {
	switch strings.ToUpper(s.OptionType) {
	case OptionCall:
		return OptionCall
	case OptionPut:
		return OptionPut
	}
	sym := strings.ToUpper(s.Symbol)
	if strings.HasSuffix(sym, OptionPut) {
		return OptionPut
	}
	if strings.Contains(sym, OptionCall) {
		return OptionCall
	}
	return OptionPut
}

// Candle is a single OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
