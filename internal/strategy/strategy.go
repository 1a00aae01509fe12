package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/aurax/trading-engine/internal/types"
)

// SignalRecord is a persisted generated or inbound signal, kept for
// the dashboard and post-trade review.
type SignalRecord struct {
	gorm.Model  `json:"-"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	OptionType  string  `json:"option_type"`
	BaseSymbol  string  `json:"base_symbol"`
	Price       float64 `json:"price"`
	EMA20       float64 `json:"ema20"`
	EMA50       float64 `json:"ema50"`
	RSI         float64 `json:"rsi"`
	Action      string  `json:"action"` // BUY, SELL or HOLD
	Reason      string  `json:"reason"`
	Source      string  `json:"source"` // strategy, webhook, atm_executor
	VerifyScore float64 `json:"verify_score"`
	Mode        string  `json:"mode"`
}

// CandleSource supplies recent candles for a symbol.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error)
}

// Service is the strategy core: it turns candle history into trade
// signals using an EMA crossover filtered by RSI.
type Service struct {
	db      *Database
	candles CandleSource
}

// NewService creates a strategy service.
func NewService(gormDB *gorm.DB, candles CandleSource) *Service {
	return &Service{db: NewDatabase(gormDB), candles: candles}
}

// GenerateSignal runs the strategy for one symbol and persists the
// resulting signal record. A HOLD outcome is recorded but yields no
// tradeable signal.
func (s *Service) GenerateSignal(ctx context.Context, symbol string) (*types.Signal, *SignalRecord, error) {
	candles, err := s.candles.Candles(ctx, symbol, 50)
	if err != nil {
		return nil, nil, err
	}
	if len(candles) < 2 {
		return nil, nil, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ema20 := EMA(closes, 20)
	ema50 := EMA(closes, 50)
	rsi := RSI(closes, 14)
	last := closes[len(closes)-1]

	action, reason := "HOLD", ""
	switch {
	case ema20[len(ema20)-1] > ema50[len(ema50)-1] && rsi < 70:
		action, reason = types.SideBuy, "trend up, rsi below 70"
	case ema20[len(ema20)-1] < ema50[len(ema50)-1] && rsi > 30:
		action, reason = types.SideSell, "trend down, rsi above 30"
	}

	info := AnalyzeSymbol(symbol)
	rec := &SignalRecord{
		Symbol:     symbol,
		Side:       action,
		OptionType: info.OptionType,
		BaseSymbol: info.BaseSymbol,
		Price:      last,
		EMA20:      ema20[len(ema20)-1],
		EMA50:      ema50[len(ema50)-1],
		RSI:        rsi,
		Action:     action,
		Reason:     reason,
		Source:     "strategy",
	}
	if err := s.db.CreateSignal(rec); err != nil {
		return nil, nil, err
	}

	log.Debug().
		Str("component", "strategy").
		Str("symbol", symbol).
		Str("action", action).
		Float64("rsi", rsi).
		Msg("signal generated")

	if action == "HOLD" {
		return nil, rec, nil
	}
	return &types.Signal{
		Symbol:     symbol,
		Side:       action,
		OptionType: info.OptionType,
		Price:      last,
		Confidence: 90,
		Time:       time.Now(),
	}, rec, nil
}

// RecordInbound persists a signal that arrived from an external source
// together with its verification outcome.
func (s *Service) RecordInbound(sig types.Signal, source, mode string, verifyScore float64, action string) error {
	info := AnalyzeSymbol(sig.Symbol)
	return s.db.CreateSignal(&SignalRecord{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		OptionType:  info.OptionType,
		BaseSymbol:  info.BaseSymbol,
		Price:       sig.Price,
		Action:      action,
		Source:      source,
		VerifyScore: verifyScore,
		Mode:        mode,
	})
}
