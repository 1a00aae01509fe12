package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aurax/trading-engine/internal/contracts"
	"github.com/aurax/trading-engine/internal/market"
	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/risk"
	"github.com/aurax/trading-engine/internal/trading"
	"github.com/aurax/trading-engine/internal/types"
	"github.com/aurax/trading-engine/internal/verifier"
	"github.com/aurax/trading-engine/pkg/metrics"
)

// AccountID is the synthetic account all executor trades book under.
const AccountID = "auto-executor"

// Skip reasons returned by an evaluation pass.
const (
	skipNoPrice      = "no_index_price"
	skipNoTrend      = "no_trend_info"
	skipCooldown     = "cooldown"
	skipLowScore     = "low_score"
	skipNoContract   = "contract_not_found"
	skipLowCapital   = "low_capital"
	skipZeroQty      = "qty_zero"
	skipWideSpread   = "spread_too_high"
	skipOpenTradeCap = "too_many_open_trades"
	skipBrokerReject = "broker_rejected"
	skipSystemPaused = "system_paused"
)

// Config holds the executor's tunables.
type Config struct {
	Indices        []string
	PollInterval   time.Duration
	MinVerifyScore float64
	MaxOpenTrades  int64
	MinCapital     float64
	Cooldown       time.Duration
	MaxSpread      float64
}

// DefaultConfig returns the production loop settings.
func DefaultConfig() Config {
	return Config{
		Indices:        []string{"NIFTY", "BANKNIFTY"},
		PollInterval:   15 * time.Second,
		MinVerifyScore: 0.75,
		MaxOpenTrades:  3,
		MinCapital:     10000,
		Cooldown:       8 * time.Second,
		MaxSpread:      5.0,
	}
}

// Executor watches the index symbols, derives the at-the-money weekly
// option in the trend direction, and submits verified BUY entries
// through the trading pipeline. One evaluation per index per tick.
type Executor struct {
	cfg       Config
	provider  market.Provider
	verifier  *verifier.Verifier
	trading   *trading.Service
	contracts *contracts.Service
	risk      *risk.Manager
	notifier  *notify.Notifier
	metrics   *metrics.Recorder

	mu           sync.Mutex
	lastExecuted map[string]time.Time
	now          func() time.Time
}

// New creates an executor with the given loop settings.
func New(cfg Config, provider market.Provider, v *verifier.Verifier, tradingSvc *trading.Service,
	contractSvc *contracts.Service, rm *risk.Manager, notifier *notify.Notifier, rec *metrics.Recorder) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if len(cfg.Indices) == 0 {
		cfg.Indices = DefaultConfig().Indices
	}
	return &Executor{
		cfg:          cfg,
		provider:     provider,
		verifier:     v,
		trading:      tradingSvc,
		contracts:    contractSvc,
		risk:         rm,
		notifier:     notifier,
		metrics:      rec,
		lastExecuted: make(map[string]time.Time),
		now:          time.Now,
	}
}

// WithClock overrides the executor's time source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Start begins the ATM evaluation loop
func (e *Executor) Start(ctx context.Context) {
	logger := log.With().Str("component", "atm_executor").Logger()
	logger.Info().Strs("indices", e.cfg.Indices).Dur("interval", e.cfg.PollInterval).Msg("starting atm executor")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down atm executor")
			return
		case <-ticker.C:
			start := e.now()
			for _, index := range e.cfg.Indices {
				e.evaluateIndex(ctx, index)
			}
			e.metrics.CycleDuration("atm_executor", time.Since(start).Seconds())
		}
	}
}

// evaluateIndex runs one pass for one index. A panic or error in one
// index never stops the others.
func (e *Executor) evaluateIndex(ctx context.Context, index string) {
	logger := log.With().Str("component", "atm_executor").Str("index", index).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("index evaluation panicked")
			e.notifier.NotifySystemAlert(notify.LevelError, "ATM Executor Error", fmt.Sprintf("%s: %v", index, r))
		}
	}()

	reason, trade, err := e.Evaluate(ctx, index)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("index evaluation failed")
		e.notifier.NotifySystemAlert(notify.LevelError, "ATM Executor Error", fmt.Sprintf("%s: %v", index, err))
	case trade != nil:
		logger.Info().Str("symbol", trade.Symbol).Int("quantity", trade.Quantity).Msg("atm trade executed")
	case reason != "" && reason != skipCooldown && reason != skipNoPrice:
		logger.Debug().Str("reason", reason).Msg("atm evaluation skipped")
	}
}

// Evaluate derives, verifies and gates the ATM option trade for one
// index. Returns a skip reason when no trade is placed.
func (e *Executor) Evaluate(ctx context.Context, index string) (string, *types.Trade, error) {
	indexSnap := e.provider.Snapshot(ctx, index)
	if indexSnap.Index.Price == nil || *indexSnap.Index.Price <= 0 {
		return skipNoPrice, nil, nil
	}
	indexPrice := *indexSnap.Index.Price

	optionType, ok := trendOptionType(indexSnap.Index)
	if !ok {
		return skipNoTrend, nil, nil
	}

	symbol := ATMOptionSymbol(index, indexPrice, optionType, 0, e.now())
	if e.onCooldown(symbol) {
		return skipCooldown, nil, nil
	}

	optionSnap := e.provider.Snapshot(ctx, symbol)
	merged := indexSnap.Merge(optionSnap)

	aiScore := 0.9
	sig := types.Signal{
		Symbol:     symbol,
		Side:       types.SideBuy,
		OptionType: optionType,
		Price:      indexPrice,
		Confidence: 95,
		AIScore:    &aiScore,
		Time:       e.now(),
	}
	verification := e.verifier.Verify(ctx, sig, &merged)
	e.metrics.SignalVerified(verification.Action)
	if verification.Action != verifier.ActionExecute && verification.Score < e.cfg.MinVerifyScore {
		return skipLowScore, nil, nil
	}

	info, err := e.contracts.Lookup(symbol)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			return skipNoContract, nil, nil
		}
		return "", nil, err
	}

	entry := indexPrice
	if optionSnap.Option.LTP != nil && *optionSnap.Option.LTP > 0 {
		entry = *optionSnap.Option.LTP
	}
	stoploss, target := optionLevels(entry)

	capital := e.cfg.MinCapital
	if user, err := e.trading.GetDB().GetUser(AccountID); err == nil && user != nil && user.Capital > 0 {
		capital = user.Capital
	}
	if capital < e.cfg.MinCapital {
		return skipLowCapital, nil, nil
	}

	qty := e.risk.SizePosition(capital, entry, stoploss)
	if qty <= 0 {
		return skipZeroQty, nil, nil
	}

	if optionSnap.Option.Ask != nil && optionSnap.Option.Bid != nil {
		if spread := *optionSnap.Option.Ask - *optionSnap.Option.Bid; spread > e.cfg.MaxSpread {
			return skipWideSpread, nil, nil
		}
	}

	open, err := e.trading.GetDB().OpenTradeCount(AccountID)
	if err != nil {
		return "", nil, err
	}
	if open >= e.cfg.MaxOpenTrades {
		return skipOpenTradeCap, nil, nil
	}

	trade, err := e.trading.Submit(ctx, trading.SubmitRequest{
		AccountID:   AccountID,
		Symbol:      symbol,
		Exchange:    info.Exchange,
		Token:       info.Token,
		Side:        types.SideBuy,
		Quantity:    qty,
		EntryPrice:  entry,
		Stoploss:    stoploss,
		Target:      target,
		ATR:         0,
		Confidence:  math.Round(verification.Score * 100),
		VerifyScore: verification.Score,
	})
	if err != nil {
		if errors.Is(err, trading.ErrPaused) {
			return skipSystemPaused, nil, nil
		}
		return "", nil, err
	}
	if trade == nil {
		return skipBrokerReject, nil, nil
	}

	e.setCooldown(symbol)
	return "", trade, nil
}

// trendOptionType picks CE or PE from the index snapshot: EMA crossover
// first, Heikin-Ashi color as the fallback.
func trendOptionType(idx market.IndexSnapshot) (string, bool) {
	if idx.EMA20 != nil && idx.EMA50 != nil {
		if *idx.EMA20 > *idx.EMA50 {
			return types.OptionCall, true
		}
		return types.OptionPut, true
	}
	if n := len(idx.HALast3); n > 0 {
		if idx.HALast3[n-1] == market.ColorGreen {
			return types.OptionCall, true
		}
		return types.OptionPut, true
	}
	return "", false
}

// optionLevels derives the fixed-percent stop and target for a long
// option entry: risk 10% of the premium for 20%. Puts are bought
// premium just like calls, so the levels sit the same way around and
// the stoploss is always below the entry.
func optionLevels(entry float64) (stoploss, target float64) {
	return round2(entry * 0.90), round2(entry * 1.20)
}

func (e *Executor) onCooldown(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastExecuted[symbol]
	return ok && e.now().Sub(last) < e.cfg.Cooldown
}

func (e *Executor) setCooldown(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastExecuted[symbol] = e.now()
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
