package watcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aurax/trading-engine/internal/broker"
	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/trading"
	"github.com/aurax/trading-engine/internal/types"
	"github.com/aurax/trading-engine/pkg/metrics"
)

// Config holds the watcher's tunables.
type Config struct {
	Interval        time.Duration
	TrailTriggerPct float64 // favorable move beyond entry before trailing starts
	TrailBufferPct  float64 // stop distance from the current price while trailing
}

// DefaultConfig returns the production watcher settings.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		TrailTriggerPct: 0.002,
		TrailBufferPct:  0.003,
	}
}

// Watcher monitors open trades: it fetches live prices, tightens
// trailing stops and records exits. Terminal statuses are never
// re-evaluated.
type Watcher struct {
	cfg      Config
	db       *trading.Database
	prices   broker.PriceSource
	notifier *notify.Notifier
	metrics  *metrics.Recorder
	now      func() time.Time
}

// New creates a trade watcher.
func New(cfg Config, db *trading.Database, prices broker.PriceSource, notifier *notify.Notifier, rec *metrics.Recorder) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.TrailTriggerPct <= 0 {
		cfg.TrailTriggerPct = DefaultConfig().TrailTriggerPct
	}
	if cfg.TrailBufferPct <= 0 {
		cfg.TrailBufferPct = DefaultConfig().TrailBufferPct
	}
	return &Watcher{
		cfg:      cfg,
		db:       db,
		prices:   prices,
		notifier: notifier,
		metrics:  rec,
		now:      time.Now,
	}
}

// WithClock overrides the watcher's time source.
func (w *Watcher) WithClock(now func() time.Time) *Watcher {
	w.now = now
	return w
}

// Start begins the open-trade monitoring loop
func (w *Watcher) Start(ctx context.Context) {
	logger := log.With().Str("component", "trade_watcher").Logger()
	logger.Info().Dur("interval", w.cfg.Interval).Msg("starting trade watcher")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down trade watcher")
			return
		case <-ticker.C:
			start := w.now()
			if err := w.RunCycle(ctx); err != nil {
				logger.Error().Err(err).Msg("watcher cycle failed")
				w.notifier.NotifySystemAlert(notify.LevelCritical, "TradeWatcher Error", err.Error())
			}
			w.metrics.CycleDuration("trade_watcher", time.Since(start).Seconds())
		}
	}
}

// RunCycle evaluates every open trade once. A price-fetch failure
// skips that trade only; the cycle continues.
func (w *Watcher) RunCycle(ctx context.Context) error {
	trades, err := w.db.OpenTrades()
	if err != nil {
		return err
	}
	w.metrics.OpenTrades(len(trades))

	for i := range trades {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.evaluateTrade(ctx, &trades[i])
	}
	return nil
}

func (w *Watcher) evaluateTrade(ctx context.Context, trade *types.Trade) {
	logger := log.With().Str("component", "trade_watcher").Str("symbol", trade.Symbol).Uint("trade_id", trade.ID).Logger()

	price, err := w.prices.LTP(ctx, trade.Symbol)
	if err != nil || price <= 0 {
		logger.Warn().Err(err).Msg("live price unavailable, skipping")
		return
	}

	pnl := tradePnL(trade, price)
	logger.Debug().Float64("price", price).Float64("pnl", pnl).Msg("open trade checked")

	// trailing: tighten only, and only after the trigger move
	if newSL, ok := w.trailedStop(trade, price); ok {
		if err := w.db.UpdateTrailingStop(trade.ID, newSL); err != nil {
			logger.Error().Err(err).Msg("failed to update trailing stop")
		} else {
			trade.Stoploss = newSL
			logger.Info().Float64("stoploss", newSL).Msg("trailing stop tightened")
		}
	}

	status := exitStatus(trade, price)
	if status == "" {
		return
	}

	if err := w.db.MarkExit(trade.ID, status, price, pnl, w.now()); err != nil {
		logger.Error().Err(err).Str("exit", status).Msg("failed to record exit")
		return
	}

	w.metrics.TradeClosed(status)
	w.notifier.NotifyTrade(trade.Symbol,
		fmt.Sprintf("%s EXIT (%s)", trade.Side, status),
		price, trade.Target, trade.Stoploss, 100, trade.OrderID, 0)
	logger.Info().
		Str("exit", status).
		Float64("price", price).
		Float64("pnl", pnl).
		Msg("trade exited")
}

// trailedStop computes the tightened stop for a favorable move.
// Returns false while the move is below the trigger or when the new
// stop would not improve on the current one.
func (w *Watcher) trailedStop(trade *types.Trade, price float64) (float64, bool) {
	entry := trade.EntryPrice
	if trade.Side == types.SideBuy {
		if price <= entry+entry*w.cfg.TrailTriggerPct {
			return 0, false
		}
		newSL := math.Max(trade.Stoploss, price-price*w.cfg.TrailBufferPct)
		if newSL > trade.Stoploss {
			return round2(newSL), true
		}
		return 0, false
	}

	if price >= entry-entry*w.cfg.TrailTriggerPct {
		return 0, false
	}
	newSL := math.Min(trade.Stoploss, price+price*w.cfg.TrailBufferPct)
	if newSL < trade.Stoploss {
		return round2(newSL), true
	}
	return 0, false
}

// exitStatus reports the terminal status a price hit implies, or ""
// while the trade stays open.
func exitStatus(trade *types.Trade, price float64) string {
	if trade.Side == types.SideBuy {
		switch {
		case price <= trade.Stoploss:
			return types.TradeStatusStoploss
		case price >= trade.Target:
			return types.TradeStatusTarget
		}
		return ""
	}
	switch {
	case price >= trade.Stoploss:
		return types.TradeStatusStoploss
	case price <= trade.Target:
		return types.TradeStatusTarget
	}
	return ""
}

// tradePnL is the realized P&L at the given price.
func tradePnL(trade *types.Trade, price float64) float64 {
	qty := float64(trade.Quantity)
	if trade.Side == types.SideBuy {
		return round2((price - trade.EntryPrice) * qty)
	}
	return round2((trade.EntryPrice - price) * qty)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
