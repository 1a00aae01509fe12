package guard

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aurax/trading-engine/internal/notify"
	"github.com/aurax/trading-engine/internal/system"
	"github.com/aurax/trading-engine/internal/trading"
	"github.com/aurax/trading-engine/pkg/metrics"
)

// Pause reasons written to the pause record.
const (
	ReasonHardStop = "HARD_STOP"
	ReasonSoftStop = "SOFT_STOP"
)

const pausedBy = "guard"

// Config holds the circuit breaker's built-in limits. Database
// overrides take precedence per cycle.
type Config struct {
	Interval       time.Duration
	SoftPct        float64
	HardPct        float64
	MinTrades      int64
	AutoResume     time.Duration // 0 disables timed resume
	DefaultCapital float64
}

// DefaultConfig returns the production guard limits.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		SoftPct:        0.03,
		HardPct:        0.05,
		MinTrades:      1,
		AutoResume:     0,
		DefaultCapital: 100000,
	}
}

// Guard is the daily-loss circuit breaker: it recomputes each
// account's intraday realized P&L every cycle and pauses the whole
// system on the first breach. It is the single writer of the paused
// state.
type Guard struct {
	cfg      Config
	db       *trading.Database
	system   *system.Service
	notifier *notify.Notifier
	metrics  *metrics.Recorder
	now      func() time.Time
}

// New creates a guard with the given limits.
func New(cfg Config, db *trading.Database, sys *system.Service, notifier *notify.Notifier, rec *metrics.Recorder) *Guard {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Guard{
		cfg:      cfg,
		db:       db,
		system:   sys,
		notifier: notifier,
		metrics:  rec,
		now:      time.Now,
	}
}

// WithClock overrides the guard's time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Start begins the circuit breaker loop
func (g *Guard) Start(ctx context.Context) {
	logger := log.With().Str("component", "guard").Logger()
	logger.Info().Dur("interval", g.cfg.Interval).Msg("starting guard")

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down guard")
			return
		case <-ticker.C:
			start := g.now()
			if err := g.RunCycle(); err != nil {
				logger.Error().Err(err).Msg("guard cycle failed")
				g.notifier.NotifySystemAlert(notify.LevelError, "Guard Cycle Error", err.Error())
			}
			g.metrics.CycleDuration("guard", time.Since(start).Seconds())
		}
	}
}

// RunCycle evaluates one guard pass: resume handling while paused,
// otherwise per-account limit checks. First breach pauses the system
// and ends the cycle.
func (g *Guard) RunCycle() error {
	cfg := g.effectiveConfig()

	mode, err := g.system.Mode()
	if err != nil {
		return err
	}
	if mode == system.ModePaused {
		return g.tryResume(cfg)
	}

	users, err := g.db.ListUsers()
	if err != nil {
		return err
	}

	for _, user := range users {
		capital := user.Capital
		if capital <= 0 {
			capital = cfg.DefaultCapital
		}

		pnl, count, err := g.db.TodayRealized(user.AccountID)
		if err != nil {
			return err
		}
		g.metrics.RealizedPnL(user.AccountID, pnl)

		if count < cfg.MinTrades {
			continue
		}

		softLimit := -math.Abs(capital * cfg.SoftPct)
		hardLimit := -math.Abs(capital * cfg.HardPct)

		var reason string
		var limit float64
		switch {
		case pnl <= hardLimit:
			reason, limit = ReasonHardStop, hardLimit
		case pnl <= softLimit:
			reason, limit = ReasonSoftStop, softLimit
		default:
			continue
		}

		if err := g.pause(reason, user.AccountID, pnl, limit); err != nil {
			return err
		}
		// first breach wins, stop evaluating further accounts
		return nil
	}
	return nil
}

// effectiveConfig overlays stored overrides onto the built-in limits.
func (g *Guard) effectiveConfig() Config {
	cfg := g.cfg
	ov, err := g.system.Overrides()
	if err != nil || ov == nil {
		return cfg
	}
	if ov.SoftPct > 0 {
		cfg.SoftPct = ov.SoftPct
	}
	if ov.HardPct > 0 {
		cfg.HardPct = ov.HardPct
	}
	if ov.MinTrades > 0 {
		cfg.MinTrades = int64(ov.MinTrades)
	}
	if ov.AutoResumeSec > 0 {
		cfg.AutoResume = time.Duration(ov.AutoResumeSec) * time.Second
	}
	return cfg
}

func (g *Guard) pause(reason, accountID string, pnl, limit float64) error {
	paused, err := g.system.Pause(system.PausedInfo{
		Reason:    reason,
		By:        pausedBy,
		AccountID: accountID,
		PnL:       pnl,
		Limit:     limit,
		PausedAt:  g.now(),
	})
	if err != nil {
		return err
	}
	if !paused {
		return nil
	}

	g.metrics.GuardPaused(reason, true)
	g.notifier.NotifySystemAlert(notify.LevelCritical, "Guard: System Paused",
		fmt.Sprintf("reason=%s account=%s pnl=%.2f limit=%.2f", reason, accountID, pnl, limit))
	log.Warn().
		Str("component", "guard").
		Str("reason", reason).
		Str("account", accountID).
		Float64("pnl", pnl).
		Float64("limit", limit).
		Msg("system paused")
	return nil
}

// tryResume lifts the pause when the timed resume window has elapsed
// or an admin set the force-resume flag. Otherwise the system stays
// paused and accounts are not evaluated this cycle.
func (g *Guard) tryResume(cfg Config) error {
	info, err := g.system.PausedInfo()
	if err != nil {
		return err
	}

	if cfg.AutoResume > 0 && info != nil && g.now().Sub(info.PausedAt) >= cfg.AutoResume {
		return g.resume(info.Reason, "Guard: Auto-resume",
			fmt.Sprintf("resumed after %s pause window", cfg.AutoResume))
	}

	forced, err := g.system.ForceResumeRequested()
	if err != nil {
		return err
	}
	if forced {
		reason := ""
		if info != nil {
			reason = info.Reason
		}
		return g.resume(reason, "Guard: Admin Resume", "force-resume flag observed")
	}
	return nil
}

func (g *Guard) resume(reason, title, detail string) error {
	if err := g.system.Resume(); err != nil {
		return err
	}
	if reason != "" {
		g.metrics.GuardPaused(reason, false)
	}
	g.notifier.NotifySystemAlert(notify.LevelInfo, title, detail)
	log.Info().Str("component", "guard").Msg("trading resumed")
	return nil
}
